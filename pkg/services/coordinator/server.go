/*
Package coordinator implements the wallet coordination engine: wallet
formation, address derivation, transaction proposal lifecycle, the UTXO
reservation view, notifications and the supporting per-copayer records.

All state-mutating operations of a wallet run under that wallet's advisory
lock; read-only operations do not and may observe mid-transition states.
*/
package coordinator

import (
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/hub"
	"github.com/obytehq/walletsrv/pkg/lock"
	"github.com/obytehq/walletsrv/pkg/services/broker"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	balanceCacheSize = 1000
	eventDedupeSize  = 100000
)

// Service is the coordination engine. It is safe for concurrent use.
type Service struct {
	Config config.WalletConfiguration

	log    *zap.Logger
	dao    *storage.DAO
	expl   explorer.Client
	hub    hub.Client
	broker *broker.Broker
	locks  *lock.Manager
	clock  clock.Clock

	// ticker disambiguates same-sequence notification ids across
	// restarts within one process lifetime.
	ticker *atomic.Uint64

	balanceCache *lru.Cache
	// seen dedupes event-pipeline notifications over a time window.
	seen *lru.Cache
}

// Options groups the collaborators of a Service.
type Options struct {
	Config   config.WalletConfiguration
	Logger   *zap.Logger
	DAO      *storage.DAO
	Explorer explorer.Client
	Hub      hub.Client
	Broker   *broker.Broker
	Clock    clock.Clock
}

// New creates a coordination engine.
func New(opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = clock.NewDefaultClock()
	}
	cache, err := lru.New(balanceCacheSize)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New(eventDedupeSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		Config:       opts.Config,
		log:          opts.Logger,
		dao:          opts.DAO,
		expl:         opts.Explorer,
		hub:          opts.Hub,
		broker:       opts.Broker,
		locks:        lock.NewManager(opts.Clock),
		clock:        opts.Clock,
		ticker:       atomic.NewUint64(0),
		balanceCache: cache,
		seen:         seen,
	}, nil
}

// runLocked serialises a wallet-mutating operation through the wallet lock
// with the configured wait and hold budgets.
func (s *Service) runLocked(walletID string, fn func() error) error {
	return s.locks.RunLocked(walletID, lock.Options{
		Wait:    s.Config.LockWaitTime,
		MaxHold: s.Config.LockExeTime,
	}, fn)
}

// notify appends a notification to the wallet's log and fans it out. Callers
// must hold the wallet lock so that sequence numbers are handed out in
// commit order.
func (s *Service) notify(walletID, typ, creatorID string, data any) error {
	seq, err := s.dao.NextNotificationSeq(walletID)
	if err != nil {
		return fmt.Errorf("notification seq: %w", err)
	}
	var raw json.RawMessage
	if data != nil {
		if raw, err = json.Marshal(data); err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
	}
	tick := s.ticker.Inc() % 1000000
	n := &wallet.Notification{
		ID:        wallet.NotificationID(seq, tick),
		Seq:       seq,
		TickerID:  tick,
		Type:      typ,
		WalletID:  walletID,
		CreatorID: creatorID,
		Data:      raw,
		CreatedOn: s.clock.Now().Unix(),
	}
	if err := s.dao.PutNotification(n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	s.broker.PublishNotification(n)
	return nil
}

// DAO exposes the storage layer to sibling services (the monitor shares it).
func (s *Service) DAO() *storage.DAO {
	return s.dao
}
