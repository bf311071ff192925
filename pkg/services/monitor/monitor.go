/*
Package monitor implements the blockchain-event pipeline: it consumes the
hub's event feed, drives ledger-observed proposal transitions and incoming
transaction notifications through the coordination engine, keeps the hub's
address watch set current and synchronises asset metadata published by
trusted registries.
*/
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/hub"
	"github.com/obytehq/walletsrv/pkg/services/broker"
	"github.com/obytehq/walletsrv/pkg/services/coordinator"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Service is the blockchain monitor.
type Service struct {
	cfg    config.Monitor
	log    *zap.Logger
	engine *coordinator.Service
	hub    hub.Client
	expl   explorer.Client
	broker *broker.Broker

	started *atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a monitor.
func New(cfg config.Monitor, log *zap.Logger, engine *coordinator.Service,
	hubClient hub.Client, expl explorer.Client, b *broker.Broker) *Service {
	return &Service{
		cfg:     cfg,
		log:     log,
		engine:  engine,
		hub:     hubClient,
		expl:    expl,
		broker:  b,
		started: atomic.NewBool(false),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns service name.
func (s *Service) Name() string {
	return "monitor"
}

// Start runs the event loop in a separate goroutine. The service only
// starts once, subsequent calls are no-op.
func (s *Service) Start() {
	if !s.started.CAS(false, true) {
		return
	}
	s.log.Info("starting blockchain monitor")
	go s.run()
}

// Shutdown stops the monitor. It can only be called once.
func (s *Service) Shutdown() {
	if !s.started.CAS(true, false) {
		return
	}
	s.log.Info("stopping blockchain monitor")
	close(s.stopCh)
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)

	if len(s.cfg.AssetRegistries) > 0 {
		if err := s.syncAssets(context.Background()); err != nil {
			s.log.Warn("asset metadata sync failed", zap.Error(err))
		}
	}

	addrSub := s.broker.SubscribeAddresses()
	defer addrSub.Cancel()

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.hub.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		case v, ok := <-addrSub.Chan():
			if !ok {
				return
			}
			ann := v.(broker.AddressAnnouncement)
			if err := s.hub.WatchAddress(context.Background(), ann.Address); err != nil {
				s.log.Warn("watch address failed",
					zap.String("address", ann.Address),
					zap.Error(err))
			}
		}
	}
}

func (s *Service) handleEvent(ev hub.Event) {
	var err error
	switch ev.Subject {
	case hub.EventNewJoint:
		err = s.engine.ProcessNewJoint(ev.Joint)
	case hub.EventStableTxs, hub.EventMCIStable:
		err = s.engine.ProcessStableUnits(ev.Units)
	default:
		return
	}
	if err != nil {
		s.log.Warn("event processing failed",
			zap.String("subject", ev.Subject),
			zap.Error(err))
	}
}

// assetMetadata is the payload shape of a registry's asset-metadata unit.
type assetMetadata struct {
	Asset    string `json:"asset"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// syncAssets reads each trusted registry's published history and upserts
// asset metadata. A name already claimed by another registry is tagged with
// the registry name instead of clobbering the existing record.
func (s *Service) syncAssets(ctx context.Context) error {
	dao := s.engine.DAO()
	known, err := dao.GetAssets()
	if err != nil {
		return err
	}
	names := make(map[string]string, len(known))
	for _, a := range known {
		names[a.Name] = a.Asset
	}
	for _, reg := range s.cfg.AssetRegistries {
		rows, err := s.expl.GetTxHistory(ctx, []string{reg.Address}, explorer.HistoryOptions{})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Payload == "" {
				continue
			}
			var meta assetMetadata
			if err := json.Unmarshal([]byte(row.Payload), &meta); err != nil || meta.Asset == "" || meta.Name == "" {
				continue
			}
			if owner, taken := names[meta.Name]; taken && owner != meta.Asset {
				meta.Name = meta.Name + "." + reg.Name
			}
			if _, err := dao.GetAsset(meta.Asset); err == nil {
				continue
			}
			if err := s.upsert(reg.Name, row.Unit, meta); err != nil {
				return err
			}
			names[meta.Name] = meta.Asset
		}
	}
	return nil
}

func (s *Service) upsert(registry, unit string, meta assetMetadata) error {
	s.log.Debug("asset metadata registered",
		zap.String("asset", meta.Asset),
		zap.String("name", meta.Name),
		zap.String("registry", registry))
	return s.engine.DAO().PutAsset(&wallet.Asset{
		Asset:        meta.Asset,
		Name:         meta.Name,
		Decimals:     meta.Decimals,
		Registry:     registry,
		MetadataUnit: unit,
		CreatedOn:    time.Now().Unix(),
	})
}
