/*
Package broker implements the in-process notification fanout. The
coordination engine and the blockchain monitor publish wallet notifications
and new-address announcements here; REST long-poll handlers and the
monitor's watch loop subscribe. Each subscriber gets its own unbounded
order-preserving queue, so a slow consumer never blocks a publisher.
*/
package broker

import (
	"sync"

	"github.com/lightningnetwork/lnd/queue"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"go.uber.org/zap"
)

// Subscription is one consumer's view of the broker.
type Subscription struct {
	b  *Broker
	id uint64
	q  *queue.ConcurrentQueue
}

// Chan returns the subscriber's delivery channel.
func (s *Subscription) Chan() <-chan interface{} {
	return s.q.ChanOut()
}

// Cancel removes the subscription and drains its queue.
func (s *Subscription) Cancel() {
	s.b.mtx.Lock()
	delete(s.b.notifSubs, s.id)
	delete(s.b.addrSubs, s.id)
	s.b.mtx.Unlock()
	s.q.Stop()
}

// AddressAnnouncement is published whenever a wallet address is created, so
// the monitor can extend its hub watch set without polling storage.
type AddressAnnouncement struct {
	WalletID string
	Address  string
}

// Broker fans out notifications and address announcements.
type Broker struct {
	log *zap.Logger

	mtx       sync.Mutex
	nextID    uint64
	notifSubs map[uint64]*notifSub
	addrSubs  map[uint64]*Subscription
}

type notifSub struct {
	sub *Subscription
	// walletID filters deliveries; empty subscribes to every wallet.
	walletID string
}

// New creates a broker.
func New(log *zap.Logger) *Broker {
	return &Broker{
		log:       log,
		notifSubs: make(map[uint64]*notifSub),
		addrSubs:  make(map[uint64]*Subscription),
	}
}

// SubscribeNotifications subscribes to notifications of one wallet, or of
// all wallets when walletID is empty.
func (b *Broker) SubscribeNotifications(walletID string) *Subscription {
	sub := b.newSub()
	b.mtx.Lock()
	b.notifSubs[sub.id] = &notifSub{sub: sub, walletID: walletID}
	b.mtx.Unlock()
	return sub
}

// SubscribeAddresses subscribes to new-address announcements of all wallets.
func (b *Broker) SubscribeAddresses() *Subscription {
	sub := b.newSub()
	b.mtx.Lock()
	b.addrSubs[sub.id] = sub
	b.mtx.Unlock()
	return sub
}

func (b *Broker) newSub() *Subscription {
	q := queue.NewConcurrentQueue(16)
	q.Start()
	b.mtx.Lock()
	b.nextID++
	sub := &Subscription{b: b, id: b.nextID, q: q}
	b.mtx.Unlock()
	return sub
}

// PublishNotification delivers the notification to every matching
// subscriber in publish order.
func (b *Broker) PublishNotification(n *wallet.Notification) {
	b.mtx.Lock()
	for _, s := range b.notifSubs {
		if s.walletID == "" || s.walletID == n.WalletID {
			s.sub.q.ChanIn() <- n
		}
	}
	b.mtx.Unlock()
	b.log.Debug("notification published",
		zap.String("type", n.Type),
		zap.String("wallet", n.WalletID),
		zap.String("id", n.ID))
}

// PublishAddress announces a freshly derived address.
func (b *Broker) PublishAddress(walletID, address string) {
	ann := AddressAnnouncement{WalletID: walletID, Address: address}
	b.mtx.Lock()
	for _, s := range b.addrSubs {
		s.q.ChanIn() <- ann
	}
	b.mtx.Unlock()
}

// Shutdown cancels every live subscription.
func (b *Broker) Shutdown() {
	b.mtx.Lock()
	notif := b.notifSubs
	addr := b.addrSubs
	b.notifSubs = make(map[uint64]*notifSub)
	b.addrSubs = make(map[uint64]*Subscription)
	b.mtx.Unlock()
	for _, s := range notif {
		s.sub.q.Stop()
	}
	for _, s := range addr {
		s.q.Stop()
	}
}
