package broker

import (
	"testing"
	"time"

	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func recvNotification(t *testing.T, sub *Subscription) *wallet.Notification {
	t.Helper()
	select {
	case v := <-sub.Chan():
		n, ok := v.(*wallet.Notification)
		require.True(t, ok)
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
		return nil
	}
}

func TestNotificationFanout(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Shutdown()

	all := b.SubscribeNotifications("")
	w1 := b.SubscribeNotifications("w1")
	w2 := b.SubscribeNotifications("w2")
	defer all.Cancel()
	defer w1.Cancel()
	defer w2.Cancel()

	b.PublishNotification(&wallet.Notification{ID: "a", WalletID: "w1", Type: wallet.NotificationNewCopayer})
	b.PublishNotification(&wallet.Notification{ID: "b", WalletID: "w2", Type: wallet.NotificationNewAddress})

	require.Equal(t, "a", recvNotification(t, all).ID)
	require.Equal(t, "b", recvNotification(t, all).ID)
	require.Equal(t, "a", recvNotification(t, w1).ID)
	require.Equal(t, "b", recvNotification(t, w2).ID)

	select {
	case v := <-w1.Chan():
		t.Fatalf("unexpected delivery to w1: %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Shutdown()

	sub := b.SubscribeNotifications("w1")
	defer sub.Cancel()

	const total = 100
	for i := 0; i < total; i++ {
		b.PublishNotification(&wallet.Notification{
			ID:       wallet.NotificationID(uint64(i), 0),
			WalletID: "w1",
		})
	}
	for i := 0; i < total; i++ {
		require.Equal(t, wallet.NotificationID(uint64(i), 0), recvNotification(t, sub).ID)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Shutdown()

	sub := b.SubscribeNotifications("w1")
	sub.Cancel()

	// Publishing after cancel must not block or panic.
	b.PublishNotification(&wallet.Notification{ID: "a", WalletID: "w1"})
}

func TestAddressAnnouncements(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	defer b.Shutdown()

	sub := b.SubscribeAddresses()
	defer sub.Cancel()

	b.PublishAddress("w1", "ADDRONE")
	select {
	case v := <-sub.Chan():
		ann, ok := v.(AddressAnnouncement)
		require.True(t, ok)
		require.Equal(t, "w1", ann.WalletID)
		require.Equal(t, "ADDRONE", ann.Address)
	case <-time.After(time.Second):
		t.Fatal("no announcement delivered")
	}
}
