package coordinator

import (
	"fmt"
	"time"

	"github.com/obytehq/walletsrv/pkg/wallet"
)

// NotificationQuery narrows a notification read.
type NotificationQuery struct {
	// TimeSpan is how far back to look; defaults to the configured
	// window and is capped at the configured maximum.
	TimeSpan time.Duration
	// AfterID restricts the result to notifications strictly after the
	// given notification id.
	AfterID string
}

// GetNotifications reads the wallet's notification log in id order.
func (s *Service) GetNotifications(auth *Auth, q NotificationQuery) ([]*wallet.Notification, error) {
	span := q.TimeSpan
	if span <= 0 {
		span = s.Config.NotificationsTimeSpan
	}
	if span > s.Config.MaxNotificationsTimeSpan {
		span = s.Config.MaxNotificationsTimeSpan
	}
	// Pagination is either time-based or strictly-after an id, not both.
	minTs := s.clock.Now().Add(-span).Unix()
	var afterSeq uint64
	if q.AfterID != "" {
		var tick uint64
		if _, err := fmt.Sscanf(q.AfterID, "%d-%d", &afterSeq, &tick); err == nil {
			minTs = 0
		} else {
			afterSeq = 0
		}
	}
	return s.dao.GetNotifications(auth.Wallet.ID, afterSeq, minTs)
}
