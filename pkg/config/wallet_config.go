package config

import "time"

// WalletConfiguration holds the wallet engine parameters. Zero values are
// replaced with defaults by DefaultWalletConfiguration before unmarshalling,
// so a partial YAML section keeps the remaining defaults.
type WalletConfiguration struct {
	// MaxKeys caps the request-public-key history kept per copayer.
	MaxKeys int `yaml:"MaxKeys"`
	// DeleteLockTime is the cooldown applied to proposal removal once
	// another copayer has acted on it.
	DeleteLockTime time.Duration `yaml:"DeleteLockTime"`
	// BackoffOffset is the number of trailing consecutive rejections
	// after which new proposal creation is throttled.
	BackoffOffset int `yaml:"BackoffOffset"`
	// BackoffTime is the cooldown armed by the backoff governor.
	BackoffTime time.Duration `yaml:"BackoffTime"`
	// MaxMainAddressGap is the number of consecutive unused receive
	// addresses after which createAddress refuses to advance.
	MaxMainAddressGap int `yaml:"MaxMainAddressGap"`
	// ScanAddressGap is the stop condition of the address scan. It must
	// exceed MaxMainAddressGap or scans would miss usable addresses.
	ScanAddressGap int `yaml:"ScanAddressGap"`
	// SessionExpiration is the sliding inactivity window of a session.
	SessionExpiration time.Duration `yaml:"SessionExpiration"`
	// HistoryLimit caps a single tx-history page.
	HistoryLimit int `yaml:"HistoryLimit"`
	// BalanceCacheDuration is how long explorer balances are reused.
	BalanceCacheDuration time.Duration `yaml:"BalanceCacheDuration"`
	// MaxNotificationsTimeSpan caps the notification query window.
	MaxNotificationsTimeSpan time.Duration `yaml:"MaxNotificationsTimeSpan"`
	// NotificationsTimeSpan is the default notification query window.
	NotificationsTimeSpan time.Duration `yaml:"NotificationsTimeSpan"`
	// LockWaitTime is how long a caller waits for the wallet lock.
	LockWaitTime time.Duration `yaml:"LockWaitTime"`
	// LockExeTime is the auto-expiry of a held wallet lock.
	LockExeTime time.Duration `yaml:"LockExeTime"`
	// MinClientVersion is the minimum supported client version; older
	// clients get UPGRADE_NEEDED.
	MinClientVersion string `yaml:"MinClientVersion"`
}

// Defaults for WalletConfiguration.
const (
	DefaultMaxKeys                  = 100
	DefaultDeleteLockTime           = 600 * time.Second
	DefaultBackoffOffset            = 10
	DefaultBackoffTime              = 600 * time.Second
	DefaultMaxMainAddressGap        = 20
	DefaultSessionExpiration        = time.Hour
	DefaultHistoryLimit             = 2000
	DefaultBalanceCacheDuration     = 10 * time.Second
	DefaultMaxNotificationsTimeSpan = 14 * 24 * time.Hour
	DefaultNotificationsTimeSpan    = 60 * time.Second
	DefaultLockWaitTime             = 5 * time.Second
	DefaultLockExeTime              = 40 * time.Second
)

// DefaultWalletConfiguration returns a WalletConfiguration with every option
// set to its default.
func DefaultWalletConfiguration() WalletConfiguration {
	return WalletConfiguration{
		MaxKeys:                  DefaultMaxKeys,
		DeleteLockTime:           DefaultDeleteLockTime,
		BackoffOffset:            DefaultBackoffOffset,
		BackoffTime:              DefaultBackoffTime,
		MaxMainAddressGap:        DefaultMaxMainAddressGap,
		ScanAddressGap:           DefaultMaxMainAddressGap + 10,
		SessionExpiration:        DefaultSessionExpiration,
		HistoryLimit:             DefaultHistoryLimit,
		BalanceCacheDuration:     DefaultBalanceCacheDuration,
		MaxNotificationsTimeSpan: DefaultMaxNotificationsTimeSpan,
		NotificationsTimeSpan:    DefaultNotificationsTimeSpan,
		LockWaitTime:             DefaultLockWaitTime,
		LockExeTime:              DefaultLockExeTime,
	}
}

// ServerExeTime is the server-side task wrap budget derived from the lock
// hold time.
func (w WalletConfiguration) ServerExeTime() time.Duration {
	return w.LockExeTime + w.LockExeTime/2
}
