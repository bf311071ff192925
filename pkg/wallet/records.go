package wallet

import "time"

// Session is a per-copayer authentication session with a sliding expiration
// window.
type Session struct {
	ID         string `json:"id"`
	CopayerID  string `json:"copayerId"`
	WalletID   string `json:"walletId"`
	CreatedOn  int64  `json:"createdOn"`
	UpdatedOn  int64  `json:"updatedOn"`
	Expiration int64  `json:"expiration"`
}

// IsValid reports whether the session has not yet expired at now.
func (s *Session) IsValid(now time.Time) bool {
	return now.Unix() < s.UpdatedOn+s.Expiration
}

// Touch slides the expiration window.
func (s *Session) Touch(now time.Time) {
	s.UpdatedOn = now.Unix()
}

// TxNote is a shared free-text note attached to a transaction.
type TxNote struct {
	WalletID  string `json:"walletId"`
	TxID      string `json:"txid"`
	Body      string `json:"body"`
	EditedBy  string `json:"editedBy"`
	EditedOn  int64  `json:"editedOn"`
	CreatedOn int64  `json:"createdOn"`
}

// Preferences are per-copayer settings.
type Preferences struct {
	WalletID  string `json:"walletId"`
	CopayerID string `json:"copayerId"`
	Email     string `json:"email,omitempty"`
	Language  string `json:"language,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// PushSubscription registers a device token for push delivery.
type PushSubscription struct {
	CopayerID   string `json:"copayerId"`
	Token       string `json:"token"`
	PackageName string `json:"packageName,omitempty"`
	Platform    string `json:"platform,omitempty"`
	CreatedOn   int64  `json:"createdOn"`
}

// TxConfirmationSub is a single-shot subscription to the stabilisation of
// one transaction.
type TxConfirmationSub struct {
	CopayerID string `json:"copayerId"`
	WalletID  string `json:"walletId"`
	TxID      string `json:"txid"`
	IsActive  bool   `json:"isActive"`
	CreatedOn int64  `json:"createdOn"`
}

// Asset is metadata of a ledger asset published by a trusted registry.
type Asset struct {
	Asset     string `json:"asset"`
	Name      string `json:"name"`
	ShortName string `json:"shortName,omitempty"`
	Decimals  int    `json:"decimals"`
	Registry  string `json:"registry"`
	// MetadataUnit is the unit the metadata was published in.
	MetadataUnit string `json:"metadataUnit"`
	CreatedOn    int64  `json:"createdOn"`
}

// FiatRate is one scraped exchange-rate point.
type FiatRate struct {
	Provider string  `json:"provider"`
	Code     string  `json:"code"`
	Value    float64 `json:"value"`
	// FetchedOn is the scrape timestamp in unix seconds.
	FetchedOn int64 `json:"fetchedOn"`
}
