package wallet

import ojson "github.com/nspcc-dev/go-ordered-json"

// Address is one derived wallet address. Addresses are created on demand or
// during scans and are never deleted except together with the wallet.
type Address struct {
	Address     string `json:"address"`
	WalletID    string `json:"walletId"`
	IsChange    bool   `json:"isChange"`
	Index       uint32 `json:"index"`
	Path        string `json:"path"`
	AddressType string `json:"addressType"`
	// Definition is the fully substituted multisig definition the
	// address hash derives from.
	Definition ojson.RawMessage `json:"definition"`
	// SigningPaths maps participating public keys to their signing path
	// within the definition.
	SigningPaths map[string]string `json:"signingPaths"`
	// HasActivity is sticky: once on-chain activity was observed for the
	// address it never reverts.
	HasActivity bool  `json:"hasActivity"`
	CreatedOn   int64 `json:"createdOn"`
}
