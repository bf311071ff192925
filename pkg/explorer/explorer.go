/*
Package explorer defines the ledger-explorer client: the read-authoritative
source for UTXOs, balances, history and address activity. The coordination
engine never keeps a persistent UTXO table; it always reconstructs its
reservation view from explorer responses.
*/
package explorer

import "context"

// UTXO is one unspent output as reported by the explorer.
type UTXO struct {
	Unit         string `json:"unit"`
	MessageIndex int    `json:"message_index"`
	OutputIndex  int    `json:"output_index"`
	Address      string `json:"address"`
	Amount       int64  `json:"amount"`
	Asset        string `json:"asset,omitempty"`
	Denomination int    `json:"denomination,omitempty"`
	Stable       bool   `json:"stable"`
	Time         int64  `json:"time"`
}

// Balance is the aggregate of one asset over a set of addresses.
type Balance struct {
	Stable              int64 `json:"stable"`
	Pending             int64 `json:"pending"`
	StableOutputsCount  int   `json:"stable_outputs_count"`
	PendingOutputsCount int   `json:"pending_outputs_count"`
}

// HistoryOptions narrows a history query.
type HistoryOptions struct {
	Asset     string
	Limit     int
	LastRowID int64
	SinceMCI  uint64
	Unit      string
}

// HistoryItem is one row of a transaction history.
type HistoryItem struct {
	RowID     int64  `json:"rowid"`
	Unit      string `json:"unit"`
	Action    string `json:"action"`
	Amount    int64  `json:"amount"`
	Address   string `json:"address"`
	Asset     string `json:"asset,omitempty"`
	Stable    bool   `json:"stable"`
	MCI       uint64 `json:"mci,omitempty"`
	Time      int64  `json:"time"`
	Payload   string `json:"payload,omitempty"`
}

// TxRecord is the explorer's view of one unit.
type TxRecord struct {
	Unit   string `json:"unit"`
	Stable bool   `json:"stable"`
	MCI    uint64 `json:"mci,omitempty"`
	Time   int64  `json:"time"`
	Raw    []byte `json:"raw,omitempty"`
}

// Client is the interface to the ledger explorer.
type Client interface {
	// GetUtxos returns live unspent outputs of the given addresses,
	// optionally filtered by asset ("base" or empty for the native
	// coin).
	GetUtxos(ctx context.Context, addresses []string, asset string) ([]UTXO, error)
	// GetBalance aggregates balances per asset over the addresses.
	GetBalance(ctx context.Context, addresses []string, asset string) (map[string]Balance, error)
	// GetTxHistory pages through the addresses' history.
	GetTxHistory(ctx context.Context, addresses []string, opts HistoryOptions) ([]HistoryItem, error)
	// GetAddressActivity reports whether the address ever appeared
	// on-chain.
	GetAddressActivity(ctx context.Context, address string) (bool, error)
	// GetTransaction returns the unit record or nil if the ledger does
	// not know it.
	GetTransaction(ctx context.Context, unit string) (*TxRecord, error)
}
