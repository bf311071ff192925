package wallet

import (
	"encoding/json"
	"fmt"
)

// Notification types emitted by the service.
const (
	NotificationNewCopayer                = "NewCopayer"
	NotificationWalletComplete            = "WalletComplete"
	NotificationNewAddress                = "NewAddress"
	NotificationNewTxProposal             = "NewTxProposal"
	NotificationTxProposalAcceptedBy      = "TxProposalAcceptedBy"
	NotificationTxProposalFinallyAccepted = "TxProposalFinallyAccepted"
	NotificationTxProposalRejectedBy      = "TxProposalRejectedBy"
	NotificationTxProposalFinallyRejected = "TxProposalFinallyRejected"
	NotificationTxProposalRemoved         = "TxProposalRemoved"
	NotificationNewOutgoingTx             = "NewOutgoingTx"
	NotificationNewOutgoingTxThirdParty   = "NewOutgoingTxByThirdParty"
	NotificationNewIncomingTx             = "NewIncomingTx"
	NotificationTxConfirmation            = "TxConfirmation"
	NotificationScanFinished              = "ScanFinished"
)

// Notification is one record of the append-only per-wallet notification
// log. The Seq storage sequence together with the per-process TickerID
// guarantees strictly increasing ordering even for same-millisecond inserts.
type Notification struct {
	// ID is "<seq>-<ticker>", unique and monotone within a wallet.
	ID       string `json:"id"`
	Seq      uint64 `json:"seq"`
	TickerID uint64 `json:"ticker"`
	Type     string `json:"type"`
	WalletID string `json:"walletId"`
	// CreatorID is set when a copayer action caused the notification.
	CreatorID string          `json:"creatorId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedOn int64           `json:"createdOn"`
}

// NotificationID renders the composite notification id.
func NotificationID(seq, ticker uint64) string {
	return fmt.Sprintf("%014d-%06d", seq, ticker)
}
