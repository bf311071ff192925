package wallet

import (
	"time"

	ojson "github.com/nspcc-dev/go-ordered-json"
	"github.com/obytehq/walletsrv/pkg/joint"
)

// Proposal status values.
const (
	TxStatusTemporary   = "temporary"
	TxStatusPending     = "pending"
	TxStatusAccepted    = "accepted"
	TxStatusRejected    = "rejected"
	TxStatusBroadcasted = "broadcasted"
)

// Proposal action types.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Recognised app kinds of a proposal.
var TxApps = map[string]bool{
	"payment":                   true,
	"data":                      true,
	"text":                      true,
	"profile":                   true,
	"poll":                      true,
	"vote":                      true,
	"data_feed":                 true,
	"attestation":               true,
	"asset":                     true,
	"asset_attestors":           true,
	"address_definition_change": true,
	"definition_template":       true,
}

// TxApp constants used directly.
const (
	TxAppPayment = "payment"
	TxAppData    = "data"
)

// SigningInfo describes how one author address of a draft unit is signed.
type SigningInfo struct {
	WalletID string `json:"walletId"`
	// Path is the address derivation path within the wallet.
	Path string `json:"path"`
	// SigningPaths maps participating public keys to their signing path.
	SigningPaths map[string]string `json:"signingPaths"`
}

// TxProposalAction is one copayer's vote on a proposal.
type TxProposalAction struct {
	CopayerID string `json:"copayerId"`
	Type      string `json:"type"`
	// Signatures holds, for accepts, the collected signatures keyed by
	// "<authorAddress>/<signingPath>".
	Signatures map[string]string `json:"signatures,omitempty"`
	XPub       string            `json:"xpub,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	CreatedOn  int64             `json:"createdOn"`
}

// TxProposal is a transaction proposal moving through the
// temporary → pending → accepted → broadcasted lifecycle (or to rejected).
type TxProposal struct {
	ID        string `json:"id"`
	WalletID  string `json:"walletId"`
	CreatorID string `json:"creatorId"`
	Coin      string `json:"coin"`
	Network   string `json:"network"`
	// App discriminates the twelve recognised proposal kinds.
	App   string `json:"app"`
	Asset string `json:"asset,omitempty"`
	// Outputs are the requested payment outputs (app == payment).
	Outputs []joint.Output `json:"outputs,omitempty"`
	// Payload is the inlined app payload for non-payment apps.
	Payload       ojson.RawMessage `json:"payload,omitempty"`
	Message       string           `json:"message,omitempty"`
	ChangeAddress string           `json:"changeAddress,omitempty"`
	// Unit is the draft joint with placeholder authentifiers.
	Unit *joint.Unit `json:"unit"`
	// SigningInfo maps each author address to its signing metadata.
	SigningInfo        map[string]SigningInfo `json:"signingInfo"`
	RequiredSignatures int                    `json:"requiredSignatures"`
	RequiredRejections int                    `json:"requiredRejections"`
	Status             string                 `json:"status"`
	Actions            []*TxProposalAction    `json:"actions"`
	// TxID is the computed unit id, set on acceptance.
	TxID          string `json:"txid,omitempty"`
	BroadcastedOn int64  `json:"broadcastedOn,omitempty"`
	Stable        bool   `json:"stable,omitempty"`
	StableOn      int64  `json:"stableOn,omitempty"`
	CreatedOn     int64  `json:"createdOn"`
}

// RequiredRejections computes the rejection quorum for an m-of-n wallet:
// once that many copayers reject, the proposal can no longer reach m
// accepts.
func RequiredRejections(m, n int) int {
	r := n - m + 1
	if m < r {
		return m
	}
	return r
}

// ActionBy returns the copayer's action on this proposal, if any.
func (tx *TxProposal) ActionBy(copayerID string) *TxProposalAction {
	for _, a := range tx.Actions {
		if a.CopayerID == copayerID {
			return a
		}
	}
	return nil
}

// AcceptCount counts accept actions.
func (tx *TxProposal) AcceptCount() int {
	return tx.countActions(ActionAccept)
}

// RejectCount counts reject actions.
func (tx *TxProposal) RejectCount() int {
	return tx.countActions(ActionReject)
}

func (tx *TxProposal) countActions(typ string) int {
	var n int
	for _, a := range tx.Actions {
		if a.Type == typ {
			n++
		}
	}
	return n
}

// IsPending reports whether the proposal still reserves its inputs: it is
// neither finalised nor broadcast.
func (tx *TxProposal) IsPending() bool {
	return tx.Status == TxStatusPending || tx.Status == TxStatusAccepted
}

// HasForeignActions reports whether any copayer other than the creator has
// acted on the proposal.
func (tx *TxProposal) HasForeignActions() bool {
	for _, a := range tx.Actions {
		if a.CopayerID != tx.CreatorID {
			return true
		}
	}
	return false
}

// AddAction records a vote and applies the resulting status transition.
func (tx *TxProposal) AddAction(a *TxProposalAction) {
	tx.Actions = append(tx.Actions, a)
	switch {
	case a.Type == ActionAccept && tx.AcceptCount() >= tx.RequiredSignatures:
		tx.Status = TxStatusAccepted
	case a.Type == ActionReject && tx.RejectCount() >= tx.RequiredRejections:
		tx.Status = TxStatusRejected
	}
}

// Inputs returns the draft unit's inputs.
func (tx *TxProposal) Inputs() []joint.Input {
	if tx.Unit == nil {
		return nil
	}
	return tx.Unit.Inputs()
}

// BroadcastLogEntry retains an accepted-and-broadcast proposal's inputs for
// the recently-spent UTXO view.
type BroadcastLogEntry struct {
	TxProposalID  string        `json:"txProposalId"`
	WalletID      string        `json:"walletId"`
	TxID          string        `json:"txid"`
	Inputs        []joint.Input `json:"inputs"`
	BroadcastedOn int64         `json:"broadcastedOn"`
}

// NewBroadcastLogEntry snapshots a broadcast proposal.
func NewBroadcastLogEntry(tx *TxProposal, now time.Time) *BroadcastLogEntry {
	return &BroadcastLogEntry{
		TxProposalID:  tx.ID,
		WalletID:      tx.WalletID,
		TxID:          tx.TxID,
		Inputs:        tx.Inputs(),
		BroadcastedOn: now.Unix(),
	}
}
