package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	ojson "github.com/nspcc-dev/go-ordered-json"
	"github.com/obytehq/walletsrv/pkg/crypto/chash"
	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/joint"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
	"go.uber.org/zap"
)

// backoffHistory is how many trailing proposals the backoff governor
// inspects beyond the offset.
const backoffHistory = 1

// CreateTxRequest are the parameters of proposal creation.
type CreateTxRequest struct {
	// TxProposalID makes creation idempotent: a non-temporary proposal
	// with this id is returned unchanged, a temporary one is recomposed.
	TxProposalID string `json:"txProposalId,omitempty"`
	// App discriminates the proposal kind; defaults to payment.
	App     string           `json:"app,omitempty"`
	Asset   string           `json:"asset,omitempty"`
	Outputs []joint.Output   `json:"outputs,omitempty"`
	Payload ojson.RawMessage `json:"payload,omitempty"`
	Message string           `json:"message,omitempty"`
	// ChangeAddress overrides change selection; must belong to the
	// wallet.
	ChangeAddress string `json:"changeAddress,omitempty"`
	DryRun        bool   `json:"dryRun,omitempty"`
}

// CreateTx composes a draft unit and stores a temporary proposal. Creation
// is throttled by the backoff governor once the creator accumulates too many
// trailing consecutive rejections.
func (s *Service) CreateTx(ctx context.Context, auth *Auth, req CreateTxRequest) (*wallet.TxProposal, error) {
	if req.App == "" {
		req.App = wallet.TxAppPayment
	}
	if !wallet.TxApps[req.App] {
		return nil, werr.New("INVALID_REQUEST", fmt.Sprintf("Unsupported app %q", req.App))
	}
	if req.App == wallet.TxAppPayment {
		if err := validateOutputs(req.Outputs); err != nil {
			return nil, err
		}
	} else if len(req.Payload) == 0 {
		return nil, werr.New("INVALID_REQUEST", "Missing payload")
	}

	var tx *wallet.TxProposal
	err := s.runLocked(auth.Wallet.ID, func() error {
		w, err := s.dao.GetWallet(auth.Wallet.ID)
		if err != nil {
			return err
		}
		if err := checkWalletReady(w); err != nil {
			return err
		}
		if req.TxProposalID != "" {
			existing, err := s.dao.GetTxProposal(w.ID, req.TxProposalID)
			switch {
			case err == nil && existing.Status != wallet.TxStatusTemporary:
				tx = existing
				return nil
			case err != nil && !storage.IsKeyNotFound(err):
				return err
			}
		}
		if err := s.checkBackoff(w.ID, auth.CopayerID()); err != nil {
			return err
		}

		change, err := s.pickChangeAddress(w, req.ChangeAddress)
		if err != nil {
			return err
		}
		view, byAddress, err := s.utxoView(ctx, w.ID, "")
		if err != nil {
			return err
		}
		now := s.clock.Now()
		var d *draft
		if req.App == wallet.TxAppPayment {
			d, err = s.composePayment(available(view), byAddress, req.Asset, req.Outputs, change, now.Unix())
		} else {
			d, err = s.composeData(available(view), byAddress, req.App, req.Payload, change, now.Unix())
		}
		if err != nil {
			return err
		}

		id := req.TxProposalID
		if id == "" {
			id = uuid.NewString()
		}
		tx = &wallet.TxProposal{
			ID:                 id,
			WalletID:           w.ID,
			CreatorID:          auth.CopayerID(),
			Coin:               w.Coin,
			Network:            w.Network,
			App:                req.App,
			Asset:              req.Asset,
			Outputs:            req.Outputs,
			Payload:            req.Payload,
			Message:            req.Message,
			ChangeAddress:      change.Address,
			Unit:               d.Unit,
			SigningInfo:        d.SigningInfo,
			RequiredSignatures: w.M,
			RequiredRejections: wallet.RequiredRejections(w.M, w.N),
			Status:             wallet.TxStatusTemporary,
			CreatedOn:          now.Unix(),
		}
		if req.DryRun {
			return nil
		}
		return s.dao.PutTxProposal(tx)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func validateOutputs(outputs []joint.Output) error {
	if len(outputs) == 0 {
		return werr.New("INVALID_REQUEST", "Missing outputs")
	}
	for _, o := range outputs {
		if !chash.IsValidAddress(o.Address) {
			return werr.ErrInvalidAddress
		}
		if o.Amount <= 0 || o.Amount > joint.MaxBaseSupply {
			return werr.New("INVALID_REQUEST", fmt.Sprintf("Invalid output amount %d", o.Amount))
		}
	}
	return nil
}

func (s *Service) pickChangeAddress(w *wallet.Wallet, override string) (*wallet.Address, error) {
	if override == "" {
		return s.changeAddress(w)
	}
	a, err := s.resolveOwnAddress(w.ID, override)
	if err != nil {
		return nil, werr.ErrInvalidChangeAddress
	}
	return a, nil
}

// checkBackoff throttles creation after BackoffOffset trailing consecutive
// rejections: the next creation is allowed only BackoffTime after the most
// recent rejection. Any non-rejected trailing proposal clears the counter.
func (s *Service) checkBackoff(walletID, copayerID string) error {
	last, err := s.dao.GetLastTxProposals(walletID, copayerID, s.Config.BackoffOffset+backoffHistory)
	if err != nil {
		return err
	}
	if len(last) <= s.Config.BackoffOffset {
		return nil
	}
	var newest int64
	for _, tx := range last {
		if tx.Status != wallet.TxStatusRejected {
			return nil
		}
		if tx.CreatedOn > newest {
			newest = tx.CreatedOn
		}
	}
	if s.clock.Now().Before(time.Unix(newest, 0).Add(s.Config.BackoffTime)) {
		return werr.ErrTxCannotCreate
	}
	return nil
}

// PublishTx promotes a temporary proposal to pending, reserving its inputs.
// The signature covers the draft unit's signing digest under one of the
// creator's request public keys.
func (s *Service) PublishTx(ctx context.Context, auth *Auth, id, signature string) (*wallet.TxProposal, error) {
	var tx *wallet.TxProposal
	err := s.runLocked(auth.Wallet.ID, func() error {
		var err error
		tx, err = s.getOwnTxProposal(auth, id)
		if err != nil {
			return err
		}
		if tx.Status != wallet.TxStatusTemporary {
			// Publish is idempotent for an already published
			// proposal.
			if tx.IsPending() {
				return nil
			}
			return werr.ErrTxNotPending
		}
		if tx.CreatorID != auth.CopayerID() {
			return werr.ErrTxNotFound
		}
		digest, err := tx.Unit.SigningDigest()
		if err != nil {
			return err
		}
		c := auth.Wallet.CopayerByID(auth.CopayerID())
		if c == nil || !c.VerifyRequestSignature(digest, signature) {
			return werr.ErrInvalidSignature
		}
		view, _, err := s.utxoView(ctx, tx.WalletID, "")
		if err != nil {
			return err
		}
		if err := checkInputsAvailable(tx, view); err != nil {
			return err
		}
		tx.Status = wallet.TxStatusPending
		if err := s.dao.PutTxProposal(tx); err != nil {
			return err
		}
		return s.notify(tx.WalletID, wallet.NotificationNewTxProposal, tx.CreatorID, map[string]any{
			"txProposalId": tx.ID,
			"creatorId":    tx.CreatorID,
		})
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// SignTx records a copayer's accept with its signatures. Verification is
// atomic: every submitted signature must validate against the copayer's
// derived public key along the author address's path, or nothing is applied.
// Reaching m accepts finalises the joint and computes the txid.
func (s *Service) SignTx(auth *Auth, id string, signatures map[string]string) (*wallet.TxProposal, error) {
	var tx *wallet.TxProposal
	err := s.runLocked(auth.Wallet.ID, func() error {
		var err error
		tx, err = s.getOwnTxProposal(auth, id)
		if err != nil {
			return err
		}
		switch tx.Status {
		case wallet.TxStatusPending:
		case wallet.TxStatusAccepted:
			return werr.ErrTxAlreadyAccepted
		default:
			return werr.ErrTxNotPending
		}
		if tx.ActionBy(auth.CopayerID()) != nil {
			return werr.ErrCopayerVoted
		}
		c := auth.Wallet.CopayerByID(auth.CopayerID())
		if c == nil {
			return werr.ErrCopayerNotFound
		}
		if err := s.verifyProposalSignatures(tx, c, signatures); err != nil {
			return err
		}

		action := &wallet.TxProposalAction{
			CopayerID:  auth.CopayerID(),
			Type:       wallet.ActionAccept,
			Signatures: signatures,
			XPub:       c.XPub,
			CreatedOn:  s.clock.Now().Unix(),
		}
		tx.AddAction(action)
		if tx.Status == wallet.TxStatusAccepted {
			if err := s.finaliseTx(tx); err != nil {
				return err
			}
		}
		if err := s.dao.PutTxProposal(tx); err != nil {
			return err
		}
		if err := s.notify(tx.WalletID, wallet.NotificationTxProposalAcceptedBy, auth.CopayerID(), map[string]any{
			"txProposalId": tx.ID,
			"copayerId":    auth.CopayerID(),
		}); err != nil {
			return err
		}
		if tx.Status == wallet.TxStatusAccepted {
			return s.notify(tx.WalletID, wallet.NotificationTxProposalFinallyAccepted, auth.CopayerID(), map[string]any{
				"txProposalId": tx.ID,
				"txid":         tx.TxID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// verifyProposalSignatures checks one signature per author address the
// copayer participates in, keyed "<authorAddress>/<signingPath>".
func (s *Service) verifyProposalSignatures(tx *wallet.TxProposal, c *wallet.Copayer, signatures map[string]string) error {
	digest, err := tx.Unit.SigningDigest()
	if err != nil {
		return err
	}
	x, err := xpub.Parse(c.XPub)
	if err != nil {
		return err
	}
	if len(signatures) == 0 {
		return werr.ErrBadSignatures
	}
	verified := make(map[string]bool, len(signatures))
	for _, author := range tx.Unit.Authors {
		info, ok := tx.SigningInfo[author.Address]
		if !ok {
			return werr.ErrBadSignatures
		}
		pub, err := x.Derive(info.Path)
		if err != nil {
			return err
		}
		signingPath, ok := info.SigningPaths[xpub.EncodePubKeyBase64(pub)]
		if !ok {
			return werr.ErrBadSignatures
		}
		key := author.Address + "/" + signingPath
		sig, ok := signatures[key]
		if !ok || !xpub.VerifySignature(pub, digest, sig) {
			return werr.ErrBadSignatures
		}
		verified[key] = true
	}
	// Extraneous signatures are as suspicious as missing ones.
	for key := range signatures {
		if !verified[key] {
			return werr.ErrBadSignatures
		}
	}
	return nil
}

// finaliseTx installs the collected signatures as authentifiers and computes
// the unit id. Callers must hold the wallet lock.
func (s *Service) finaliseTx(tx *wallet.TxProposal) error {
	for i, author := range tx.Unit.Authors {
		auths := make(map[string]string)
		for _, action := range tx.Actions {
			if action.Type != wallet.ActionAccept {
				continue
			}
			prefix := author.Address + "/"
			for key, sig := range action.Signatures {
				if len(key) > len(prefix) && key[:len(prefix)] == prefix {
					auths[key[len(prefix):]] = sig
				}
			}
		}
		if len(auths) == 0 {
			return werr.ErrBadSignatures
		}
		tx.Unit.Authors[i].Authentifiers = auths
	}
	txid, err := tx.Unit.ID()
	if err != nil {
		return err
	}
	tx.TxID = txid
	return nil
}

// RejectTx records a copayer's rejection with an optional reason.
func (s *Service) RejectTx(auth *Auth, id, reason string) (*wallet.TxProposal, error) {
	var tx *wallet.TxProposal
	err := s.runLocked(auth.Wallet.ID, func() error {
		var err error
		tx, err = s.getOwnTxProposal(auth, id)
		if err != nil {
			return err
		}
		if tx.Status != wallet.TxStatusPending {
			return werr.ErrTxNotPending
		}
		if tx.ActionBy(auth.CopayerID()) != nil {
			return werr.ErrCopayerVoted
		}
		tx.AddAction(&wallet.TxProposalAction{
			CopayerID: auth.CopayerID(),
			Type:      wallet.ActionReject,
			Comment:   reason,
			CreatedOn: s.clock.Now().Unix(),
		})
		if err := s.dao.PutTxProposal(tx); err != nil {
			return err
		}
		if err := s.notify(tx.WalletID, wallet.NotificationTxProposalRejectedBy, auth.CopayerID(), map[string]any{
			"txProposalId": tx.ID,
			"copayerId":    auth.CopayerID(),
		}); err != nil {
			return err
		}
		if tx.Status == wallet.TxStatusRejected {
			return s.notify(tx.WalletID, wallet.NotificationTxProposalFinallyRejected, auth.CopayerID(), map[string]any{
				"txProposalId": tx.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// BroadcastTx submits an accepted proposal's finalised joint to the hub. A
// hub failure is reconciled against the explorer: a unit already in the
// ledger counts as broadcast by a third party. A genuine failure keeps the
// proposal accepted with its txid retained.
func (s *Service) BroadcastTx(ctx context.Context, auth *Auth, id string) (*wallet.TxProposal, error) {
	var tx *wallet.TxProposal
	err := s.runLocked(auth.Wallet.ID, func() error {
		var err error
		tx, err = s.getOwnTxProposal(auth, id)
		if err != nil {
			return err
		}
		switch tx.Status {
		case wallet.TxStatusBroadcasted:
			return werr.ErrTxAlreadyBroadcasted
		case wallet.TxStatusAccepted:
		default:
			return werr.ErrTxNotAccepted
		}

		notifType := wallet.NotificationNewOutgoingTx
		if err := s.hub.BroadcastJoint(ctx, &joint.Joint{Unit: tx.Unit}); err != nil {
			record, exErr := s.expl.GetTransaction(ctx, tx.TxID)
			if exErr != nil || record == nil {
				s.log.Warn("broadcast failed",
					zap.String("wallet", tx.WalletID),
					zap.String("txProposal", tx.ID),
					zap.Error(err))
				return err
			}
			notifType = wallet.NotificationNewOutgoingTxThirdParty
		}
		return s.markBroadcasted(tx, auth.CopayerID(), notifType)
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// markBroadcasted commits the broadcasted transition, logs the spent inputs
// and emits the outgoing notification. Callers must hold the wallet lock.
func (s *Service) markBroadcasted(tx *wallet.TxProposal, creatorID, notifType string) error {
	now := s.clock.Now()
	tx.Status = wallet.TxStatusBroadcasted
	tx.BroadcastedOn = now.Unix()
	if err := s.dao.PutTxProposal(tx); err != nil {
		return err
	}
	if err := s.dao.PutBroadcastLogEntry(wallet.NewBroadcastLogEntry(tx, now)); err != nil {
		return err
	}
	return s.notify(tx.WalletID, notifType, creatorID, map[string]any{
		"txProposalId": tx.ID,
		"txid":         tx.TxID,
		"amount":       outputTotal(tx),
	})
}

func outputTotal(tx *wallet.TxProposal) int64 {
	var total int64
	for _, o := range tx.Outputs {
		total += o.Amount
	}
	return total
}

// RemoveTx deletes a proposal. Only the creator may remove, and once another
// copayer has acted a DeleteLockTime cooldown applies from the last action.
func (s *Service) RemoveTx(auth *Auth, id string) error {
	return s.runLocked(auth.Wallet.ID, func() error {
		tx, err := s.getOwnTxProposal(auth, id)
		if err != nil {
			return err
		}
		if tx.Status == wallet.TxStatusBroadcasted {
			return werr.ErrTxAlreadyBroadcasted
		}
		if tx.CreatorID != auth.CopayerID() {
			return werr.ErrTxCannotRemove
		}
		if tx.HasForeignActions() {
			var lastAction int64
			for _, a := range tx.Actions {
				if a.CreatedOn > lastAction {
					lastAction = a.CreatedOn
				}
			}
			deadline := time.Unix(lastAction, 0).Add(s.Config.DeleteLockTime)
			if s.clock.Now().Before(deadline) {
				return werr.ErrTxCannotRemove
			}
		}
		if err := s.dao.DeleteTxProposal(tx); err != nil {
			return err
		}
		return s.notify(tx.WalletID, wallet.NotificationTxProposalRemoved, auth.CopayerID(), map[string]any{
			"txProposalId": tx.ID,
		})
	})
}

func (s *Service) getOwnTxProposal(auth *Auth, id string) (*wallet.TxProposal, error) {
	tx, err := s.dao.GetTxProposal(auth.Wallet.ID, id)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return nil, werr.ErrTxNotFound
		}
		return nil, err
	}
	return tx, nil
}

// GetTx returns one proposal of the wallet.
func (s *Service) GetTx(auth *Auth, id string) (*wallet.TxProposal, error) {
	return s.getOwnTxProposal(auth, id)
}

// TxFilter narrows proposal listings.
type TxFilter struct {
	Status    string
	App       string
	MinTs     int64
	MaxTs     int64
	Limit     int
	IsPending bool
}

// GetTxs lists the wallet's proposals, newest first.
func (s *Service) GetTxs(auth *Auth, f TxFilter) ([]*wallet.TxProposal, error) {
	txs, err := s.dao.GetTxProposals(auth.Wallet.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*wallet.TxProposal, 0, len(txs))
	for _, tx := range txs {
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.App != "" && tx.App != f.App {
			continue
		}
		if f.MinTs > 0 && tx.CreatedOn < f.MinTs {
			continue
		}
		if f.MaxTs > 0 && tx.CreatedOn > f.MaxTs {
			continue
		}
		if f.IsPending && !tx.IsPending() {
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// GetPendingTxs lists the wallet's input-reserving proposals.
func (s *Service) GetPendingTxs(auth *Auth) ([]*wallet.TxProposal, error) {
	return s.dao.GetPendingTxProposals(auth.Wallet.ID)
}

// BroadcastRaw passes a pre-built joint through to the hub.
func (s *Service) BroadcastRaw(ctx context.Context, j *joint.Joint) (string, error) {
	if j == nil || j.Unit == nil {
		return "", werr.New("INVALID_REQUEST", "Missing unit")
	}
	id, err := j.Unit.ID()
	if err != nil {
		return "", werr.New("INVALID_REQUEST", "Malformed unit")
	}
	if err := s.hub.BroadcastJoint(ctx, j); err != nil {
		return "", err
	}
	return id, nil
}

// GetRawTx reads the raw unit of a known transaction from the explorer.
func (s *Service) GetRawTx(ctx context.Context, txid string) (*explorer.TxRecord, error) {
	record, err := s.expl.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, werr.ErrTxNotFound
	}
	return record, nil
}
