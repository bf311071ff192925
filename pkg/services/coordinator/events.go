package coordinator

import (
	"fmt"
	"time"

	"github.com/obytehq/walletsrv/pkg/joint"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"go.uber.org/zap"
)

// eventDedupeWindow is how long event-driven notifications are suppressed
// after an identical one was emitted.
const eventDedupeWindow = 24 * time.Hour

// seenRecently marks the key and reports whether it was already marked
// within the dedupe window.
func (s *Service) seenRecently(key string) bool {
	now := s.clock.Now()
	if v, ok := s.seen.Get(key); ok {
		if now.Sub(v.(time.Time)) < eventDedupeWindow {
			return true
		}
	}
	s.seen.Add(key, now)
	return false
}

// ProcessNewJoint handles one new_joint ledger event: it commits the
// broadcasted transition of a matching accepted proposal, emits incoming-tx
// notifications for outputs paying wallet addresses, and flips activity
// flags of every involved address.
func (s *Service) ProcessNewJoint(j *joint.Joint) error {
	if j == nil || j.Unit == nil {
		return nil
	}
	unitID, err := j.Unit.ID()
	if err != nil {
		return fmt.Errorf("unit id: %w", err)
	}
	if err := s.processOutgoing(unitID); err != nil {
		return err
	}
	if err := s.processIncoming(unitID, j.Unit); err != nil {
		return err
	}
	return s.markActivity(j.Unit)
}

// processOutgoing transitions an accepted proposal whose txid matches the
// unit. The proposal being still accepted here means someone else pushed the
// joint to the ledger.
func (s *Service) processOutgoing(unitID string) error {
	found, err := s.dao.GetTxProposalByTxID(unitID)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return nil
		}
		return err
	}
	return s.runLocked(found.WalletID, func() error {
		tx, err := s.dao.GetTxProposal(found.WalletID, found.ID)
		if err != nil || tx.Status != wallet.TxStatusAccepted {
			return nil
		}
		if s.seenRecently("outgoing|" + unitID) {
			return nil
		}
		s.log.Info("proposal broadcast observed on ledger",
			zap.String("wallet", tx.WalletID),
			zap.String("txProposal", tx.ID),
			zap.String("unit", unitID))
		return s.markBroadcasted(tx, "", wallet.NotificationNewOutgoingTxThirdParty)
	})
}

// processIncoming emits NewIncomingTx for outputs paying wallet addresses.
// Outputs back to the unit's own authors and internal change addresses are
// not incoming funds.
func (s *Service) processIncoming(unitID string, u *joint.Unit) error {
	authors := make(map[string]bool, len(u.Authors))
	for _, a := range u.Authors {
		authors[a.Address] = true
	}
	for _, out := range u.Outputs() {
		if authors[out.Address] {
			continue
		}
		a, err := s.dao.GetAddress(out.Address)
		if err != nil {
			if storage.IsKeyNotFound(err) {
				continue
			}
			return err
		}
		if a.IsChange {
			continue
		}
		key := fmt.Sprintf("incoming|%s|%s|%d", unitID, out.Address, out.Amount)
		if s.seenRecently(key) {
			continue
		}
		amount := out.Amount
		if err := s.runLocked(a.WalletID, func() error {
			return s.notify(a.WalletID, wallet.NotificationNewIncomingTx, "", map[string]any{
				"txid":    unitID,
				"address": out.Address,
				"amount":  amount,
			})
		}); err != nil {
			return err
		}
	}
	return nil
}

// markActivity flips the sticky hasActivity flag of every wallet address the
// unit touches.
func (s *Service) markActivity(u *joint.Unit) error {
	touched := make(map[string]bool)
	for _, a := range u.Authors {
		touched[a.Address] = true
	}
	for _, out := range u.Outputs() {
		touched[out.Address] = true
	}
	for addr := range touched {
		a, err := s.dao.GetAddress(addr)
		if err != nil {
			if storage.IsKeyNotFound(err) {
				continue
			}
			return err
		}
		if a.HasActivity {
			continue
		}
		a.HasActivity = true
		if err := s.dao.PutAddress(a); err != nil {
			return err
		}
	}
	return nil
}

// ProcessStableUnits handles a stabilisation event: matching broadcasted
// proposals become stable and armed confirmation subscriptions fire exactly
// once.
func (s *Service) ProcessStableUnits(units []string) error {
	for _, unit := range units {
		if err := s.stabiliseUnit(unit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) stabiliseUnit(unit string) error {
	found, err := s.dao.GetTxProposalByTxID(unit)
	switch {
	case err == nil:
		err = s.runLocked(found.WalletID, func() error {
			tx, err := s.dao.GetTxProposal(found.WalletID, found.ID)
			if err != nil || tx.Status != wallet.TxStatusBroadcasted || tx.Stable {
				return nil
			}
			tx.Stable = true
			tx.StableOn = s.clock.Now().Unix()
			return s.dao.PutTxProposal(tx)
		})
		if err != nil {
			return err
		}
	case !storage.IsKeyNotFound(err):
		return err
	}

	subs, err := s.dao.GetTxConfirmationSubs(unit)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if !sub.IsActive {
			continue
		}
		if err := s.runLocked(sub.WalletID, func() error {
			// The wallet's own coin and network identify the ledger
			// the confirmation happened on.
			w, err := s.dao.GetWallet(sub.WalletID)
			if err != nil {
				return err
			}
			if err := s.notify(sub.WalletID, wallet.NotificationTxConfirmation, sub.CopayerID, map[string]any{
				"txid":    sub.TxID,
				"coin":    w.Coin,
				"network": w.Network,
			}); err != nil {
				return err
			}
			// Single shot: deactivate atomically with the
			// notification.
			sub.IsActive = false
			return s.dao.PutTxConfirmationSub(sub)
		}); err != nil {
			return err
		}
	}
	return nil
}
