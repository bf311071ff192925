package coordinator

import (
	"context"

	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
	"go.uber.org/zap"
)

// DefaultScanStep is the stride of a power scan.
const DefaultScanStep = 1000

// StartScan walks the wallet's receive and change branches probing the
// explorer for activity, persisting discovered addresses. startingStep > 1
// requests a power scan: coarse passes locate the highest active index
// quickly and a final step-1 pass fills in the skipped paths. When no
// activity is found at all, no skipped addresses are added.
//
// Scans own the wallet via scanStatus: address-creating operations are
// refused with WALLET_BUSY while a scan runs, and a failed scan pins the
// wallet behind WALLET_NEED_SCAN until a scan succeeds.
func (s *Service) StartScan(ctx context.Context, auth *Auth, startingStep int) error {
	if startingStep < 1 {
		startingStep = 1
	}
	err := s.runLocked(auth.Wallet.ID, func() error {
		w, err := s.dao.GetWallet(auth.Wallet.ID)
		if err != nil {
			return err
		}
		if !w.IsComplete() {
			return werr.ErrWalletNotComplete
		}
		if w.IsScanActive() {
			return werr.ErrWalletBusy
		}
		w.ScanStatus = wallet.ScanStatusRunning
		return s.dao.PutWallet(w)
	})
	if err != nil {
		return err
	}

	// Explorer probing happens outside the lock; only the result commit
	// re-acquires it.
	scanErr := s.scanWallet(ctx, auth.Wallet.ID, startingStep)

	return s.runLocked(auth.Wallet.ID, func() error {
		w, err := s.dao.GetWallet(auth.Wallet.ID)
		if err != nil {
			return err
		}
		if scanErr != nil {
			w.ScanStatus = wallet.ScanStatusError
			if err := s.dao.PutWallet(w); err != nil {
				return err
			}
			s.log.Warn("scan failed", zap.String("wallet", w.ID), zap.Error(scanErr))
			return scanErr
		}
		w.ScanStatus = wallet.ScanStatusSuccess
		if err := s.dao.PutWallet(w); err != nil {
			return err
		}
		return s.notify(w.ID, wallet.NotificationScanFinished, auth.CopayerID(), nil)
	})
}

func (s *Service) scanWallet(ctx context.Context, walletID string, startingStep int) error {
	for _, isChange := range []bool{false, true} {
		if err := s.scanBranch(ctx, walletID, isChange, startingStep); err != nil {
			return err
		}
	}
	return nil
}

// scanBranch locates the branch's highest active index, then derives and
// persists every address up to it and advances the wallet's branch index.
func (s *Service) scanBranch(ctx context.Context, walletID string, isChange bool, startingStep int) error {
	w, err := s.dao.GetWallet(walletID)
	if err != nil {
		return err
	}
	highest, err := s.findHighestActive(ctx, w, isChange, startingStep)
	if err != nil {
		return err
	}
	if highest < 0 {
		// Nothing on chain: leave the branch untouched.
		return nil
	}
	return s.runLocked(walletID, func() error {
		w, err := s.dao.GetWallet(walletID)
		if err != nil {
			return err
		}
		for i := uint32(0); i <= uint32(highest); i++ {
			addr, err := w.DeriveAddress(isChange, i)
			if err != nil {
				return err
			}
			active, err := s.expl.GetAddressActivity(ctx, addr.Address)
			if err != nil {
				return err
			}
			addr.HasActivity = active
			if err := s.dao.PutAddress(addr); err != nil {
				return err
			}
		}
		next := uint32(highest) + 1
		if isChange {
			if w.ChangeIndex < next {
				w.ChangeIndex = next
			}
		} else if w.ReceiveIndex < next {
			w.ReceiveIndex = next
		}
		return s.dao.PutWallet(w)
	})
}

// findHighestActive probes the branch with decreasing strides. A coarse
// stride uses a short inactivity window (3 probes); the final step-1 pass
// uses the full scan gap.
func (s *Service) findHighestActive(ctx context.Context, w *wallet.Wallet, isChange bool, step int) (int, error) {
	highest := -1
	for {
		gap := s.Config.ScanAddressGap
		if step > 1 {
			gap = 3
		}
		idx := highest + 1
		inactive := 0
		for inactive < gap {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			addr, err := w.DeriveAddress(isChange, uint32(idx))
			if err != nil {
				return 0, err
			}
			active, err := s.expl.GetAddressActivity(ctx, addr.Address)
			if err != nil {
				return 0, err
			}
			if active {
				highest = idx
				inactive = 0
			} else {
				inactive++
			}
			idx += step
		}
		if step == 1 {
			return highest, nil
		}
		step /= 10
		if step < 1 {
			step = 1
		}
	}
}
