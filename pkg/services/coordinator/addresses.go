package coordinator

import (
	"context"

	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
	"go.uber.org/zap"
)

// checkWalletReady gates operations that require a complete, scannable
// wallet.
func checkWalletReady(w *wallet.Wallet) error {
	if !w.IsComplete() {
		return werr.ErrWalletNotComplete
	}
	if w.IsScanActive() {
		return werr.ErrWalletBusy
	}
	if w.NeedsScan() {
		return werr.ErrWalletNeedScan
	}
	return nil
}

// CreateAddress derives the next receive address. Single-address wallets
// always return their first address. The gap-limit policy refuses to advance
// past MaxMainAddressGap consecutive inactive receive addresses unless
// ignoreMaxGap is set; before refusing, the tail addresses are probed
// against the explorer since activity may have appeared meanwhile.
func (s *Service) CreateAddress(ctx context.Context, auth *Auth, ignoreMaxGap bool) (*wallet.Address, error) {
	var addr *wallet.Address
	err := s.runLocked(auth.Wallet.ID, func() error {
		w, err := s.dao.GetWallet(auth.Wallet.ID)
		if err != nil {
			return err
		}
		if err := checkWalletReady(w); err != nil {
			return err
		}
		if w.SingleAddress {
			addr, err = s.firstAddress(w)
			return err
		}
		if !ignoreMaxGap {
			if err := s.checkMainAddressGap(ctx, w); err != nil {
				return err
			}
		}
		addr, err = s.newAddress(w, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return addr, nil
}

// firstAddress returns the wallet's address at m/0/0, deriving it on first
// use. Callers must hold the wallet lock.
func (s *Service) firstAddress(w *wallet.Wallet) (*wallet.Address, error) {
	addrs, err := s.dao.GetAddresses(w.ID, false, 1, false)
	if err != nil {
		return nil, err
	}
	if len(addrs) > 0 {
		return addrs[0], nil
	}
	return s.newAddress(w, false)
}

// newAddress derives and persists the next address of the given branch,
// advancing the wallet's index. Callers must hold the wallet lock.
func (s *Service) newAddress(w *wallet.Wallet, isChange bool) (*wallet.Address, error) {
	index := w.ReceiveIndex
	if isChange {
		index = w.ChangeIndex
	}
	addr, err := w.DeriveAddress(isChange, index)
	if err != nil {
		return nil, err
	}
	if isChange {
		w.ChangeIndex++
	} else {
		w.ReceiveIndex++
	}
	if err := s.dao.PutAddress(addr); err != nil {
		return nil, err
	}
	if err := s.dao.PutWallet(w); err != nil {
		return nil, err
	}
	if !isChange {
		if err := s.notify(w.ID, wallet.NotificationNewAddress, "", map[string]string{
			"address": addr.Address,
			"path":    addr.Path,
		}); err != nil {
			return nil, err
		}
	}
	s.broker.PublishAddress(w.ID, addr.Address)
	s.log.Debug("address derived",
		zap.String("wallet", w.ID),
		zap.String("address", addr.Address),
		zap.String("path", addr.Path))
	return addr, nil
}

// checkMainAddressGap enforces the receive-branch gap limit. Tail addresses
// without recorded activity are probed against the explorer first: any
// observed activity flips the sticky hasActivity flag and unblocks
// derivation.
func (s *Service) checkMainAddressGap(ctx context.Context, w *wallet.Wallet) error {
	gap := s.Config.MaxMainAddressGap
	tail, err := s.dao.GetAddresses(w.ID, false, gap, true)
	if err != nil {
		return err
	}
	if len(tail) < gap {
		return nil
	}
	for _, a := range tail {
		if a.HasActivity {
			return nil
		}
	}
	var unblocked bool
	for _, a := range tail {
		active, err := s.expl.GetAddressActivity(ctx, a.Address)
		if err != nil {
			return err
		}
		if active {
			a.HasActivity = true
			if err := s.dao.PutAddress(a); err != nil {
				return err
			}
			unblocked = true
		}
	}
	if !unblocked {
		return werr.ErrMainAddressGap
	}
	return nil
}

// GetMainAddresses lists receive addresses in derivation order (newest first
// when reverse is set). limit <= 0 returns all.
func (s *Service) GetMainAddresses(auth *Auth, limit int, reverse bool) ([]*wallet.Address, error) {
	return s.dao.GetAddresses(auth.Wallet.ID, false, limit, reverse)
}

// changeAddress picks the proposal change address: single-address wallets
// reuse their first address, otherwise the first change address with no
// observed activity is used, deriving one lazily. Callers must hold the
// wallet lock.
func (s *Service) changeAddress(w *wallet.Wallet) (*wallet.Address, error) {
	if w.SingleAddress {
		return s.firstAddress(w)
	}
	addrs, err := s.dao.GetAddresses(w.ID, true, 0, false)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if !a.HasActivity {
			return a, nil
		}
	}
	return s.newAddress(w, true)
}

// resolveOwnAddress checks that the address belongs to the wallet.
func (s *Service) resolveOwnAddress(walletID, address string) (*wallet.Address, error) {
	a, err := s.dao.GetAddress(address)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return nil, werr.ErrAddressNotFound
		}
		return nil, err
	}
	if a.WalletID != walletID {
		return nil, werr.ErrAddressNotFound
	}
	return a, nil
}
