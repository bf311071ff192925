package coordinator

import (
	"context"
	"time"

	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/joint"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
)

// Recently broadcast proposals count as spent for this long, capped to the
// most recent entries, so the view tolerates explorer lag after a broadcast.
const (
	broadcastSpentWindow = 24 * time.Hour
	broadcastSpentLimit  = 100
)

// ViewUTXO is a live UTXO annotated with its reservation state. Locked
// outputs are referenced by a pending proposal; outputs spent by a recent
// broadcast are excluded from the view entirely.
type ViewUTXO struct {
	explorer.UTXO
	Locked bool `json:"locked"`
}

// utxoView recomputes the wallet's reservation view from the explorer and
// the proposal state. There is no persistent UTXO table; this is the single
// source of the at-most-one-spend invariant.
func (s *Service) utxoView(ctx context.Context, walletID, asset string) ([]ViewUTXO, map[string]*wallet.Address, error) {
	addrs, err := s.dao.GetAllAddresses(walletID)
	if err != nil {
		return nil, nil, err
	}
	if len(addrs) == 0 {
		return nil, map[string]*wallet.Address{}, nil
	}
	byAddress := make(map[string]*wallet.Address, len(addrs))
	addrStrings := make([]string, len(addrs))
	for i, a := range addrs {
		byAddress[a.Address] = a
		addrStrings[i] = a.Address
	}
	utxos, err := s.expl.GetUtxos(ctx, addrStrings, asset)
	if err != nil {
		return nil, nil, err
	}

	locked, spent, err := s.reservedInputs(walletID)
	if err != nil {
		return nil, nil, err
	}
	view := make([]ViewUTXO, 0, len(utxos))
	for _, u := range utxos {
		key := joint.Input{Unit: u.Unit, MessageIndex: u.MessageIndex, OutputIndex: u.OutputIndex}.Key()
		if spent[key] {
			continue
		}
		view = append(view, ViewUTXO{UTXO: u, Locked: locked[key]})
	}
	return view, byAddress, nil
}

// reservedInputs collects the inputs referenced by pending proposals
// (locked) and by recent broadcasts (spent).
func (s *Service) reservedInputs(walletID string) (locked, spent map[string]bool, err error) {
	locked = make(map[string]bool)
	spent = make(map[string]bool)
	pending, err := s.dao.GetPendingTxProposals(walletID)
	if err != nil {
		return nil, nil, err
	}
	for _, tx := range pending {
		for _, in := range tx.Inputs() {
			locked[in.Key()] = true
		}
	}
	since := s.clock.Now().Add(-broadcastSpentWindow)
	broadcasts, err := s.dao.GetRecentBroadcasts(walletID, since, broadcastSpentLimit)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range broadcasts {
		for _, in := range b.Inputs {
			spent[in.Key()] = true
		}
	}
	return locked, spent, nil
}

// checkInputsAvailable verifies that every input of the proposal is present
// and unreserved in the view.
func checkInputsAvailable(tx *wallet.TxProposal, view []ViewUTXO) error {
	free := make(map[string]bool, len(view))
	for _, u := range view {
		if !u.Locked {
			free[joint.Input{Unit: u.Unit, MessageIndex: u.MessageIndex, OutputIndex: u.OutputIndex}.Key()] = true
		}
	}
	for _, in := range tx.Inputs() {
		if !free[in.Key()] {
			return werr.ErrUnavailableUTXOs
		}
	}
	return nil
}

// available filters the view down to spendable UTXOs for composition.
func available(view []ViewUTXO) []explorer.UTXO {
	out := make([]explorer.UTXO, 0, len(view))
	for _, u := range view {
		if !u.Locked {
			out = append(out, u.UTXO)
		}
	}
	return out
}

// GetUtxos returns the wallet's reservation view, optionally restricted to
// the given addresses.
func (s *Service) GetUtxos(ctx context.Context, auth *Auth, addresses []string, asset string) ([]ViewUTXO, error) {
	view, _, err := s.utxoView(ctx, auth.Wallet.ID, asset)
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return view, nil
	}
	want := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		want[a] = true
	}
	out := make([]ViewUTXO, 0, len(view))
	for _, u := range view {
		if want[u.Address] {
			out = append(out, u)
		}
	}
	return out, nil
}
