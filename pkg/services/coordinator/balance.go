package coordinator

import (
	"context"
	"time"

	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/werr"
)

type cachedBalance struct {
	balances  map[string]explorer.Balance
	fetchedAt time.Time
}

// GetBalance aggregates the wallet's balances per asset. Results are served
// from a short-lived cache so that chatty clients do not hammer the
// explorer.
func (s *Service) GetBalance(ctx context.Context, auth *Auth, asset string) (map[string]explorer.Balance, error) {
	key := auth.Wallet.ID + "|" + asset
	if v, ok := s.balanceCache.Get(key); ok {
		entry := v.(cachedBalance)
		if s.clock.Now().Sub(entry.fetchedAt) < s.Config.BalanceCacheDuration {
			return entry.balances, nil
		}
	}
	addrs, err := s.dao.GetAllAddresses(auth.Wallet.ID)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return map[string]explorer.Balance{}, nil
	}
	addrStrings := make([]string, len(addrs))
	for i, a := range addrs {
		addrStrings[i] = a.Address
	}
	balances, err := s.expl.GetBalance(ctx, addrStrings, asset)
	if err != nil {
		return nil, err
	}
	s.balanceCache.Add(key, cachedBalance{balances: balances, fetchedAt: s.clock.Now()})
	return balances, nil
}

// HistoryItem is one tx-history row enriched with wallet-local metadata.
type HistoryItem struct {
	explorer.HistoryItem
	// Note is the shared note attached to the transaction, if any.
	Note string `json:"note,omitempty"`
	// TxProposalID links the row back to the originating proposal.
	TxProposalID string `json:"txProposalId,omitempty"`
	Message      string `json:"message,omitempty"`
	CreatorID    string `json:"creatorId,omitempty"`
}

// GetTxHistory pages through the wallet's transaction history, joining in
// shared notes and proposal metadata.
func (s *Service) GetTxHistory(ctx context.Context, auth *Auth, opts explorer.HistoryOptions) ([]HistoryItem, error) {
	if opts.Limit <= 0 {
		opts.Limit = s.Config.HistoryLimit
	}
	if opts.Limit > s.Config.HistoryLimit {
		return nil, werr.ErrHistoryLimitExceeded
	}
	addrs, err := s.dao.GetAllAddresses(auth.Wallet.ID)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return []HistoryItem{}, nil
	}
	addrStrings := make([]string, len(addrs))
	for i, a := range addrs {
		addrStrings[i] = a.Address
	}
	rows, err := s.expl.GetTxHistory(ctx, addrStrings, opts)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryItem, len(rows))
	for i, row := range rows {
		item := HistoryItem{HistoryItem: row}
		if note, err := s.dao.GetTxNote(auth.Wallet.ID, row.Unit); err == nil {
			item.Note = note.Body
		} else if !storage.IsKeyNotFound(err) {
			return nil, err
		}
		if tx, err := s.dao.GetTxProposalByTxID(row.Unit); err == nil && tx.WalletID == auth.Wallet.ID {
			item.TxProposalID = tx.ID
			item.Message = tx.Message
			item.CreatorID = tx.CreatorID
		} else if err != nil && !storage.IsKeyNotFound(err) {
			return nil, err
		}
		out[i] = item
	}
	return out, nil
}
