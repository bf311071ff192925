package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/obytehq/walletsrv/pkg/wallet"
)

// Version is the current storage schema version.
const Version = "0.2.0"

// ErrVersionMismatch is returned when opening a DB written by an
// incompatible service version.
var ErrVersionMismatch = errors.New("storage version mismatch")

// CopayerLookup is the side index record enabling fast authentication
// lookups without loading the wallet.
type CopayerLookup struct {
	CopayerID      string              `json:"copayerId"`
	WalletID       string              `json:"walletId"`
	DeviceID       string              `json:"deviceId,omitempty"`
	RequestPubKeys []wallet.RequestKey `json:"requestPubKeys"`
	IsSupportStaff bool                `json:"isSupportStaff,omitempty"`
}

// DAO is the typed data access object all services go through. Mutations of
// wallet-scoped collections must happen under the owning wallet's lock; the
// copayer index and asset table rely on single-key atomicity only.
type DAO struct {
	Store Store
}

// NewDAO returns a DAO wrapping the given backing store, initializing or
// checking the schema version.
func NewDAO(store Store) (*DAO, error) {
	dao := &DAO{Store: store}
	key := SYSVersion.Bytes()
	data, err := store.Get(key)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		if err := store.Put(key, []byte(Version)); err != nil {
			return nil, fmt.Errorf("init storage version: %w", err)
		}
	case err != nil:
		return nil, err
	case string(data) != Version:
		return nil, fmt.Errorf("%w: %s (want %s)", ErrVersionMismatch, data, Version)
	}
	return dao, nil
}

func (dao *DAO) getJSON(key []byte, v any) error {
	data, err := dao.Store.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (dao *DAO) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return dao.Store.Put(key, data)
}

// -- wallets.

// GetWallet loads a wallet by id.
func (dao *DAO) GetWallet(id string) (*wallet.Wallet, error) {
	w := new(wallet.Wallet)
	if err := dao.getJSON(AppendKey(STWallet, []byte(id)), w); err != nil {
		return nil, err
	}
	return w, nil
}

// PutWallet persists a wallet.
func (dao *DAO) PutWallet(w *wallet.Wallet) error {
	return dao.putJSON(AppendKey(STWallet, []byte(w.ID)), w)
}

// -- copayer lookup index.

// GetCopayerLookup resolves a copayer id into its wallet binding.
func (dao *DAO) GetCopayerLookup(copayerID string) (*CopayerLookup, error) {
	l := new(CopayerLookup)
	if err := dao.getJSON(AppendKey(STCopayerIndex, []byte(copayerID)), l); err != nil {
		return nil, err
	}
	return l, nil
}

// PutCopayerLookup stores the copayer-to-wallet binding.
func (dao *DAO) PutCopayerLookup(l *CopayerLookup) error {
	return dao.putJSON(AppendKey(STCopayerIndex, []byte(l.CopayerID)), l)
}

// GetCopayerLookupsByDevice returns the wallet bindings of every copayer
// registered from the given device.
func (dao *DAO) GetCopayerLookupsByDevice(deviceID string) ([]*CopayerLookup, error) {
	var (
		out     []*CopayerLookup
		seekErr error
	)
	dao.Store.Seek(SeekRange{Prefix: STCopayerIndex.Bytes()}, func(k, v []byte) bool {
		l := new(CopayerLookup)
		if seekErr = json.Unmarshal(v, l); seekErr != nil {
			return false
		}
		if l.DeviceID == deviceID {
			out = append(out, l)
		}
		return true
	})
	return out, seekErr
}

// -- addresses.

func addressKey(walletID string, isChange bool, index uint32) []byte {
	branch := byte(0)
	if isChange {
		branch = 1
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	return AppendKey(STAddress, []byte(walletID), []byte{0x00, branch}, idx[:])
}

// PutAddress persists an address and its reverse index entry.
func (dao *DAO) PutAddress(a *wallet.Address) error {
	key := addressKey(a.WalletID, a.IsChange, a.Index)
	if err := dao.putJSON(key, a); err != nil {
		return err
	}
	return dao.Store.Put(AppendKey(STAddressIndex, []byte(a.Address)), key)
}

// GetAddress resolves an address string into the full record, which may
// belong to any wallet.
func (dao *DAO) GetAddress(address string) (*wallet.Address, error) {
	key, err := dao.Store.Get(AppendKey(STAddressIndex, []byte(address)))
	if err != nil {
		return nil, err
	}
	a := new(wallet.Address)
	if err := dao.getJSON(key, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAddresses returns the wallet's addresses of one branch in derivation
// order (reversed if requested), up to limit (0 for no limit).
func (dao *DAO) GetAddresses(walletID string, isChange bool, limit int, reverse bool) ([]*wallet.Address, error) {
	branch := byte(0)
	if isChange {
		branch = 1
	}
	return dao.seekAddresses(AppendKey(STAddress, []byte(walletID), []byte{0x00, branch}), limit, reverse)
}

// GetAllAddresses returns every address of the wallet, receive branch
// first.
func (dao *DAO) GetAllAddresses(walletID string) ([]*wallet.Address, error) {
	return dao.seekAddresses(AppendKey(STAddress, []byte(walletID), []byte{0x00}), 0, false)
}

func (dao *DAO) seekAddresses(prefix []byte, limit int, reverse bool) ([]*wallet.Address, error) {
	var (
		addrs   []*wallet.Address
		seekErr error
	)
	dao.Store.Seek(SeekRange{Prefix: prefix, Backwards: reverse}, func(k, v []byte) bool {
		a := new(wallet.Address)
		if seekErr = json.Unmarshal(v, a); seekErr != nil {
			return false
		}
		addrs = append(addrs, a)
		return limit == 0 || len(addrs) < limit
	})
	return addrs, seekErr
}

// -- transaction proposals.

func txProposalKey(walletID, id string) []byte {
	return AppendKey(STTxProposal, []byte(walletID), []byte{0x00}, []byte(id))
}

// PutTxProposal persists a proposal, maintaining the txid index once the
// txid is known.
func (dao *DAO) PutTxProposal(tx *wallet.TxProposal) error {
	key := txProposalKey(tx.WalletID, tx.ID)
	if err := dao.putJSON(key, tx); err != nil {
		return err
	}
	if tx.TxID != "" {
		return dao.Store.Put(AppendKey(STTxProposalIndex, []byte(tx.TxID)), key)
	}
	return nil
}

// GetTxProposal loads one proposal of a wallet.
func (dao *DAO) GetTxProposal(walletID, id string) (*wallet.TxProposal, error) {
	tx := new(wallet.TxProposal)
	if err := dao.getJSON(txProposalKey(walletID, id), tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// GetTxProposalByTxID resolves a precomputed txid into its proposal.
func (dao *DAO) GetTxProposalByTxID(txid string) (*wallet.TxProposal, error) {
	key, err := dao.Store.Get(AppendKey(STTxProposalIndex, []byte(txid)))
	if err != nil {
		return nil, err
	}
	tx := new(wallet.TxProposal)
	if err := dao.getJSON(key, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// DeleteTxProposal removes a proposal and its txid index entry.
func (dao *DAO) DeleteTxProposal(tx *wallet.TxProposal) error {
	if tx.TxID != "" {
		if err := dao.Store.Delete(AppendKey(STTxProposalIndex, []byte(tx.TxID))); err != nil {
			return err
		}
	}
	return dao.Store.Delete(txProposalKey(tx.WalletID, tx.ID))
}

// GetTxProposals returns all proposals of a wallet sorted by creation time,
// newest first.
func (dao *DAO) GetTxProposals(walletID string) ([]*wallet.TxProposal, error) {
	var (
		txps    []*wallet.TxProposal
		seekErr error
	)
	dao.Store.Seek(SeekRange{Prefix: AppendKey(STTxProposal, []byte(walletID), []byte{0x00})}, func(k, v []byte) bool {
		tx := new(wallet.TxProposal)
		if seekErr = json.Unmarshal(v, tx); seekErr != nil {
			return false
		}
		txps = append(txps, tx)
		return true
	})
	if seekErr != nil {
		return nil, seekErr
	}
	sort.Slice(txps, func(i, j int) bool {
		if txps[i].CreatedOn != txps[j].CreatedOn {
			return txps[i].CreatedOn > txps[j].CreatedOn
		}
		return txps[i].ID > txps[j].ID
	})
	return txps, nil
}

// GetPendingTxProposals returns the wallet's proposals still reserving
// inputs (pending or accepted, not yet broadcast), newest first.
func (dao *DAO) GetPendingTxProposals(walletID string) ([]*wallet.TxProposal, error) {
	txps, err := dao.GetTxProposals(walletID)
	if err != nil {
		return nil, err
	}
	pending := txps[:0]
	for _, tx := range txps {
		if tx.IsPending() {
			pending = append(pending, tx)
		}
	}
	return pending, nil
}

// GetLastTxProposals returns the copayer's most recent proposals, newest
// first, up to limit.
func (dao *DAO) GetLastTxProposals(walletID, creatorID string, limit int) ([]*wallet.TxProposal, error) {
	txps, err := dao.GetTxProposals(walletID)
	if err != nil {
		return nil, err
	}
	var out []*wallet.TxProposal
	for _, tx := range txps {
		if tx.CreatorID != creatorID {
			continue
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// -- notifications.

// NextNotificationSeq increments and returns the wallet's notification
// sequence. Callers must hold the wallet lock.
func (dao *DAO) NextNotificationSeq(walletID string) (uint64, error) {
	key := AppendKey(SYSNotificationSeq, []byte(walletID))
	var seq uint64
	data, err := dao.Store.Get(key)
	switch {
	case errors.Is(err, ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		seq = binary.BigEndian.Uint64(data)
	}
	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return seq, dao.Store.Put(key, buf[:])
}

// PutNotification appends a notification to the wallet's log.
func (dao *DAO) PutNotification(n *wallet.Notification) error {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], n.Seq)
	return dao.putJSON(AppendKey(STNotification, []byte(n.WalletID), []byte{0x00}, seq[:]), n)
}

// GetNotifications returns the wallet's notifications with id strictly
// greater than afterSeq and created no earlier than minTs, in id order.
func (dao *DAO) GetNotifications(walletID string, afterSeq uint64, minTs int64) ([]*wallet.Notification, error) {
	var (
		ns      []*wallet.Notification
		seekErr error
		start   []byte
	)
	if afterSeq > 0 {
		start = make([]byte, 8)
		binary.BigEndian.PutUint64(start, afterSeq+1)
	}
	dao.Store.Seek(SeekRange{
		Prefix: AppendKey(STNotification, []byte(walletID), []byte{0x00}),
		Start:  start,
	}, func(k, v []byte) bool {
		n := new(wallet.Notification)
		if seekErr = json.Unmarshal(v, n); seekErr != nil {
			return false
		}
		if n.CreatedOn >= minTs {
			ns = append(ns, n)
		}
		return true
	})
	return ns, seekErr
}

// -- sessions.

// GetSession loads the copayer's session.
func (dao *DAO) GetSession(copayerID string) (*wallet.Session, error) {
	s := new(wallet.Session)
	if err := dao.getJSON(AppendKey(STSession, []byte(copayerID)), s); err != nil {
		return nil, err
	}
	return s, nil
}

// PutSession stores the copayer's session.
func (dao *DAO) PutSession(s *wallet.Session) error {
	return dao.putJSON(AppendKey(STSession, []byte(s.CopayerID)), s)
}

// DeleteSession drops the copayer's session.
func (dao *DAO) DeleteSession(copayerID string) error {
	return dao.Store.Delete(AppendKey(STSession, []byte(copayerID)))
}

// -- tx notes.

func txNoteKey(walletID, txid string) []byte {
	return AppendKey(STTxNote, []byte(walletID), []byte{0x00}, []byte(txid))
}

// GetTxNote loads a note of one transaction.
func (dao *DAO) GetTxNote(walletID, txid string) (*wallet.TxNote, error) {
	n := new(wallet.TxNote)
	if err := dao.getJSON(txNoteKey(walletID, txid), n); err != nil {
		return nil, err
	}
	return n, nil
}

// PutTxNote stores a note.
func (dao *DAO) PutTxNote(n *wallet.TxNote) error {
	return dao.putJSON(txNoteKey(n.WalletID, n.TxID), n)
}

// GetTxNotes returns the wallet's notes edited at or after minTs.
func (dao *DAO) GetTxNotes(walletID string, minTs int64) ([]*wallet.TxNote, error) {
	var (
		ns      []*wallet.TxNote
		seekErr error
	)
	dao.Store.Seek(SeekRange{Prefix: AppendKey(STTxNote, []byte(walletID), []byte{0x00})}, func(k, v []byte) bool {
		n := new(wallet.TxNote)
		if seekErr = json.Unmarshal(v, n); seekErr != nil {
			return false
		}
		if n.EditedOn >= minTs {
			ns = append(ns, n)
		}
		return true
	})
	return ns, seekErr
}

// -- preferences.

// GetPreferences loads one copayer's preferences.
func (dao *DAO) GetPreferences(walletID, copayerID string) (*wallet.Preferences, error) {
	p := new(wallet.Preferences)
	if err := dao.getJSON(AppendKey(STPreferences, []byte(walletID), []byte{0x00}, []byte(copayerID)), p); err != nil {
		return nil, err
	}
	return p, nil
}

// PutPreferences stores one copayer's preferences.
func (dao *DAO) PutPreferences(p *wallet.Preferences) error {
	return dao.putJSON(AppendKey(STPreferences, []byte(p.WalletID), []byte{0x00}, []byte(p.CopayerID)), p)
}

// -- push subscriptions.

// PutPushSubscription registers a push token.
func (dao *DAO) PutPushSubscription(s *wallet.PushSubscription) error {
	return dao.putJSON(AppendKey(STPushSubscription, []byte(s.CopayerID), []byte{0x00}, []byte(s.Token)), s)
}

// DeletePushSubscription removes a push token of a copayer.
func (dao *DAO) DeletePushSubscription(copayerID, token string) error {
	return dao.Store.Delete(AppendKey(STPushSubscription, []byte(copayerID), []byte{0x00}, []byte(token)))
}

// GetPushSubscriptions returns the copayer's registered tokens.
func (dao *DAO) GetPushSubscriptions(copayerID string) ([]*wallet.PushSubscription, error) {
	var (
		subs    []*wallet.PushSubscription
		seekErr error
	)
	dao.Store.Seek(SeekRange{Prefix: AppendKey(STPushSubscription, []byte(copayerID), []byte{0x00})}, func(k, v []byte) bool {
		s := new(wallet.PushSubscription)
		if seekErr = json.Unmarshal(v, s); seekErr != nil {
			return false
		}
		subs = append(subs, s)
		return true
	})
	return subs, seekErr
}

// -- tx confirmation subscriptions.

func txConfirmationKey(txid, copayerID string) []byte {
	return AppendKey(STTxConfirmationSub, []byte(txid), []byte{0x00}, []byte(copayerID))
}

// PutTxConfirmationSub stores a confirmation subscription, keyed by txid so
// the monitor can resolve stabilised units directly.
func (dao *DAO) PutTxConfirmationSub(s *wallet.TxConfirmationSub) error {
	return dao.putJSON(txConfirmationKey(s.TxID, s.CopayerID), s)
}

// DeleteTxConfirmationSub removes one subscription.
func (dao *DAO) DeleteTxConfirmationSub(txid, copayerID string) error {
	return dao.Store.Delete(txConfirmationKey(txid, copayerID))
}

// GetTxConfirmationSubs returns all subscriptions for one txid.
func (dao *DAO) GetTxConfirmationSubs(txid string) ([]*wallet.TxConfirmationSub, error) {
	var (
		subs    []*wallet.TxConfirmationSub
		seekErr error
	)
	dao.Store.Seek(SeekRange{Prefix: AppendKey(STTxConfirmationSub, []byte(txid), []byte{0x00})}, func(k, v []byte) bool {
		s := new(wallet.TxConfirmationSub)
		if seekErr = json.Unmarshal(v, s); seekErr != nil {
			return false
		}
		subs = append(subs, s)
		return true
	})
	return subs, seekErr
}

// -- assets.

// GetAsset loads asset metadata by asset id.
func (dao *DAO) GetAsset(asset string) (*wallet.Asset, error) {
	a := new(wallet.Asset)
	if err := dao.getJSON(AppendKey(STAsset, []byte(asset)), a); err != nil {
		return nil, err
	}
	return a, nil
}

// PutAsset upserts asset metadata.
func (dao *DAO) PutAsset(a *wallet.Asset) error {
	return dao.putJSON(AppendKey(STAsset, []byte(a.Asset)), a)
}

// GetAssets returns all known assets.
func (dao *DAO) GetAssets() ([]*wallet.Asset, error) {
	var (
		assets  []*wallet.Asset
		seekErr error
	)
	dao.Store.Seek(SeekRange{Prefix: STAsset.Bytes()}, func(k, v []byte) bool {
		a := new(wallet.Asset)
		if seekErr = json.Unmarshal(v, a); seekErr != nil {
			return false
		}
		assets = append(assets, a)
		return true
	})
	return assets, seekErr
}

// -- broadcast log.

// PutBroadcastLogEntry appends to the recently-broadcast log.
func (dao *DAO) PutBroadcastLogEntry(e *wallet.BroadcastLogEntry) error {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.BroadcastedOn))
	return dao.putJSON(AppendKey(STBroadcastLog, []byte(e.WalletID), []byte{0x00}, ts[:], []byte(e.TxProposalID)), e)
}

// GetRecentBroadcasts returns broadcast-log entries newer than since, most
// recent first, capped at limit.
func (dao *DAO) GetRecentBroadcasts(walletID string, since time.Time, limit int) ([]*wallet.BroadcastLogEntry, error) {
	var (
		entries []*wallet.BroadcastLogEntry
		seekErr error
	)
	dao.Store.Seek(SeekRange{
		Prefix:    AppendKey(STBroadcastLog, []byte(walletID), []byte{0x00}),
		Backwards: true,
	}, func(k, v []byte) bool {
		e := new(wallet.BroadcastLogEntry)
		if seekErr = json.Unmarshal(v, e); seekErr != nil {
			return false
		}
		if e.BroadcastedOn < since.Unix() {
			return false
		}
		entries = append(entries, e)
		return limit == 0 || len(entries) < limit
	})
	return entries, seekErr
}

// -- fiat rates.

// PutFiatRate stores one scraped rate point.
func (dao *DAO) PutFiatRate(r *wallet.FiatRate) error {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.FetchedOn))
	return dao.putJSON(AppendKey(STFiatRate, []byte(r.Provider), []byte{0x00}, []byte(r.Code), []byte{0x00}, ts[:]), r)
}

// GetFiatRate returns the newest rate at or before ts, if any was stored
// within the look-back window.
func (dao *DAO) GetFiatRate(provider, code string, ts time.Time, lookBack time.Duration) (*wallet.FiatRate, error) {
	var (
		rate    *wallet.FiatRate
		seekErr error
		max     [8]byte
	)
	binary.BigEndian.PutUint64(max[:], uint64(ts.Unix()))
	dao.Store.Seek(SeekRange{
		Prefix:    AppendKey(STFiatRate, []byte(provider), []byte{0x00}, []byte(code), []byte{0x00}),
		Start:     max[:],
		Backwards: true,
	}, func(k, v []byte) bool {
		r := new(wallet.FiatRate)
		if seekErr = json.Unmarshal(v, r); seekErr != nil {
			return false
		}
		if r.FetchedOn >= ts.Add(-lookBack).Unix() {
			rate = r
		}
		return false
	})
	if seekErr != nil {
		return nil, seekErr
	}
	if rate == nil {
		return nil, ErrKeyNotFound
	}
	return rate, nil
}
