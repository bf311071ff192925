package coordinator

import (
	"strings"
	"time"

	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
)

// -- tx notes.

// GetTxNote reads the shared note of a transaction.
func (s *Service) GetTxNote(auth *Auth, txid string) (*wallet.TxNote, error) {
	n, err := s.dao.GetTxNote(auth.Wallet.ID, txid)
	if storage.IsKeyNotFound(err) {
		return nil, nil
	}
	return n, err
}

// EditTxNote creates or updates a shared note. Notes are wallet state, so
// the edit runs under the wallet lock.
func (s *Service) EditTxNote(auth *Auth, txid, body string) (*wallet.TxNote, error) {
	var note *wallet.TxNote
	err := s.runLocked(auth.Wallet.ID, func() error {
		now := s.clock.Now().Unix()
		existing, err := s.dao.GetTxNote(auth.Wallet.ID, txid)
		switch {
		case err == nil:
			note = existing
		case storage.IsKeyNotFound(err):
			note = &wallet.TxNote{WalletID: auth.Wallet.ID, TxID: txid, CreatedOn: now}
		default:
			return err
		}
		note.Body = body
		note.EditedBy = auth.CopayerID()
		note.EditedOn = now
		return s.dao.PutTxNote(note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// GetTxNotes lists notes edited at or after minTs.
func (s *Service) GetTxNotes(auth *Auth, minTs int64) ([]*wallet.TxNote, error) {
	return s.dao.GetTxNotes(auth.Wallet.ID, minTs)
}

// -- preferences.

// GetPreferences reads the copayer's settings.
func (s *Service) GetPreferences(auth *Auth) (*wallet.Preferences, error) {
	p, err := s.dao.GetPreferences(auth.Wallet.ID, auth.CopayerID())
	if storage.IsKeyNotFound(err) {
		return &wallet.Preferences{WalletID: auth.Wallet.ID, CopayerID: auth.CopayerID()}, nil
	}
	return p, err
}

// SavePreferences stores the copayer's settings.
func (s *Service) SavePreferences(auth *Auth, p wallet.Preferences) error {
	p.WalletID = auth.Wallet.ID
	p.CopayerID = auth.CopayerID()
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return werr.New("INVALID_REQUEST", "Invalid email address")
	}
	return s.dao.PutPreferences(&p)
}

// -- push subscriptions.

// PushSubscribe registers a device token of the copayer.
func (s *Service) PushSubscribe(auth *Auth, sub wallet.PushSubscription) error {
	if sub.Token == "" {
		return werr.New("INVALID_REQUEST", "Missing subscription token")
	}
	sub.CopayerID = auth.CopayerID()
	sub.CreatedOn = s.clock.Now().Unix()
	return s.dao.PutPushSubscription(&sub)
}

// PushUnsubscribe removes a device token.
func (s *Service) PushUnsubscribe(auth *Auth, token string) error {
	err := s.dao.DeletePushSubscription(auth.CopayerID(), token)
	if storage.IsKeyNotFound(err) {
		return nil
	}
	return err
}

// -- tx confirmation subscriptions.

// TxConfirmationSubscribe arms a single-shot notification for the
// stabilisation of a transaction.
func (s *Service) TxConfirmationSubscribe(auth *Auth, txid string) error {
	if txid == "" {
		return werr.New("INVALID_REQUEST", "Missing txid")
	}
	return s.dao.PutTxConfirmationSub(&wallet.TxConfirmationSub{
		CopayerID: auth.CopayerID(),
		WalletID:  auth.Wallet.ID,
		TxID:      txid,
		IsActive:  true,
		CreatedOn: s.clock.Now().Unix(),
	})
}

// TxConfirmationUnsubscribe disarms the copayer's confirmation subscription.
func (s *Service) TxConfirmationUnsubscribe(auth *Auth, txid string) error {
	err := s.dao.DeleteTxConfirmationSub(txid, auth.CopayerID())
	if storage.IsKeyNotFound(err) {
		return nil
	}
	return err
}

// -- assets and fiat rates.

// GetAssets lists the known asset metadata records.
func (s *Service) GetAssets() ([]*wallet.Asset, error) {
	return s.dao.GetAssets()
}

// GetAsset reads one asset's metadata.
func (s *Service) GetAsset(asset string) (*wallet.Asset, error) {
	a, err := s.dao.GetAsset(asset)
	if storage.IsKeyNotFound(err) {
		return nil, werr.New("ASSET_NOT_FOUND", "Unknown asset")
	}
	return a, err
}

// GetFiatRate returns the scraped rate closest before ts (now when zero)
// within the configured look-back window.
func (s *Service) GetFiatRate(provider, code string, ts time.Time, lookBack time.Duration) (*wallet.FiatRate, error) {
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	r, err := s.dao.GetFiatRate(provider, code, ts, lookBack)
	if storage.IsKeyNotFound(err) {
		return nil, werr.New("FIAT_RATE_NOT_FOUND", "No rate available for the requested time")
	}
	return r, err
}
