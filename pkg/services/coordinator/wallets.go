package coordinator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
	"go.uber.org/zap"
)

// CreateWalletRequest are the parameters of wallet creation. Creation is
// unauthenticated: the wallet binds to its creator only when they join.
type CreateWalletRequest struct {
	// ID is optional; a random one is assigned when empty.
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	M             int    `json:"m"`
	N             int    `json:"n"`
	Coin          string `json:"coin"`
	Network       string `json:"network"`
	PubKey        string `json:"pubKey"`
	SingleAddress bool   `json:"singleAddress,omitempty"`
}

// CreateWallet registers a pending wallet and returns its id.
func (s *Service) CreateWallet(req CreateWalletRequest) (string, error) {
	if strings.TrimSpace(req.Name) == "" {
		return "", werr.New("INVALID_REQUEST", "Wallet name is required")
	}
	if err := wallet.CheckCopayerQuorum(req.M, req.N); err != nil {
		return "", werr.New("INVALID_REQUEST", err.Error())
	}
	if _, err := xpub.ParsePubKeyBase64(req.PubKey); err != nil {
		return "", werr.New("INVALID_REQUEST", "Invalid wallet creation public key")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := s.dao.GetWallet(id); err == nil {
		return "", werr.ErrWalletAlreadyExists
	} else if !storage.IsKeyNotFound(err) {
		return "", err
	}
	w, err := wallet.New(id, req.Name, req.M, req.N, req.Coin, req.Network, req.PubKey, req.SingleAddress, s.clock.Now())
	if err != nil {
		return "", err
	}
	if err := s.dao.PutWallet(w); err != nil {
		return "", err
	}
	s.log.Info("wallet created",
		zap.String("wallet", w.ID),
		zap.Int("m", w.M),
		zap.Int("n", w.N),
		zap.String("network", w.Network))
	return w.ID, nil
}

// JoinWalletRequest are the parameters of a copayer joining a wallet.
type JoinWalletRequest struct {
	WalletID string `json:"walletId"`
	Name     string `json:"name"`
	XPub     string `json:"xPubKey"`
	// RequestPubKey is the key future requests of this copayer are
	// signed with.
	RequestPubKey string `json:"requestPubKey"`
	// CopayerSignature covers "name|xpub|requestPubKey" under the wallet
	// creation key.
	CopayerSignature string `json:"copayerSignature"`
	DeviceID         string `json:"deviceId"`
	Account          uint32 `json:"account"`
	CustomData       string `json:"customData,omitempty"`
	Coin             string `json:"coin,omitempty"`
	Network          string `json:"network,omitempty"`
	// DryRun validates and returns the resulting view without mutating
	// any state.
	DryRun bool `json:"dryRun,omitempty"`
}

// JoinWalletResult is the view returned to a joined copayer.
type JoinWalletResult struct {
	CopayerID string         `json:"copayerId"`
	Wallet    *wallet.Wallet `json:"wallet"`
}

// JoinWallet adds a copayer to a pending wallet. On the nth join the wallet
// completes, the key ring freezes and a WalletComplete notification is
// emitted (never for single-copayer wallets).
func (s *Service) JoinWallet(req JoinWalletRequest) (*JoinWalletResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, werr.New("INVALID_REQUEST", "Copayer name is required")
	}
	if _, err := xpub.Parse(req.XPub); err != nil {
		return nil, werr.New("INVALID_REQUEST", fmt.Sprintf("Invalid extended public key: %v", err))
	}
	var res *JoinWalletResult
	err := s.runLocked(req.WalletID, func() error {
		w, err := s.dao.GetWallet(req.WalletID)
		if err != nil {
			if storage.IsKeyNotFound(err) {
				return werr.ErrWalletNotFound
			}
			return err
		}
		if (req.Coin != "" && req.Coin != w.Coin) || (req.Network != "" && req.Network != w.Network) {
			return werr.ErrWalletNotFound
		}
		if !verifyJoinSignature(w.PubKey, req.Name, req.XPub, req.RequestPubKey, req.CopayerSignature) {
			return werr.ErrNotAuthorized
		}
		if w.IsComplete() {
			return werr.ErrWalletFull
		}
		if w.CopayerByXPub(req.XPub) != nil {
			return werr.ErrCopayerInWallet
		}
		copayerID := xpub.CopayerID(req.XPub)
		if _, err := s.dao.GetCopayerLookup(copayerID); err == nil {
			return werr.ErrCopayerRegistered
		} else if !storage.IsKeyNotFound(err) {
			return err
		}
		c := wallet.NewCopayer(w.ID, req.Name, req.XPub, req.Account, req.DeviceID,
			req.RequestPubKey, req.CopayerSignature, s.clock.Now())
		c.CustomData = req.CustomData
		if err := w.AddCopayer(c); err != nil {
			return werr.New("INVALID_REQUEST", err.Error())
		}
		res = &JoinWalletResult{CopayerID: c.ID, Wallet: w}
		if req.DryRun {
			return nil
		}
		if err := s.dao.PutWallet(w); err != nil {
			return err
		}
		if err := s.dao.PutCopayerLookup(&storage.CopayerLookup{
			CopayerID:      c.ID,
			WalletID:       w.ID,
			DeviceID:       c.DeviceID,
			RequestPubKeys: c.RequestPubKeys,
		}); err != nil {
			return err
		}
		if err := s.notify(w.ID, wallet.NotificationNewCopayer, c.ID, map[string]string{
			"copayerId":   c.ID,
			"copayerName": c.Name,
		}); err != nil {
			return err
		}
		if w.IsComplete() && w.N > 1 {
			if err := s.notify(w.ID, wallet.NotificationWalletComplete, c.ID, nil); err != nil {
				return err
			}
		}
		s.log.Info("copayer joined",
			zap.String("wallet", w.ID),
			zap.String("copayer", c.ID),
			zap.Bool("complete", w.IsComplete()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AddAccess appends a new request public key to the copayer, authorised by a
// signature under the xpub's request-key-auth derivation.
func (s *Service) AddAccess(copayerID, newKey, signature string) error {
	lookup, err := s.dao.GetCopayerLookup(copayerID)
	if err != nil {
		if storage.IsKeyNotFound(err) {
			return werr.ErrCopayerNotFound
		}
		return err
	}
	return s.runLocked(lookup.WalletID, func() error {
		w, err := s.dao.GetWallet(lookup.WalletID)
		if err != nil {
			return err
		}
		c := w.CopayerByID(copayerID)
		if c == nil {
			return werr.ErrCopayerNotFound
		}
		x, err := xpub.Parse(c.XPub)
		if err != nil {
			return err
		}
		authKey, err := x.Derive(xpub.RequestKeyAuthPath)
		if err != nil {
			return err
		}
		if !xpub.VerifySignature(authKey, []byte(newKey), signature) {
			return werr.ErrInvalidSignature
		}
		if len(c.RequestPubKeys) >= s.Config.MaxKeys {
			return werr.ErrTooManyKeys
		}
		c.AddRequestKey(newKey, signature, s.Config.MaxKeys, s.clock.Now())
		if err := s.dao.PutWallet(w); err != nil {
			return err
		}
		lookup.RequestPubKeys = c.RequestPubKeys
		return s.dao.PutCopayerLookup(lookup)
	})
}

// Status is the composite wallet view returned by status queries.
type Status struct {
	Wallet             *wallet.Wallet       `json:"wallet"`
	PendingTxProposals []*wallet.TxProposal `json:"pendingTxps"`
	Preferences        *wallet.Preferences  `json:"preferences,omitempty"`
}

// GetStatus assembles the wallet view for the authenticated copayer.
func (s *Service) GetStatus(auth *Auth) (*Status, error) {
	pending, err := s.dao.GetPendingTxProposals(auth.Wallet.ID)
	if err != nil {
		return nil, err
	}
	st := &Status{Wallet: auth.Wallet, PendingTxProposals: pending}
	prefs, err := s.dao.GetPreferences(auth.Wallet.ID, auth.CopayerID())
	switch {
	case err == nil:
		st.Preferences = prefs
	case !storage.IsKeyNotFound(err):
		return nil, err
	}
	return st, nil
}

// GetWalletFromIdentifier resolves a wallet by id, by one of its addresses
// or by a known txid. Address and txid resolution is intended for support
// staff only; the caller enforces that.
func (s *Service) GetWalletFromIdentifier(identifier string) (*wallet.Wallet, error) {
	w, err := s.dao.GetWallet(identifier)
	if err == nil {
		return w, nil
	}
	if !storage.IsKeyNotFound(err) {
		return nil, err
	}
	if a, err := s.dao.GetAddress(identifier); err == nil {
		return s.dao.GetWallet(a.WalletID)
	} else if !storage.IsKeyNotFound(err) {
		return nil, err
	}
	if tx, err := s.dao.GetTxProposalByTxID(identifier); err == nil {
		return s.dao.GetWallet(tx.WalletID)
	} else if !storage.IsKeyNotFound(err) {
		return nil, err
	}
	return nil, werr.ErrWalletNotFound
}

// UpdateWalletName renames the wallet.
func (s *Service) UpdateWalletName(auth *Auth, name string) error {
	if strings.TrimSpace(name) == "" {
		return werr.New("INVALID_REQUEST", "Wallet name is required")
	}
	return s.runLocked(auth.Wallet.ID, func() error {
		w, err := s.dao.GetWallet(auth.Wallet.ID)
		if err != nil {
			return err
		}
		w.Name = name
		return s.dao.PutWallet(w)
	})
}

// UpdateCopayerName renames the authenticated copayer.
func (s *Service) UpdateCopayerName(auth *Auth, name string) error {
	if strings.TrimSpace(name) == "" {
		return werr.New("INVALID_REQUEST", "Copayer name is required")
	}
	return s.runLocked(auth.Wallet.ID, func() error {
		w, err := s.dao.GetWallet(auth.Wallet.ID)
		if err != nil {
			return err
		}
		c := w.CopayerByID(auth.CopayerID())
		if c == nil {
			return werr.ErrCopayerNotFound
		}
		c.Name = name
		return s.dao.PutWallet(w)
	})
}

// GetCopayersByDevice lists the wallet bindings registered from a device.
func (s *Service) GetCopayersByDevice(deviceID string) ([]*storage.CopayerLookup, error) {
	return s.dao.GetCopayerLookupsByDevice(deviceID)
}
