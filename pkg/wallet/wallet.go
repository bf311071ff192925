/*
Package wallet contains the persistent data model of the coordination
service: wallets with their copayer rosters, derived addresses, transaction
proposals, notifications and the supporting records (sessions, notes,
preferences, subscriptions, assets).

The service holds no private keys. A wallet stores extended public keys and
derivation metadata only; everything here is JSON-serialisable into the
storage layer's document shapes.
*/
package wallet

import (
	"fmt"
	"time"

	ojson "github.com/nspcc-dev/go-ordered-json"
	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
	"github.com/obytehq/walletsrv/pkg/definition"
)

// Wallet status values.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
)

// Scan status values.
const (
	ScanStatusIdle    = ""
	ScanStatusRunning = "running"
	ScanStatusSuccess = "success"
	ScanStatusError   = "error"
)

// Derivation strategies.
const (
	DerivationBIP44  = "BIP44"
	DerivationLegacy = "legacy"
)

// Address types.
const (
	AddressTypeNormal = "normal"
	AddressTypeShared = "shared"
)

// MaxCopayers is the upper bound of n.
const MaxCopayers = 15

// Wallet is a shared m-of-n wallet.
type Wallet struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	M                  int              `json:"m"`
	N                  int              `json:"n"`
	Coin               string           `json:"coin"`
	Network            string           `json:"network"`
	SingleAddress      bool             `json:"singleAddress"`
	Status             string           `json:"status"`
	PubKey             string           `json:"pubKey"`
	DerivationStrategy string           `json:"derivationStrategy"`
	AddressType        string           `json:"addressType"`
	DefinitionTemplate ojson.RawMessage `json:"definitionTemplate,omitempty"`
	Copayers           []*Copayer       `json:"copayers"`
	ReceiveIndex       uint32           `json:"receiveIndex"`
	ChangeIndex        uint32           `json:"changeIndex"`
	ScanStatus         string           `json:"scanStatus,omitempty"`
	CreatedOn          int64            `json:"createdOn"`
}

// CheckCopayerQuorum validates an (m, n) pair against the legal range.
func CheckCopayerQuorum(m, n int) error {
	if n < 1 || n > MaxCopayers {
		return fmt.Errorf("invalid number of copayers %d", n)
	}
	if m < 1 || m > n {
		return fmt.Errorf("invalid required copayers %d of %d", m, n)
	}
	return nil
}

// New creates a pending wallet. The address type follows n: normal for
// single-copayer wallets, shared otherwise.
func New(id, name string, m, n int, coin, network, pubKey string, singleAddress bool, now time.Time) (*Wallet, error) {
	if err := CheckCopayerQuorum(m, n); err != nil {
		return nil, err
	}
	addressType := AddressTypeNormal
	if n > 1 {
		addressType = AddressTypeShared
	}
	tmpl, err := definition.Template(m, n)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		ID:                 id,
		Name:               name,
		M:                  m,
		N:                  n,
		Coin:               coin,
		Network:            network,
		SingleAddress:      singleAddress,
		Status:             StatusPending,
		PubKey:             pubKey,
		DerivationStrategy: DerivationBIP44,
		AddressType:        addressType,
		DefinitionTemplate: ojson.RawMessage(tmpl),
		CreatedOn:          now.Unix(),
	}, nil
}

// IsComplete reports whether all n copayers have joined.
func (w *Wallet) IsComplete() bool {
	return w.Status == StatusComplete
}

// IsScanActive reports whether a scan currently owns the wallet.
func (w *Wallet) IsScanActive() bool {
	return w.ScanStatus == ScanStatusRunning
}

// NeedsScan reports whether a failed scan pinned the wallet.
func (w *Wallet) NeedsScan() bool {
	return w.ScanStatus == ScanStatusError
}

// CopayerByID finds a copayer of this wallet.
func (w *Wallet) CopayerByID(id string) *Copayer {
	for _, c := range w.Copayers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// CopayerByXPub finds a copayer by its extended public key.
func (w *Wallet) CopayerByXPub(rawXPub string) *Copayer {
	for _, c := range w.Copayers {
		if c.XPub == rawXPub {
			return c
		}
	}
	return nil
}

// AddCopayer appends a copayer to the roster and completes the wallet once
// the roster is full. The key ring is frozen from that point on.
func (w *Wallet) AddCopayer(c *Copayer) error {
	if w.IsComplete() {
		return fmt.Errorf("wallet %s is already complete", w.ID)
	}
	if w.CopayerByXPub(c.XPub) != nil {
		return fmt.Errorf("duplicate xpub in wallet %s", w.ID)
	}
	w.Copayers = append(w.Copayers, c)
	if len(w.Copayers) == w.N {
		w.Status = StatusComplete
	}
	return nil
}

// PublicKeyRing parses the roster's xpubs into the ordered key ring used for
// address derivation.
func (w *Wallet) PublicKeyRing() ([]definition.RingKey, error) {
	ring := make([]definition.RingKey, len(w.Copayers))
	for i, c := range w.Copayers {
		x, err := xpub.Parse(c.XPub)
		if err != nil {
			return nil, fmt.Errorf("copayer %s: %w", c.ID, err)
		}
		ring[i] = definition.RingKey{XPub: x, DeviceID: c.DeviceID}
	}
	return ring, nil
}

// DeriveAddress derives the wallet address at the given branch and index.
// The result is deterministic given the frozen key ring.
func (w *Wallet) DeriveAddress(isChange bool, index uint32) (*Address, error) {
	ring, err := w.PublicKeyRing()
	if err != nil {
		return nil, err
	}
	path := definition.Path(isChange, index)
	derived, err := definition.Derive(w.DefinitionTemplate, ring, path)
	if err != nil {
		return nil, err
	}
	return &Address{
		Address:      derived.Address,
		WalletID:     w.ID,
		IsChange:     isChange,
		Index:        index,
		Path:         path,
		AddressType:  w.AddressType,
		Definition:   ojson.RawMessage(derived.Definition),
		SigningPaths: derived.SigningPaths,
		CreatedOn:    time.Now().Unix(),
	}, nil
}
