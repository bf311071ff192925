package wallet

import (
	"time"

	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
)

// RequestKey is one entry of a copayer's request-public-key history.
type RequestKey struct {
	// Key is the base64 compressed public key used to sign requests.
	Key string `json:"key"`
	// Signature authorises the key: for the initial key it is signed
	// under the wallet creation key, for later keys under the copayer's
	// request-key-auth derivation.
	Signature string `json:"signature"`
	CreatedOn int64  `json:"createdOn"`
}

// Copayer is a participant of a shared wallet. Its id is the hash of its
// extended public key, which also makes it globally unique across wallets.
type Copayer struct {
	ID       string `json:"id"`
	WalletID string `json:"walletId"`
	Name     string `json:"name"`
	XPub     string `json:"xPubKey"`
	// Account is the BIP44 account index the xpub was derived at.
	Account  uint32 `json:"account"`
	DeviceID string `json:"deviceId"`
	// RequestPubKeys is the history of request public keys; the first
	// entry is current. At most MaxKeys entries are kept.
	RequestPubKeys []RequestKey `json:"requestPubKeys"`
	CustomData     string       `json:"customData,omitempty"`
	IsSupportStaff bool         `json:"isSupportStaff,omitempty"`
	CreatedOn      int64        `json:"createdOn"`
}

// NewCopayer builds a copayer record; the id is derived from the xpub.
func NewCopayer(walletID, name, rawXPub string, account uint32, deviceID, requestPubKey, signature string, now time.Time) *Copayer {
	return &Copayer{
		ID:       xpub.CopayerID(rawXPub),
		WalletID: walletID,
		Name:     name,
		XPub:     rawXPub,
		Account:  account,
		DeviceID: deviceID,
		RequestPubKeys: []RequestKey{{
			Key:       requestPubKey,
			Signature: signature,
			CreatedOn: now.Unix(),
		}},
		CreatedOn: now.Unix(),
	}
}

// CurrentRequestKey returns the copayer's active request public key.
func (c *Copayer) CurrentRequestKey() RequestKey {
	return c.RequestPubKeys[0]
}

// HasRequestKey reports whether key is anywhere in the copayer's key
// history. Signatures under historic keys stay valid.
func (c *Copayer) HasRequestKey(key string) bool {
	for _, rk := range c.RequestPubKeys {
		if rk.Key == key {
			return true
		}
	}
	return false
}

// AddRequestKey prepends a new current request key, trimming the history to
// maxKeys entries.
func (c *Copayer) AddRequestKey(key, signature string, maxKeys int, now time.Time) {
	entry := RequestKey{Key: key, Signature: signature, CreatedOn: now.Unix()}
	c.RequestPubKeys = append([]RequestKey{entry}, c.RequestPubKeys...)
	if len(c.RequestPubKeys) > maxKeys {
		c.RequestPubKeys = c.RequestPubKeys[:maxKeys]
	}
}

// VerifyRequestSignature checks a request signature against every key in the
// copayer's history.
func (c *Copayer) VerifyRequestSignature(message []byte, signature string) bool {
	for _, rk := range c.RequestPubKeys {
		if xpub.VerifySignatureBase64Key(rk.Key, message, signature) {
			return true
		}
	}
	return false
}
