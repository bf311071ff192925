/*
Package keytest provides deterministic key material for tests: extended key
pairs derived from fixed seeds, plus signing helpers matching the service's
verification scheme.
*/
package keytest

import (
	"encoding/base64"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
	"github.com/stretchr/testify/require"
)

// Keys holds one copayer's deterministic key material.
type Keys struct {
	master *hdkeychain.ExtendedKey
	// XPub is the serialised extended public key.
	XPub string
}

// New derives a key set from the given seed byte. Equal seeds produce equal
// keys.
func New(t *testing.T, seed byte) *Keys {
	seedBytes := make([]byte, 32)
	for i := range seedBytes {
		seedBytes[i] = seed
	}
	master, err := hdkeychain.NewMaster(seedBytes, &chaincfg.MainNetParams)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)
	return &Keys{master: master, XPub: neutered.String()}
}

// CopayerID returns the copayer identity of the key set.
func (k *Keys) CopayerID() string {
	return xpub.CopayerID(k.XPub)
}

// Sign signs message along the given derivation path with the scheme the
// service verifies: base64 DER ECDSA over the double-SHA256 digest.
func (k *Keys) Sign(t *testing.T, path string, message []byte) string {
	key := k.master
	for _, idx := range pathIndices(t, path) {
		var err error
		key, err = key.Derive(idx)
		require.NoError(t, err)
	}
	priv, err := key.ECPrivKey()
	require.NoError(t, err)
	sig := ecdsa.Sign(priv, xpub.MessageDigest(message))
	return base64.StdEncoding.EncodeToString(sig.Serialize())
}

// PubKeyBase64 returns the base64 compressed public key at path.
func (k *Keys) PubKeyBase64(t *testing.T, path string) string {
	x, err := xpub.Parse(k.XPub)
	require.NoError(t, err)
	pub, err := x.DeriveBase64(path)
	require.NoError(t, err)
	return pub
}

func pathIndices(t *testing.T, path string) []uint32 {
	if path == "m" || path == "" {
		return nil
	}
	var indices []uint32
	var cur uint32
	var has bool
	for _, r := range path {
		switch {
		case r >= '0' && r <= '9':
			cur = cur*10 + uint32(r-'0')
			has = true
		case r == '/':
			if has {
				indices = append(indices, cur)
				cur, has = 0, false
			}
		case r == 'm':
		default:
			t.Fatalf("unexpected rune %q in path %q", r, path)
		}
	}
	if has {
		indices = append(indices, cur)
	}
	return indices
}
