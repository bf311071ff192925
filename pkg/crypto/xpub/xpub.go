/*
Package xpub wraps BIP32 extended public keys as used by the wallet
coordination service: deterministic child public key derivation along
non-hardened paths, copayer identity hashing and ECDSA signature
verification over service messages.

The service never sees private keys; everything here is verify-only.
*/
package xpub

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// RequestKeyAuthPath is the derivation path whose child key authorises the
// registration of additional request public keys for a copayer.
const RequestKeyAuthPath = "m/1/0"

// XPub is a parsed extended public key.
type XPub struct {
	raw string
	key *hdkeychain.ExtendedKey
}

// Parse parses a serialised extended public key. Extended private keys are
// rejected.
func Parse(s string) (*XPub, error) {
	key, err := hdkeychain.NewKeyFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid extended key: %w", err)
	}
	if key.IsPrivate() {
		return nil, fmt.Errorf("extended private key is not acceptable here")
	}
	return &XPub{raw: s, key: key}, nil
}

// String returns the serialised form the key was parsed from.
func (x *XPub) String() string {
	return x.raw
}

// Derive derives the child public key along the given non-hardened path
// ("m/0/5", "0/5" and "m" are all accepted).
func (x *XPub) Derive(path string) (*secp256k1.PublicKey, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	key := x.key
	for _, idx := range indices {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive %q: %w", path, err)
		}
	}
	return key.ECPubKey()
}

// DeriveBase64 derives the child public key along path and returns the
// base64 encoding of its compressed form, the ledger's public key encoding.
func (x *XPub) DeriveBase64(path string) (string, error) {
	pub, err := x.Derive(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub.SerializeCompressed()), nil
}

// CopayerID derives the copayer identity from a serialised extended public
// key: the hex-encoded SHA256 of its string form.
func CopayerID(rawXPub string) string {
	h := sha256.Sum256([]byte(rawXPub))
	return hex.EncodeToString(h[:])
}

// MessageDigest returns the digest signed by clients: a double SHA256 over
// the raw message bytes.
func MessageDigest(message []byte) []byte {
	first := sha256.Sum256(message)
	second := sha256.Sum256(first[:])
	return second[:]
}

// VerifySignature verifies a base64 DER-encoded ECDSA signature over the
// double-SHA256 digest of message under the given public key.
func VerifySignature(pub *secp256k1.PublicKey, message []byte, signature string) bool {
	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(MessageDigest(message), pub)
}

// VerifySignatureBase64Key is VerifySignature with the public key given in
// its base64 compressed encoding.
func VerifySignatureBase64Key(pubB64 string, message []byte, signature string) bool {
	pub, err := ParsePubKeyBase64(pubB64)
	if err != nil {
		return false
	}
	return VerifySignature(pub, message, signature)
}

// EncodePubKeyBase64 returns the base64 encoding of the key's compressed
// form.
func EncodePubKeyBase64(pub *secp256k1.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub.SerializeCompressed())
}

// ParsePubKeyBase64 parses a base64-encoded compressed secp256k1 public key.
func ParsePubKeyBase64(s string) (*secp256k1.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 public key: %w", err)
	}
	return secp256k1.ParsePubKey(raw)
}

func parsePath(path string) ([]uint32, error) {
	path = strings.TrimPrefix(path, "m")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	indices := make([]uint32, len(parts))
	for i, p := range parts {
		if strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h") {
			return nil, fmt.Errorf("hardened index %q can't be derived from a public key", p)
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil || n >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("invalid derivation index %q", p)
		}
		indices[i] = uint32(n)
	}
	return indices, nil
}
