/*
Package definition builds and derives multisig address definitions.

A wallet pins a definition template at completion time: a boolean clause over
signature predicates with per-copayer public key placeholders. Deriving an
address substitutes child public keys (derived along `m/change/index` from
each copayer's xpub) into the template, canonicalises the result with ordered
JSON and hashes it into the address string. The derivation is fully
deterministic: the same key ring and path always produce the same
(address, definition, signing paths) tuple.
*/
package definition

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/nspcc-dev/go-ordered-json"
	"github.com/obytehq/walletsrv/pkg/crypto/chash"
	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
)

// placeholderPrefix marks per-copayer public key substitution points in a
// definition template.
const placeholderPrefix = "$pubkey@"

// RingKey is one public-key-ring entry.
type RingKey struct {
	// XPub is the copayer's parsed extended public key.
	XPub *xpub.XPub
	// DeviceID identifies the copayer's device within the shared
	// definition.
	DeviceID string
}

// Derived is the result of deriving one address.
type Derived struct {
	// Address is the checksummed base32 address string.
	Address string
	// Definition is the canonical JSON of the fully substituted
	// definition clause.
	Definition []byte
	// SigningPaths maps each participating public key (base64,
	// compressed) to its signing path within the definition ("r" for a
	// single-sig clause, "r.0", "r.1", ... for a shared one).
	SigningPaths map[string]string
}

// Template builds the canonical definition template for an m-of-n wallet.
// For n = 1 it is a single signature clause; otherwise an "r of set" clause
// of m required signatures over n sig sub-clauses in copayer order.
func Template(m, n int) ([]byte, error) {
	if m < 1 || n < 1 || m > n {
		return nil, fmt.Errorf("invalid quorum %d of %d", m, n)
	}
	if n == 1 {
		return json.Marshal(sigClause(placeholderPrefix + "0"))
	}
	set := make([]any, n)
	for i := 0; i < n; i++ {
		set[i] = sigClause(placeholderPrefix + strconv.Itoa(i))
	}
	return json.Marshal([]any{"r of set", json.OrderedObject{
		{Key: "required", Value: m},
		{Key: "set", Value: set},
	}})
}

func sigClause(pubkey string) []any {
	return []any{"sig", json.OrderedObject{{Key: "pubkey", Value: pubkey}}}
}

// Derive substitutes the ring's child public keys along path into the
// template and hashes the canonical result into an address.
func Derive(template []byte, ring []RingKey, path string) (*Derived, error) {
	if len(ring) == 0 {
		return nil, fmt.Errorf("empty public key ring")
	}
	pubkeys := make([]string, len(ring))
	for i, rk := range ring {
		pub, err := rk.XPub.DeriveBase64(path)
		if err != nil {
			return nil, fmt.Errorf("ring entry %d: %w", i, err)
		}
		pubkeys[i] = pub
	}

	var tmpl any
	dec := json.NewDecoder(strings.NewReader(string(template)))
	dec.UseOrderedObject()
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("invalid definition template: %w", err)
	}
	substituted, err := substitute(tmpl, pubkeys)
	if err != nil {
		return nil, err
	}
	defJSON, err := json.Marshal(substituted)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}

	signingPaths := make(map[string]string, len(pubkeys))
	if len(pubkeys) == 1 {
		signingPaths[pubkeys[0]] = "r"
	} else {
		for i, pub := range pubkeys {
			signingPaths[pub] = "r." + strconv.Itoa(i)
		}
	}
	return &Derived{
		Address:      chash.Get160(string(defJSON)),
		Definition:   defJSON,
		SigningPaths: signingPaths,
	}, nil
}

// Path renders the wallet-relative derivation path for an address index.
func Path(isChange bool, index uint32) string {
	change := 0
	if isChange {
		change = 1
	}
	return fmt.Sprintf("m/%d/%d", change, index)
}

// substitute walks a decoded template replacing pubkey placeholders.
func substitute(node any, pubkeys []string) (any, error) {
	switch v := node.(type) {
	case string:
		if !strings.HasPrefix(v, placeholderPrefix) {
			return v, nil
		}
		idx, err := strconv.Atoi(v[len(placeholderPrefix):])
		if err != nil || idx < 0 || idx >= len(pubkeys) {
			return nil, fmt.Errorf("placeholder %q out of ring range", v)
		}
		return pubkeys[idx], nil
	case []any:
		out := make([]any, len(v))
		for i := range v {
			sub, err := substitute(v[i], pubkeys)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case json.OrderedObject:
		out := make(json.OrderedObject, len(v))
		for i := range v {
			sub, err := substitute(v[i].Value, pubkeys)
			if err != nil {
				return nil, err
			}
			out[i] = json.Member{Key: v[i].Key, Value: sub}
		}
		return out, nil
	default:
		return v, nil
	}
}
