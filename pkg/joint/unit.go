/*
Package joint models ledger units (joints): the DAG-ledger analogue of
transactions. A unit carries authors with their authentifiers, a list of
messages (payment or data payloads) and commission fields. The package also
provides the canonical hashing used for both the signing digest and the unit
id.
*/
package joint

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	ojson "github.com/nspcc-dev/go-ordered-json"
)

// Supported unit version and asset aliases.
const (
	Version = "3.0"
	// BaseAsset denotes the native coin.
	BaseAsset = "base"
	// MaxBaseSupply is the whole-unit supply of the native coin; output
	// amounts must not exceed it.
	MaxBaseSupply = 1e15
)

// SigPlaceholder substitutes a not-yet-collected signature inside a draft
// unit. It has the length of a real base64 signature so that commission
// estimates stay stable when signatures arrive.
const SigPlaceholder = "----------------------------------------------------------------------------------------"

// Input references one unspent output by (unit, message index, output
// index).
type Input struct {
	Unit         string `json:"unit"`
	MessageIndex int    `json:"message_index"`
	OutputIndex  int    `json:"output_index"`
}

// Key returns the canonical identity of the consumed output.
func (in Input) Key() string {
	return fmt.Sprintf("%s:%d:%d", in.Unit, in.MessageIndex, in.OutputIndex)
}

// Output sends an amount to an address.
type Output struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// Author is a unit author: an address plus its authentifiers (signatures
// keyed by signing path).
type Author struct {
	Address       string            `json:"address"`
	Authentifiers map[string]string `json:"authentifiers"`
	// Definition is included for the first unit authored by an address.
	Definition ojson.RawMessage `json:"definition,omitempty"`
}

// Message is one payload of a unit. Payment messages carry inputs/outputs;
// other apps carry an opaque inline payload.
type Message struct {
	App             string           `json:"app"`
	PayloadLocation string           `json:"payload_location"`
	PayloadHash     string           `json:"payload_hash"`
	Payload         *PaymentPayload  `json:"payload,omitempty"`
	DataPayload     ojson.RawMessage `json:"data_payload,omitempty"`
}

// PaymentPayload is the payload of a payment message.
type PaymentPayload struct {
	Asset   string   `json:"asset,omitempty"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// Unit is one ledger record.
type Unit struct {
	Version           string    `json:"version"`
	Alt               string    `json:"alt"`
	Authors           []Author  `json:"authors"`
	Messages          []Message `json:"messages"`
	ParentUnits       []string  `json:"parent_units,omitempty"`
	LastBall          string    `json:"last_ball,omitempty"`
	LastBallUnit      string    `json:"last_ball_unit,omitempty"`
	Timestamp         int64     `json:"timestamp"`
	HeadersCommission int       `json:"headers_commission"`
	PayloadCommission int       `json:"payload_commission"`
}

// Joint wraps a unit for submission.
type Joint struct {
	Unit *Unit `json:"unit"`
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	cp := *u
	cp.Authors = make([]Author, len(u.Authors))
	for i, a := range u.Authors {
		cp.Authors[i] = a
		cp.Authors[i].Authentifiers = make(map[string]string, len(a.Authentifiers))
		for k, v := range a.Authentifiers {
			cp.Authors[i].Authentifiers[k] = v
		}
	}
	cp.Messages = make([]Message, len(u.Messages))
	copy(cp.Messages, u.Messages)
	for i, m := range u.Messages {
		if m.Payload != nil {
			p := *m.Payload
			p.Inputs = append([]Input(nil), m.Payload.Inputs...)
			p.Outputs = append([]Output(nil), m.Payload.Outputs...)
			cp.Messages[i].Payload = &p
		}
	}
	cp.ParentUnits = append([]string(nil), u.ParentUnits...)
	return &cp
}

// Inputs returns all payment inputs of the unit.
func (u *Unit) Inputs() []Input {
	var inputs []Input
	for _, m := range u.Messages {
		if m.Payload != nil {
			inputs = append(inputs, m.Payload.Inputs...)
		}
	}
	return inputs
}

// Outputs returns all payment outputs of the unit.
func (u *Unit) Outputs() []Output {
	var outputs []Output
	for _, m := range u.Messages {
		if m.Payload != nil {
			outputs = append(outputs, m.Payload.Outputs...)
		}
	}
	return outputs
}

// SigningDigest returns the digest copayers sign: SHA256 over the canonical
// serialisation of the unit with every authentifier replaced by the
// placeholder. Deterministic for a given draft.
func (u *Unit) SigningDigest() ([]byte, error) {
	cp := u.Clone()
	for i := range cp.Authors {
		for path := range cp.Authors[i].Authentifiers {
			cp.Authors[i].Authentifiers[path] = SigPlaceholder
		}
	}
	return hashUnit(cp)
}

// ID computes the unit id: base64 SHA256 over the canonical serialisation
// with authentifiers stripped. The id is stable no matter which signatures
// were collected.
func (u *Unit) ID() (string, error) {
	cp := u.Clone()
	for i := range cp.Authors {
		cp.Authors[i].Authentifiers = nil
	}
	digest, err := hashUnit(cp)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(digest), nil
}

func hashUnit(u *Unit) ([]byte, error) {
	data, err := ojson.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshal unit: %w", err)
	}
	digest := sha256.Sum256(data)
	return digest[:], nil
}

// Hash computes the canonical hash of a payment payload.
func (p *PaymentPayload) Hash() (string, error) {
	data, err := ojson.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	digest := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(digest[:]), nil
}
