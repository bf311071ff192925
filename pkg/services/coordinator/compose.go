package coordinator

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"

	ojson "github.com/nspcc-dev/go-ordered-json"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/joint"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
)

// unitAlt is the ledger alternative identifier carried by every unit.
const unitAlt = "1"

// draft is the result of unit composition: the unsigned unit with
// placeholder authentifiers plus the signing metadata of its authors.
type draft struct {
	Unit        *joint.Unit
	SigningInfo map[string]wallet.SigningInfo
}

// composePayment builds a draft payment unit. Base inputs are selected
// largest-first until they cover the base outputs plus the size-derived
// commissions; the remainder goes to the change address. For non-base
// assets the asset outputs are covered exactly by asset inputs in their own
// message, and a base message pays the commissions.
func (s *Service) composePayment(available []explorer.UTXO, byAddress map[string]*wallet.Address,
	asset string, outputs []joint.Output, change *wallet.Address, timestamp int64) (*draft, error) {
	if asset == "" || asset == joint.BaseAsset {
		return s.composeBase(available, byAddress, outputs, change, nil, timestamp)
	}

	var assetUTXOs []explorer.UTXO
	for _, u := range available {
		if u.Asset == asset {
			assetUTXOs = append(assetUTXOs, u)
		}
	}
	var target int64
	for _, o := range outputs {
		target += o.Amount
	}
	selected, total := selectLargestFirst(assetUTXOs, target)
	if total < target {
		return nil, werr.ErrInsufficientFunds
	}
	assetOutputs := append([]joint.Output{}, outputs...)
	if total > target {
		assetOutputs = append(assetOutputs, joint.Output{Address: change.Address, Amount: total - target})
	}
	msg, err := paymentMessage(&joint.PaymentPayload{
		Asset:   asset,
		Inputs:  toInputs(selected),
		Outputs: sortOutputs(assetOutputs),
	})
	if err != nil {
		return nil, err
	}
	d, err := s.composeBase(available, byAddress, nil, change, []joint.Message{*msg}, timestamp)
	if err != nil {
		return nil, err
	}
	// Asset input owners sign too.
	if err := addAuthors(d, selected, byAddress); err != nil {
		return nil, err
	}
	return d, nil
}

// composeData builds a draft unit carrying an opaque app payload; base
// inputs only pay the commissions.
func (s *Service) composeData(available []explorer.UTXO, byAddress map[string]*wallet.Address,
	app string, payload ojson.RawMessage, change *wallet.Address, timestamp int64) (*draft, error) {
	msg := joint.Message{
		App:             app,
		PayloadLocation: "inline",
		PayloadHash:     rawPayloadHash(payload),
		DataPayload:     payload,
	}
	return s.composeBase(available, byAddress, nil, change, []joint.Message{msg}, timestamp)
}

// composeBase selects base inputs covering outputs plus commissions and
// assembles the complete draft. Commissions derive from the serialised unit
// size, so selection iterates: each added input re-prices the unit until the
// selected total covers it.
func (s *Service) composeBase(available []explorer.UTXO, byAddress map[string]*wallet.Address,
	outputs []joint.Output, change *wallet.Address, extra []joint.Message, timestamp int64) (*draft, error) {
	var target int64
	for _, o := range outputs {
		target += o.Amount
	}
	var base []explorer.UTXO
	for _, u := range available {
		if u.Asset == "" || u.Asset == joint.BaseAsset {
			base = append(base, u)
		}
	}
	sort.Slice(base, func(i, j int) bool { return base[i].Amount > base[j].Amount })

	var (
		selected []explorer.UTXO
		total    int64
	)
	for _, u := range base {
		selected = append(selected, u)
		total += u.Amount
		d, err := s.buildDraft(selected, byAddress, outputs, change, total-target, extra, timestamp)
		if err != nil {
			return nil, err
		}
		fee := int64(d.Unit.HeadersCommission + d.Unit.PayloadCommission)
		if total < target+fee {
			continue
		}
		// Re-price with the final change amount; the size difference
		// is a few digits at most, so one extra pass settles it.
		return s.buildDraft(selected, byAddress, outputs, change, total-target-fee, extra, timestamp)
	}
	return nil, werr.ErrInsufficientFunds
}

// buildDraft assembles a candidate unit from the selected base inputs and
// prices it.
func (s *Service) buildDraft(selected []explorer.UTXO, byAddress map[string]*wallet.Address,
	outputs []joint.Output, change *wallet.Address, changeAmount int64, extra []joint.Message, timestamp int64) (*draft, error) {
	baseOutputs := append([]joint.Output{}, outputs...)
	if changeAmount > 0 {
		baseOutputs = append(baseOutputs, joint.Output{Address: change.Address, Amount: changeAmount})
	}
	msg, err := paymentMessage(&joint.PaymentPayload{
		Inputs:  toInputs(selected),
		Outputs: sortOutputs(baseOutputs),
	})
	if err != nil {
		return nil, err
	}
	messages := append(append([]joint.Message{}, extra...), *msg)

	u := &joint.Unit{
		Version:   joint.Version,
		Alt:       unitAlt,
		Messages:  messages,
		Timestamp: timestamp,
	}
	d := &draft{Unit: u, SigningInfo: make(map[string]wallet.SigningInfo)}
	if err := addAuthors(d, selected, byAddress); err != nil {
		return nil, err
	}
	u.HeadersCommission = headersCommissionOf(u)
	u.PayloadCommission = payloadCommissionOf(u)
	return d, nil
}

// addAuthors merges the input owners into the draft's author list and
// signing info, keeping authors sorted by address. Authentifier slots hold
// placeholders so that commission estimates survive signature collection.
func addAuthors(d *draft, selected []explorer.UTXO, byAddress map[string]*wallet.Address) error {
	for _, u := range selected {
		if _, ok := d.SigningInfo[u.Address]; ok {
			continue
		}
		a, ok := byAddress[u.Address]
		if !ok {
			return fmt.Errorf("input address %s is not a wallet address", u.Address)
		}
		auths := make(map[string]string, len(a.SigningPaths))
		for _, path := range a.SigningPaths {
			auths[path] = joint.SigPlaceholder
		}
		d.Unit.Authors = append(d.Unit.Authors, joint.Author{
			Address:       a.Address,
			Authentifiers: auths,
			Definition:    a.Definition,
		})
		d.SigningInfo[u.Address] = wallet.SigningInfo{
			WalletID:     a.WalletID,
			Path:         a.Path,
			SigningPaths: a.SigningPaths,
		}
	}
	sort.Slice(d.Unit.Authors, func(i, j int) bool {
		return d.Unit.Authors[i].Address < d.Unit.Authors[j].Address
	})
	return nil
}

func paymentMessage(p *joint.PaymentPayload) (*joint.Message, error) {
	hash, err := p.Hash()
	if err != nil {
		return nil, err
	}
	return &joint.Message{
		App:             wallet.TxAppPayment,
		PayloadLocation: "inline",
		PayloadHash:     hash,
		Payload:         p,
	}, nil
}

func rawPayloadHash(payload []byte) string {
	digest := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(digest[:])
}

// headersCommissionOf prices the unit headers: the canonical size of the
// unit without its messages.
func headersCommissionOf(u *joint.Unit) int {
	cp := *u
	cp.Messages = nil
	cp.HeadersCommission = 0
	cp.PayloadCommission = 0
	data, err := ojson.Marshal(&cp)
	if err != nil {
		return 0
	}
	return len(data)
}

// payloadCommissionOf prices the messages.
func payloadCommissionOf(u *joint.Unit) int {
	data, err := ojson.Marshal(u.Messages)
	if err != nil {
		return 0
	}
	return len(data)
}

func toInputs(utxos []explorer.UTXO) []joint.Input {
	inputs := make([]joint.Input, len(utxos))
	for i, u := range utxos {
		inputs[i] = joint.Input{Unit: u.Unit, MessageIndex: u.MessageIndex, OutputIndex: u.OutputIndex}
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Key() < inputs[j].Key() })
	return inputs
}

func sortOutputs(outputs []joint.Output) []joint.Output {
	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].Address != outputs[j].Address {
			return outputs[i].Address < outputs[j].Address
		}
		return outputs[i].Amount < outputs[j].Amount
	})
	return outputs
}

// selectLargestFirst picks UTXOs in descending amount order until target is
// covered.
func selectLargestFirst(utxos []explorer.UTXO, target int64) ([]explorer.UTXO, int64) {
	sorted := append([]explorer.UTXO{}, utxos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })
	var (
		selected []explorer.UTXO
		total    int64
	)
	for _, u := range sorted {
		if total >= target {
			break
		}
		selected = append(selected, u)
		total += u.Amount
	}
	return selected, total
}
