package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/obytehq/walletsrv/internal/keytest"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/hub"
	"github.com/obytehq/walletsrv/pkg/joint"
	"github.com/obytehq/walletsrv/pkg/services/broker"
	"github.com/obytehq/walletsrv/pkg/storage"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// requestKeyPath is the derivation path test copayers use for their request
// public keys.
const requestKeyPath = "m/1/1"

var testStart = time.Unix(1700000000, 0)

type fakeExplorer struct {
	mu       sync.Mutex
	utxos    []explorer.UTXO
	activity map[string]bool
	txs      map[string]*explorer.TxRecord
	history  []explorer.HistoryItem
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{
		activity: make(map[string]bool),
		txs:      make(map[string]*explorer.TxRecord),
	}
}

func (f *fakeExplorer) addUTXO(u explorer.UTXO) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utxos = append(f.utxos, u)
}

func (f *fakeExplorer) GetUtxos(_ context.Context, addresses []string, asset string) ([]explorer.UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		want[a] = true
	}
	var out []explorer.UTXO
	for _, u := range f.utxos {
		if !want[u.Address] {
			continue
		}
		switch asset {
		case "", joint.BaseAsset:
			if u.Asset != "" && u.Asset != joint.BaseAsset {
				continue
			}
		default:
			if u.Asset != asset {
				continue
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeExplorer) GetBalance(ctx context.Context, addresses []string, asset string) (map[string]explorer.Balance, error) {
	utxos, err := f.GetUtxos(ctx, addresses, asset)
	if err != nil {
		return nil, err
	}
	out := make(map[string]explorer.Balance)
	for _, u := range utxos {
		name := u.Asset
		if name == "" {
			name = joint.BaseAsset
		}
		b := out[name]
		if u.Stable {
			b.Stable += u.Amount
			b.StableOutputsCount++
		} else {
			b.Pending += u.Amount
			b.PendingOutputsCount++
		}
		out[name] = b
	}
	return out, nil
}

func (f *fakeExplorer) GetTxHistory(_ context.Context, _ []string, _ explorer.HistoryOptions) ([]explorer.HistoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]explorer.HistoryItem(nil), f.history...), nil
}

func (f *fakeExplorer) GetAddressActivity(_ context.Context, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activity[address], nil
}

func (f *fakeExplorer) GetTransaction(_ context.Context, unit string) (*explorer.TxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[unit], nil
}

type fakeHub struct {
	mu           sync.Mutex
	broadcastErr error
	broadcasts   []*joint.Joint
	watched      []string
	events       chan hub.Event
}

func newFakeHub() *fakeHub {
	return &fakeHub{events: make(chan hub.Event, 16)}
}

func (f *fakeHub) BroadcastJoint(_ context.Context, j *joint.Joint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.broadcasts = append(f.broadcasts, j)
	return nil
}

func (f *fakeHub) WatchAddress(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, address)
	return nil
}

func (f *fakeHub) Events() <-chan hub.Event {
	return f.events
}

func (f *fakeHub) setBroadcastErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastErr = err
}

func (f *fakeHub) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

type testEnv struct {
	engine *Service
	dao    *storage.DAO
	clock  *clock.TestClock
	expl   *fakeExplorer
	hub    *fakeHub
	broker *broker.Broker
}

func newTestEnv(t *testing.T, mut func(*config.WalletConfiguration)) *testEnv {
	dao, err := storage.NewDAO(storage.NewMemoryStore())
	require.NoError(t, err)
	cfg := config.DefaultWalletConfiguration()
	if mut != nil {
		mut(&cfg)
	}
	cl := clock.NewTestClock(testStart)
	expl := newFakeExplorer()
	h := newFakeHub()
	b := broker.New(zaptest.NewLogger(t))
	t.Cleanup(b.Shutdown)
	engine, err := New(Options{
		Config:   cfg,
		Logger:   zaptest.NewLogger(t),
		DAO:      dao,
		Explorer: expl,
		Hub:      h,
		Broker:   b,
		Clock:    cl,
	})
	require.NoError(t, err)
	return &testEnv{engine: engine, dao: dao, clock: cl, expl: expl, hub: h, broker: b}
}

func (e *testEnv) advance(d time.Duration) {
	e.clock.SetTime(e.clock.Now().Add(d))
}

// createWallet registers an m-of-n wallet whose creation key is the
// creator's master public key.
func (e *testEnv) createWallet(t *testing.T, m, n int, creator *keytest.Keys) string {
	id, err := e.engine.CreateWallet(CreateWalletRequest{
		Name:    "home",
		M:       m,
		N:       n,
		Coin:    "obyte",
		Network: "livenet",
		PubKey:  creator.PubKeyBase64(t, "m"),
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) joinRequest(t *testing.T, walletID string, creator, k *keytest.Keys, name string) JoinWalletRequest {
	reqKey := k.PubKeyBase64(t, requestKeyPath)
	msg := name + "|" + k.XPub + "|" + reqKey
	return JoinWalletRequest{
		WalletID:         walletID,
		Name:             name,
		XPub:             k.XPub,
		RequestPubKey:    reqKey,
		CopayerSignature: creator.Sign(t, "m", []byte(msg)),
		DeviceID:         "device-" + name,
	}
}

func (e *testEnv) join(t *testing.T, walletID string, creator, k *keytest.Keys, name string) *JoinWalletResult {
	res, err := e.engine.JoinWallet(e.joinRequest(t, walletID, creator, k, name))
	require.NoError(t, err)
	return res
}

// auth signs a synthetic request under the copayer's registered request key.
func (e *testEnv) auth(t *testing.T, k *keytest.Keys) *Auth {
	msg := []byte("get|/v1/test|{}")
	auth, err := e.engine.Authenticate(Credentials{
		CopayerID: k.CopayerID(),
		Message:   msg,
		Signature: k.Sign(t, requestKeyPath, msg),
	})
	require.NoError(t, err)
	return auth
}

// setup2of3 builds a complete 2-of-3 wallet. The first member is the wallet
// creator.
func setup2of3(t *testing.T, mut func(*config.WalletConfiguration)) (*testEnv, string, []*keytest.Keys) {
	env := newTestEnv(t, mut)
	members := []*keytest.Keys{keytest.New(t, 1), keytest.New(t, 2), keytest.New(t, 3)}
	walletID := env.createWallet(t, 2, 3, members[0])
	for i, k := range members {
		env.join(t, walletID, members[0], k, fmt.Sprintf("member-%d", i))
	}
	return env, walletID, members
}

// fundAddress backs an address with one live base UTXO.
func (e *testEnv) fundAddress(address, unit string, amount int64) {
	e.expl.addUTXO(explorer.UTXO{
		Unit:    unit,
		Address: address,
		Amount:  amount,
		Stable:  true,
		Time:    e.clock.Now().Unix(),
	})
}

// proposalSignatures produces the copayer's accept signatures for every
// author address of the draft.
func proposalSignatures(t *testing.T, tx *wallet.TxProposal, k *keytest.Keys) map[string]string {
	digest, err := tx.Unit.SigningDigest()
	require.NoError(t, err)
	x, err := xpub.Parse(k.XPub)
	require.NoError(t, err)
	sigs := make(map[string]string, len(tx.Unit.Authors))
	for _, author := range tx.Unit.Authors {
		info, ok := tx.SigningInfo[author.Address]
		require.True(t, ok, "missing signing info for author %s", author.Address)
		pub, err := x.Derive(info.Path)
		require.NoError(t, err)
		signingPath, ok := info.SigningPaths[xpub.EncodePubKeyBase64(pub)]
		require.True(t, ok, "copayer key not in signing paths of %s", author.Address)
		sigs[author.Address+"/"+signingPath] = k.Sign(t, info.Path, digest)
	}
	return sigs
}

// createPublished composes and publishes a payment proposal to self.
func (e *testEnv) createPublished(t *testing.T, creator *keytest.Keys, to string, amount int64) *wallet.TxProposal {
	auth := e.auth(t, creator)
	tx, err := e.engine.CreateTx(context.Background(), auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: to, Amount: amount}},
	})
	require.NoError(t, err)
	digest, err := tx.Unit.SigningDigest()
	require.NoError(t, err)
	published, err := e.engine.PublishTx(context.Background(), auth, tx.ID, creator.Sign(t, requestKeyPath, digest))
	require.NoError(t, err)
	return published
}
