package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxNotes(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])

	// Absent notes read as nil, not as an error.
	n, err := env.engine.GetTxNote(auth, "some-unit")
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = env.engine.EditTxNote(auth, "some-unit", "paid the rent")
	require.NoError(t, err)
	assert.Equal(t, "paid the rent", n.Body)
	assert.Equal(t, members[0].CopayerID(), n.EditedBy)
	created := n.CreatedOn

	env.advance(time.Minute)
	n, err = env.engine.EditTxNote(env.auth(t, members[1]), "some-unit", "and the deposit")
	require.NoError(t, err)
	assert.Equal(t, members[1].CopayerID(), n.EditedBy)
	assert.Equal(t, created, n.CreatedOn)
	assert.Greater(t, n.EditedOn, created)

	// minTs filters on the edit time.
	notes, err := env.engine.GetTxNotes(auth, n.EditedOn)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	notes, err = env.engine.GetTxNotes(auth, n.EditedOn+1)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestPreferences(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])

	p, err := env.engine.GetPreferences(auth)
	require.NoError(t, err)
	assert.Empty(t, p.Email)

	err = env.engine.SavePreferences(auth, wallet.Preferences{Email: "not-an-email"})
	require.Error(t, err)

	require.NoError(t, env.engine.SavePreferences(auth, wallet.Preferences{
		Email:    "one@example.com",
		Language: "en",
		Unit:     "GB",
	}))
	p, err = env.engine.GetPreferences(auth)
	require.NoError(t, err)
	assert.Equal(t, "one@example.com", p.Email)

	// Preferences are per copayer.
	other, err := env.engine.GetPreferences(env.auth(t, members[1]))
	require.NoError(t, err)
	assert.Empty(t, other.Email)
}

func TestPushSubscriptions(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])

	err := env.engine.PushSubscribe(auth, wallet.PushSubscription{})
	require.Error(t, err)

	require.NoError(t, env.engine.PushSubscribe(auth, wallet.PushSubscription{
		Token:    "token-1",
		Platform: "android",
	}))
	require.NoError(t, env.engine.PushSubscribe(auth, wallet.PushSubscription{Token: "token-2"}))

	subs, err := env.dao.GetPushSubscriptions(members[0].CopayerID())
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	require.NoError(t, env.engine.PushUnsubscribe(auth, "token-1"))
	require.NoError(t, env.engine.PushUnsubscribe(auth, "token-1"))
	subs, err = env.dao.GetPushSubscriptions(members[0].CopayerID())
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "token-2", subs[0].Token)
}

func TestAssets(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.GetAsset("unknown")
	require.Error(t, err)

	require.NoError(t, env.dao.PutAsset(&wallet.Asset{
		Asset:    "base64assetid",
		Name:     "Testcoin",
		Decimals: 9,
		Registry: "O2",
	}))
	a, err := env.engine.GetAsset("base64assetid")
	require.NoError(t, err)
	assert.Equal(t, "Testcoin", a.Name)

	all, err := env.engine.GetAssets()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetFiatRate(t *testing.T) {
	env := newTestEnv(t, nil)
	lookBack := time.Hour

	_, err := env.engine.GetFiatRate("bitpay", "USD", time.Time{}, lookBack)
	require.Error(t, err)

	require.NoError(t, env.dao.PutFiatRate(&wallet.FiatRate{
		Provider:  "bitpay",
		Code:      "USD",
		Value:     12.5,
		FetchedOn: env.clock.Now().Unix(),
	}))
	env.advance(10 * time.Minute)
	require.NoError(t, env.dao.PutFiatRate(&wallet.FiatRate{
		Provider:  "bitpay",
		Code:      "USD",
		Value:     13.0,
		FetchedOn: env.clock.Now().Unix(),
	}))

	// The newest rate at or before the requested time wins.
	r, err := env.engine.GetFiatRate("bitpay", "USD", time.Time{}, lookBack)
	require.NoError(t, err)
	assert.Equal(t, 13.0, r.Value)

	r, err = env.engine.GetFiatRate("bitpay", "USD", testStart.Add(time.Minute), lookBack)
	require.NoError(t, err)
	assert.Equal(t, 12.5, r.Value)

	// Rates older than the look-back window are not served.
	env.advance(2 * time.Hour)
	_, err = env.engine.GetFiatRate("bitpay", "USD", time.Time{}, lookBack)
	require.Error(t, err)
}

func TestGetBalanceCaching(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	balances, err := env.engine.GetBalance(ctx, auth, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balances["base"].Stable)

	// New funds stay invisible until the cache entry ages out.
	env.fundAddress(addr.Address, "second-unit", 500_000)
	balances, err = env.engine.GetBalance(ctx, auth, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balances["base"].Stable)

	env.advance(env.engine.Config.BalanceCacheDuration + time.Second)
	balances, err = env.engine.GetBalance(ctx, auth, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), balances["base"].Stable)
}

func TestGetTxHistoryEnrichment(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	tx := env.createPublished(t, members[0], addr.Address, 1000)
	tx, err = env.engine.SignTx(env.auth(t, members[0]), tx.ID, proposalSignatures(t, tx, members[0]))
	require.NoError(t, err)
	tx, err = env.engine.SignTx(env.auth(t, members[1]), tx.ID, proposalSignatures(t, tx, members[1]))
	require.NoError(t, err)
	tx, err = env.engine.BroadcastTx(ctx, auth, tx.ID)
	require.NoError(t, err)

	_, err = env.engine.EditTxNote(auth, tx.TxID, "groceries")
	require.NoError(t, err)

	env.expl.history = []explorer.HistoryItem{
		{Unit: tx.TxID, Action: "sent", Amount: -1000, Time: env.clock.Now().Unix()},
		{Unit: "foreign-unit", Action: "received", Amount: 4000, Time: env.clock.Now().Unix()},
	}

	rows, err := env.engine.GetTxHistory(ctx, auth, explorer.HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "groceries", rows[0].Note)
	assert.Equal(t, tx.ID, rows[0].TxProposalID)
	assert.Equal(t, members[0].CopayerID(), rows[0].CreatorID)
	assert.Empty(t, rows[1].Note)
	assert.Empty(t, rows[1].TxProposalID)

	_, err = env.engine.GetTxHistory(ctx, auth, explorer.HistoryOptions{
		Limit: env.engine.Config.HistoryLimit + 1,
	})
	require.Error(t, err)
}

func TestGetNotificationsQuery(t *testing.T) {
	env, walletID, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])

	all, err := env.dao.GetNotifications(walletID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)

	// Ids are monotone within the wallet.
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].ID, all[i-1].ID)
		assert.Equal(t, all[i-1].Seq+1, all[i].Seq)
	}
	assert.Equal(t, wallet.NotificationID(all[0].Seq, all[0].TickerID), all[0].ID)

	// AfterID pagination returns the strictly newer tail regardless of
	// age.
	env.advance(48 * time.Hour)
	tail, err := env.engine.GetNotifications(auth, NotificationQuery{AfterID: all[1].ID})
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, all[2].ID, tail[0].ID)

	// Without AfterID the window filter applies.
	recent, err := env.engine.GetNotifications(auth, NotificationQuery{TimeSpan: time.Hour})
	require.NoError(t, err)
	assert.Empty(t, recent)

	// A malformed cursor falls back to the time window.
	garbage, err := env.engine.GetNotifications(auth, NotificationQuery{AfterID: "not-a-cursor", TimeSpan: time.Hour})
	require.NoError(t, err)
	assert.Empty(t, garbage)
}
