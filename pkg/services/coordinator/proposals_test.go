package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	ojson "github.com/nspcc-dev/go-ordered-json"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/explorer"
	"github.com/obytehq/walletsrv/pkg/joint"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTxValidation(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	_, err := env.engine.CreateTx(ctx, auth, CreateTxRequest{App: "teleport"})
	require.Error(t, err)

	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{})
	require.Error(t, err) // payment without outputs

	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: "NOT A VALID ADDRESS", Amount: 1}},
	})
	require.ErrorIs(t, err, werr.ErrInvalidAddress)

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)

	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: addr.Address, Amount: 0}},
	})
	require.Error(t, err)

	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{App: wallet.TxAppData})
	require.Error(t, err) // data without payload

	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs:       []joint.Output{{Address: addr.Address, Amount: 100}},
		ChangeAddress: "SOMEONE ELSES ADDRESS",
	})
	require.ErrorIs(t, err, werr.ErrInvalidChangeAddress)
}

func TestCreateTxComposesDraft(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	tx, err := env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: addr.Address, Amount: 1000}},
		Message: "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusTemporary, tx.Status)
	assert.Equal(t, 2, tx.RequiredSignatures)
	assert.Equal(t, 2, tx.RequiredRejections)
	require.NotNil(t, tx.Unit)
	require.Len(t, tx.Unit.Authors, 1)
	assert.Equal(t, addr.Address, tx.Unit.Authors[0].Address)
	assert.Positive(t, tx.Unit.HeadersCommission)
	assert.Positive(t, tx.Unit.PayloadCommission)

	// The draft balances: inputs = outputs + change + commissions.
	var inTotal, outTotal int64
	for range tx.Unit.Inputs() {
		inTotal += 1_000_000
	}
	for _, o := range tx.Unit.Outputs() {
		outTotal += o.Amount
	}
	fee := int64(tx.Unit.HeadersCommission + tx.Unit.PayloadCommission)
	assert.Equal(t, inTotal, outTotal+fee)

	// Placeholder authentifiers cover every signing path of the author.
	info := tx.SigningInfo[addr.Address]
	assert.Len(t, tx.Unit.Authors[0].Authentifiers, len(info.SigningPaths))
}

func TestCreateTxIdempotency(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	req := CreateTxRequest{
		TxProposalID: "fixed-id",
		Outputs:      []joint.Output{{Address: addr.Address, Amount: 1000}},
	}
	tx, err := env.engine.CreateTx(ctx, auth, req)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", tx.ID)

	// A temporary proposal is recomposed in place.
	again, err := env.engine.CreateTx(ctx, auth, req)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusTemporary, again.Status)

	digest, err := tx.Unit.SigningDigest()
	require.NoError(t, err)
	_, err = env.engine.PublishTx(ctx, auth, tx.ID, members[0].Sign(t, requestKeyPath, digest))
	require.NoError(t, err)

	// Once published, the same id returns the stored proposal unchanged.
	final, err := env.engine.CreateTx(ctx, auth, req)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusPending, final.Status)
}

func TestUtxoReservation(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	// Two temporary proposals may compete over the same UTXO.
	tx1, err := env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: addr.Address, Amount: 1000}},
	})
	require.NoError(t, err)
	tx2, err := env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: addr.Address, Amount: 2000}},
	})
	require.NoError(t, err)

	digest1, err := tx1.Unit.SigningDigest()
	require.NoError(t, err)
	_, err = env.engine.PublishTx(ctx, auth, tx1.ID, members[0].Sign(t, requestKeyPath, digest1))
	require.NoError(t, err)

	// The published proposal locked the UTXO.
	view, err := env.engine.GetUtxos(ctx, auth, nil, "")
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.True(t, view[0].Locked)

	// Publishing the competitor is refused.
	digest2, err := tx2.Unit.SigningDigest()
	require.NoError(t, err)
	_, err = env.engine.PublishTx(ctx, auth, tx2.ID, members[0].Sign(t, requestKeyPath, digest2))
	require.ErrorIs(t, err, werr.ErrUnavailableUTXOs)

	// Sign to quorum and broadcast; the input then counts as spent and
	// composition has nothing left to pay with.
	tx1, err = env.engine.SignTx(env.auth(t, members[0]), tx1.ID, proposalSignatures(t, tx1, members[0]))
	require.NoError(t, err)
	tx1, err = env.engine.SignTx(env.auth(t, members[1]), tx1.ID, proposalSignatures(t, tx1, members[1]))
	require.NoError(t, err)
	require.Equal(t, wallet.TxStatusAccepted, tx1.Status)

	_, err = env.engine.BroadcastTx(ctx, auth, tx1.ID)
	require.NoError(t, err)

	view, err = env.engine.GetUtxos(ctx, auth, nil, "")
	require.NoError(t, err)
	assert.Empty(t, view)

	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: addr.Address, Amount: 1000}},
	})
	require.ErrorIs(t, err, werr.ErrInsufficientFunds)
}

func TestSignTxQuorum(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	tx := env.createPublished(t, members[0], addr.Address, 1000)

	// One rejection out of the required two keeps the proposal pending.
	tx, err = env.engine.RejectTx(env.auth(t, members[2]), tx.ID, "too expensive")
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusPending, tx.Status)

	_, err = env.engine.RejectTx(env.auth(t, members[2]), tx.ID, "")
	require.ErrorIs(t, err, werr.ErrCopayerVoted)
	_, err = env.engine.SignTx(env.auth(t, members[2]), tx.ID, proposalSignatures(t, tx, members[2]))
	require.ErrorIs(t, err, werr.ErrCopayerVoted)

	// Garbage signatures are rejected atomically.
	bad := proposalSignatures(t, tx, members[1])
	for k := range bad {
		bad[k] = bad[k][:len(bad[k])-4] + "AAAA"
	}
	_, err = env.engine.SignTx(env.auth(t, members[1]), tx.ID, bad)
	require.ErrorIs(t, err, werr.ErrBadSignatures)

	// Extraneous signature keys are as fatal as missing ones.
	extra := proposalSignatures(t, tx, members[1])
	extra["bogus/r.9"] = "AAAA"
	_, err = env.engine.SignTx(env.auth(t, members[1]), tx.ID, extra)
	require.ErrorIs(t, err, werr.ErrBadSignatures)

	tx, err = env.engine.SignTx(env.auth(t, members[0]), tx.ID, proposalSignatures(t, tx, members[0]))
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusPending, tx.Status)

	tx, err = env.engine.SignTx(env.auth(t, members[1]), tx.ID, proposalSignatures(t, tx, members[1]))
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusAccepted, tx.Status)
	assert.NotEmpty(t, tx.TxID)

	// The finalised unit carries both collected signatures per author.
	for _, a := range tx.Unit.Authors {
		assert.Len(t, a.Authentifiers, 2)
	}

	_, err = env.engine.SignTx(env.auth(t, members[2]), tx.ID, proposalSignatures(t, tx, members[2]))
	require.ErrorIs(t, err, werr.ErrTxAlreadyAccepted)
}

func TestRejectTxQuorum(t *testing.T) {
	env, walletID, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	tx := env.createPublished(t, members[0], addr.Address, 1000)

	_, err = env.engine.RejectTx(env.auth(t, members[1]), tx.ID, "no")
	require.NoError(t, err)
	tx, err = env.engine.RejectTx(env.auth(t, members[2]), tx.ID, "no")
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusRejected, tx.Status)

	_, err = env.engine.SignTx(env.auth(t, members[0]), tx.ID, proposalSignatures(t, tx, members[0]))
	require.ErrorIs(t, err, werr.ErrTxNotPending)

	notifs, err := env.dao.GetNotifications(walletID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, wallet.NotificationTxProposalFinallyRejected, notifs[len(notifs)-1].Type)

	// The rejected proposal releases its inputs.
	view, err := env.engine.GetUtxos(ctx, auth, nil, "")
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.False(t, view[0].Locked)
}

func TestBroadcastTx(t *testing.T) {
	env, walletID, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	tx := env.createPublished(t, members[0], addr.Address, 1000)

	_, err = env.engine.BroadcastTx(ctx, auth, tx.ID)
	require.ErrorIs(t, err, werr.ErrTxNotAccepted)

	tx, err = env.engine.SignTx(env.auth(t, members[0]), tx.ID, proposalSignatures(t, tx, members[0]))
	require.NoError(t, err)
	tx, err = env.engine.SignTx(env.auth(t, members[1]), tx.ID, proposalSignatures(t, tx, members[1]))
	require.NoError(t, err)

	// A hub failure with no ledger trace keeps the proposal accepted.
	env.hub.setBroadcastErr(errors.New("connection reset"))
	_, err = env.engine.BroadcastTx(ctx, auth, tx.ID)
	require.Error(t, err)
	stored, err := env.engine.GetTx(auth, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusAccepted, stored.Status)

	// If the explorer already knows the unit, a failed broadcast counts
	// as done by a third party.
	env.expl.txs[tx.TxID] = &explorer.TxRecord{Unit: tx.TxID, Stable: false}
	tx, err = env.engine.BroadcastTx(ctx, auth, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.TxStatusBroadcasted, tx.Status)
	assert.Zero(t, env.hub.broadcastCount())

	notifs, err := env.dao.GetNotifications(walletID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, wallet.NotificationNewOutgoingTxThirdParty, notifs[len(notifs)-1].Type)

	_, err = env.engine.BroadcastTx(ctx, auth, tx.ID)
	require.ErrorIs(t, err, werr.ErrTxAlreadyBroadcasted)
}

func TestBroadcastTxViaHub(t *testing.T) {
	env, walletID, members := setup2of3(t, nil)
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
	assert.Equal(t, wallet.TxStatusBroadcasted, tx.Status)
	assert.Equal(t, 1, env.hub.broadcastCount())

	notifs, err := env.dao.GetNotifications(walletID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, wallet.NotificationNewOutgoingTx, notifs[len(notifs)-1].Type)
}

func TestCreateTxBackoff(t *testing.T) {
	env, _, members := setup2of3(t, func(c *config.WalletConfiguration) {
		c.BackoffOffset = 2
	})
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	for i := 0; i < 3; i++ {
		tx := env.createPublished(t, members[0], addr.Address, 1000)
		_, err = env.engine.RejectTx(env.auth(t, members[1]), tx.ID, "no")
		require.NoError(t, err)
		_, err = env.engine.RejectTx(env.auth(t, members[2]), tx.ID, "no")
		require.NoError(t, err)
		env.advance(time.Minute)
	}

	// Three trailing consecutive rejections past the offset of two arm
	// the governor.
	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: addr.Address, Amount: 1000}},
	})
	require.ErrorIs(t, err, werr.ErrTxCannotCreate)

	env.advance(env.engine.Config.BackoffTime)
	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{
		Outputs: []joint.Output{{Address: addr.Address, Amount: 1000}},
	})
	require.NoError(t, err)
}

func TestRemoveTx(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	t.Run("creator removes untouched proposal", func(t *testing.T) {
		tx := env.createPublished(t, members[0], addr.Address, 1000)
		require.NoError(t, env.engine.RemoveTx(auth, tx.ID))
		_, err := env.engine.GetTx(auth, tx.ID)
		require.ErrorIs(t, err, werr.ErrTxNotFound)
	})

	t.Run("foreign action arms the locktime", func(t *testing.T) {
		tx := env.createPublished(t, members[0], addr.Address, 1000)
		_, err := env.engine.RejectTx(env.auth(t, members[1]), tx.ID, "no")
		require.NoError(t, err)

		err = env.engine.RemoveTx(env.auth(t, members[1]), tx.ID)
		require.ErrorIs(t, err, werr.ErrTxCannotRemove) // not the creator

		err = env.engine.RemoveTx(auth, tx.ID)
		require.ErrorIs(t, err, werr.ErrTxCannotRemove) // within locktime

		env.advance(env.engine.Config.DeleteLockTime + time.Second)
		require.NoError(t, env.engine.RemoveTx(auth, tx.ID))
	})
}

func TestGetTxsFiltering(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])
	ctx := context.Background()

	addr, err := env.engine.CreateAddress(ctx, auth, false)
	require.NoError(t, err)
	env.fundAddress(addr.Address, "funding-unit", 1_000_000)

	published := env.createPublished(t, members[0], addr.Address, 1000)
	_, err = env.engine.CreateTx(ctx, auth, CreateTxRequest{
		App:     wallet.TxAppData,
		Payload: ojson.RawMessage(`{"ping":"pong"}`),
	})
	require.NoError(t, err)

	pending, err := env.engine.GetPendingTxs(auth)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, published.ID, pending[0].ID)

	data, err := env.engine.GetTxs(auth, TxFilter{App: wallet.TxAppData})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, wallet.TxAppData, data[0].App)

	all, err := env.engine.GetTxs(auth, TxFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
