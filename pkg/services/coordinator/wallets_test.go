package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/obytehq/walletsrv/internal/keytest"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/wallet"
	"github.com/obytehq/walletsrv/pkg/werr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinWalletToComplete(t *testing.T) {
	env := newTestEnv(t, nil)
	creator := keytest.New(t, 1)
	second := keytest.New(t, 2)
	third := keytest.New(t, 3)

	walletID := env.createWallet(t, 2, 3, creator)

	res := env.join(t, walletID, creator, creator, "creator")
	assert.Equal(t, creator.CopayerID(), res.CopayerID)
	assert.Equal(t, wallet.StatusPending, res.Wallet.Status)

	res = env.join(t, walletID, creator, second, "second")
	assert.Equal(t, wallet.StatusPending, res.Wallet.Status)

	res = env.join(t, walletID, creator, third, "third")
	assert.Equal(t, wallet.StatusComplete, res.Wallet.Status)
	assert.Len(t, res.Wallet.Copayers, 3)

	// The completed wallet emits a WalletComplete notification on top of
	// the three NewCopayer ones.
	notifs, err := env.dao.GetNotifications(walletID, 0, 0)
	require.NoError(t, err)
	var types []string
	for _, n := range notifs {
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{
		wallet.NotificationNewCopayer,
		wallet.NotificationNewCopayer,
		wallet.NotificationNewCopayer,
		wallet.NotificationWalletComplete,
	}, types)
}

func TestJoinWalletFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	creator := keytest.New(t, 1)
	second := keytest.New(t, 2)
	third := keytest.New(t, 3)
	fourth := keytest.New(t, 4)

	walletID := env.createWallet(t, 2, 3, creator)
	env.join(t, walletID, creator, creator, "creator")

	t.Run("unknown wallet", func(t *testing.T) {
		req := env.joinRequest(t, "no-such-wallet", creator, second, "second")
		_, err := env.engine.JoinWallet(req)
		require.ErrorIs(t, err, werr.ErrWalletNotFound)
	})

	t.Run("network mismatch hides the wallet", func(t *testing.T) {
		req := env.joinRequest(t, walletID, creator, second, "second")
		req.Network = "testnet"
		_, err := env.engine.JoinWallet(req)
		require.ErrorIs(t, err, werr.ErrWalletNotFound)
	})

	t.Run("bad join signature", func(t *testing.T) {
		req := env.joinRequest(t, walletID, creator, second, "second")
		req.Name = "tampered"
		_, err := env.engine.JoinWallet(req)
		require.ErrorIs(t, err, werr.ErrNotAuthorized)
	})

	t.Run("duplicate xpub", func(t *testing.T) {
		req := env.joinRequest(t, walletID, creator, creator, "again")
		_, err := env.engine.JoinWallet(req)
		require.ErrorIs(t, err, werr.ErrCopayerInWallet)
	})

	t.Run("copayer registered elsewhere", func(t *testing.T) {
		otherID := env.createWallet(t, 1, 1, second)
		env.join(t, otherID, second, second, "solo")

		req := env.joinRequest(t, walletID, creator, second, "second")
		_, err := env.engine.JoinWallet(req)
		require.ErrorIs(t, err, werr.ErrCopayerRegistered)
	})

	t.Run("wallet full", func(t *testing.T) {
		env.join(t, walletID, creator, third, "third")
		env.join(t, walletID, creator, fourth, "fourth")

		fifth := keytest.New(t, 5)
		req := env.joinRequest(t, walletID, creator, fifth, "fifth")
		_, err := env.engine.JoinWallet(req)
		require.ErrorIs(t, err, werr.ErrWalletFull)
	})
}

func TestJoinWalletDryRun(t *testing.T) {
	env := newTestEnv(t, nil)
	creator := keytest.New(t, 1)
	walletID := env.createWallet(t, 2, 3, creator)

	req := env.joinRequest(t, walletID, creator, creator, "creator")
	req.DryRun = true
	res, err := env.engine.JoinWallet(req)
	require.NoError(t, err)
	assert.Equal(t, creator.CopayerID(), res.CopayerID)

	// Nothing was persisted.
	w, err := env.dao.GetWallet(walletID)
	require.NoError(t, err)
	assert.Empty(t, w.Copayers)
}

func TestCreateWalletValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	k := keytest.New(t, 1)
	pub := k.PubKeyBase64(t, "m")

	_, err := env.engine.CreateWallet(CreateWalletRequest{Name: "w", M: 2, N: 1, PubKey: pub})
	require.Error(t, err)
	_, err = env.engine.CreateWallet(CreateWalletRequest{Name: "w", M: 1, N: 16, PubKey: pub})
	require.Error(t, err)
	_, err = env.engine.CreateWallet(CreateWalletRequest{Name: " ", M: 1, N: 1, PubKey: pub})
	require.Error(t, err)
	_, err = env.engine.CreateWallet(CreateWalletRequest{Name: "w", M: 1, N: 1, PubKey: "not-a-key"})
	require.Error(t, err)

	_, err = env.engine.CreateWallet(CreateWalletRequest{ID: "fixed", Name: "w", M: 1, N: 1, PubKey: pub})
	require.NoError(t, err)
	_, err = env.engine.CreateWallet(CreateWalletRequest{ID: "fixed", Name: "w", M: 1, N: 1, PubKey: pub})
	require.ErrorIs(t, err, werr.ErrWalletAlreadyExists)
}

func TestAuthenticateAndSessions(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	k := members[0]

	t.Run("bad signature", func(t *testing.T) {
		_, err := env.engine.Authenticate(Credentials{
			CopayerID: k.CopayerID(),
			Message:   []byte("get|/v1/test|{}"),
			Signature: k.Sign(t, requestKeyPath, []byte("something else")),
		})
		require.ErrorIs(t, err, werr.ErrInvalidSignature)
	})

	t.Run("unknown copayer", func(t *testing.T) {
		stranger := keytest.New(t, 99)
		_, err := env.engine.Authenticate(Credentials{
			CopayerID: stranger.CopayerID(),
			Message:   []byte("m"),
			Signature: "x",
		})
		require.ErrorIs(t, err, werr.ErrCopayerNotFound)
	})

	msg := []byte("post|/v1/login|{}")
	creds := Credentials{
		CopayerID: k.CopayerID(),
		Message:   msg,
		Signature: k.Sign(t, requestKeyPath, msg),
	}
	token, err := env.engine.Login(creds)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Repeated login while the session is valid returns the same token.
	again, err := env.engine.Login(creds)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	// The token authenticates without a signature.
	auth, err := env.engine.Authenticate(Credentials{CopayerID: k.CopayerID(), Session: token})
	require.NoError(t, err)
	assert.Equal(t, k.CopayerID(), auth.CopayerID())

	// Expired sessions are refused and a new login mints a new token.
	env.advance(2 * time.Hour)
	_, err = env.engine.Authenticate(Credentials{CopayerID: k.CopayerID(), Session: token})
	require.ErrorIs(t, err, werr.ErrSessionExpired)

	fresh, err := env.engine.Login(creds)
	require.NoError(t, err)
	assert.NotEqual(t, token, fresh)

	require.NoError(t, env.engine.Logout(env.auth(t, k)))
	_, err = env.engine.Authenticate(Credentials{CopayerID: k.CopayerID(), Session: fresh})
	require.ErrorIs(t, err, werr.ErrSessionExpired)
}

func TestSessionSlidesOnUse(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	k := members[0]

	msg := []byte("post|/v1/login|{}")
	token, err := env.engine.Login(Credentials{
		CopayerID: k.CopayerID(),
		Message:   msg,
		Signature: k.Sign(t, requestKeyPath, msg),
	})
	require.NoError(t, err)

	// Touch the session every 45 minutes; it stays alive well past the
	// one hour idle budget.
	for i := 0; i < 3; i++ {
		env.advance(45 * time.Minute)
		_, err := env.engine.Authenticate(Credentials{CopayerID: k.CopayerID(), Session: token})
		require.NoError(t, err)
	}
}

func TestAddAccess(t *testing.T) {
	env, _, members := setup2of3(t, nil)
	k := members[0]

	newKey := k.PubKeyBase64(t, "m/1/5")
	sig := k.Sign(t, "m/1/0", []byte(newKey))
	require.NoError(t, env.engine.AddAccess(k.CopayerID(), newKey, sig))

	// Requests signed under the new key authenticate; the old key stays
	// valid as history.
	msg := []byte("get|/v1/test|{}")
	_, err := env.engine.Authenticate(Credentials{
		CopayerID: k.CopayerID(),
		Message:   msg,
		Signature: k.Sign(t, "m/1/5", msg),
	})
	require.NoError(t, err)
	env.auth(t, k)

	t.Run("bad authorisation signature", func(t *testing.T) {
		other := k.PubKeyBase64(t, "m/1/6")
		err := env.engine.AddAccess(k.CopayerID(), other, k.Sign(t, "m/1/1", []byte(other)))
		require.ErrorIs(t, err, werr.ErrInvalidSignature)
	})

	t.Run("key cap", func(t *testing.T) {
		env2, _, members2 := setup2of3(t, func(c *config.WalletConfiguration) {
			c.MaxKeys = 2
		})
		k2 := members2[0]
		extra := k2.PubKeyBase64(t, "m/1/5")
		require.NoError(t, env2.engine.AddAccess(k2.CopayerID(), extra, k2.Sign(t, "m/1/0", []byte(extra))))
		over := k2.PubKeyBase64(t, "m/1/6")
		err := env2.engine.AddAccess(k2.CopayerID(), over, k2.Sign(t, "m/1/0", []byte(over)))
		require.ErrorIs(t, err, werr.ErrTooManyKeys)
	})
}

func TestGetWalletFromIdentifier(t *testing.T) {
	env, walletID, members := setup2of3(t, nil)
	auth := env.auth(t, members[0])

	addr, err := env.engine.CreateAddress(context.Background(), auth, false)
	require.NoError(t, err)

	byID, err := env.engine.GetWalletFromIdentifier(walletID)
	require.NoError(t, err)
	assert.Equal(t, walletID, byID.ID)

	byAddr, err := env.engine.GetWalletFromIdentifier(addr.Address)
	require.NoError(t, err)
	assert.Equal(t, walletID, byAddr.ID)

	_, err = env.engine.GetWalletFromIdentifier("unknown")
	require.ErrorIs(t, err, werr.ErrWalletNotFound)
}

func TestUpdateNames(t *testing.T) {
	env, walletID, members := setup2of3(t, nil)
	auth := env.auth(t, members[1])

	require.NoError(t, env.engine.UpdateWalletName(auth, "savings"))
	require.NoError(t, env.engine.UpdateCopayerName(auth, "renamed"))

	w, err := env.dao.GetWallet(walletID)
	require.NoError(t, err)
	assert.Equal(t, "savings", w.Name)
	assert.Equal(t, "renamed", w.CopayerByID(members[1].CopayerID()).Name)
}

func TestGetCopayersByDevice(t *testing.T) {
	env, walletID, members := setup2of3(t, nil)

	lookups, err := env.engine.GetCopayersByDevice("device-member-1")
	require.NoError(t, err)
	require.Len(t, lookups, 1)
	assert.Equal(t, members[1].CopayerID(), lookups[0].CopayerID)
	assert.Equal(t, walletID, lookups[0].WalletID)

	none, err := env.engine.GetCopayersByDevice("unknown-device")
	require.NoError(t, err)
	assert.Empty(t, none)
}
