package xpub_test

import (
	"testing"

	"github.com/obytehq/walletsrv/internal/keytest"
	"github.com/obytehq/walletsrv/pkg/crypto/xpub"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	k := keytest.New(t, 1)
	x, err := xpub.Parse(k.XPub)
	require.NoError(t, err)
	require.Equal(t, k.XPub, x.String())

	_, err = xpub.Parse("not-an-xpub")
	require.Error(t, err)
}

func TestDeriveDeterminism(t *testing.T) {
	k := keytest.New(t, 2)
	x, err := xpub.Parse(k.XPub)
	require.NoError(t, err)

	a, err := x.DeriveBase64("m/0/5")
	require.NoError(t, err)
	b, err := x.DeriveBase64("0/5")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := x.DeriveBase64("m/1/5")
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	// Hardened paths can't be derived from public keys.
	_, err = x.Derive("m/0'/5")
	require.Error(t, err)
}

func TestCopayerID(t *testing.T) {
	k1 := keytest.New(t, 3)
	k2 := keytest.New(t, 4)
	require.Equal(t, xpub.CopayerID(k1.XPub), k1.CopayerID())
	require.NotEqual(t, k1.CopayerID(), k2.CopayerID())
	require.Len(t, k1.CopayerID(), 64)
}

func TestVerifySignature(t *testing.T) {
	k := keytest.New(t, 5)
	x, err := xpub.Parse(k.XPub)
	require.NoError(t, err)

	msg := []byte("post|/txproposals|{}")
	sig := k.Sign(t, "m/0/0", msg)

	pub, err := x.Derive("m/0/0")
	require.NoError(t, err)
	require.True(t, xpub.VerifySignature(pub, msg, sig))
	require.False(t, xpub.VerifySignature(pub, []byte("tampered"), sig))

	other, err := x.Derive("m/0/1")
	require.NoError(t, err)
	require.False(t, xpub.VerifySignature(other, msg, sig))

	require.False(t, xpub.VerifySignature(pub, msg, "%%%not-base64%%%"))
}

func TestVerifySignatureBase64Key(t *testing.T) {
	k := keytest.New(t, 6)
	msg := []byte("hello")
	sig := k.Sign(t, xpub.RequestKeyAuthPath, msg)
	pub := k.PubKeyBase64(t, xpub.RequestKeyAuthPath)
	require.True(t, xpub.VerifySignatureBase64Key(pub, msg, sig))
	require.False(t, xpub.VerifySignatureBase64Key(pub, msg, sig[1:]))
}
