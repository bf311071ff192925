package werr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesByCode(t *testing.T) {
	require.ErrorIs(t, New("WALLET_NOT_FOUND", "different message"), ErrWalletNotFound)
	require.NotErrorIs(t, ErrWalletNotFound, ErrWalletFull)

	wrapped := fmt.Errorf("looking up wallet: %w", ErrWalletNotFound)
	require.ErrorIs(t, wrapped, ErrWalletNotFound)
}

func TestNotAuthorizedVariantsShareCode(t *testing.T) {
	for _, err := range []error{ErrCopayerNotFound, ErrInvalidSignature, ErrSessionExpired} {
		assert.Equal(t, "NOT_AUTHORIZED", Code(err))
		require.ErrorIs(t, err, ErrNotAuthorized)
	}
}

func TestCodeAndIsClient(t *testing.T) {
	assert.True(t, IsClient(ErrTxNotFound))
	assert.Equal(t, "TX_NOT_FOUND", Code(ErrTxNotFound))

	plain := errors.New("disk on fire")
	assert.False(t, IsClient(plain))
	assert.Empty(t, Code(plain))

	wrapped := fmt.Errorf("store: %w", ErrWalletBusy)
	assert.True(t, IsClient(wrapped))
	assert.Equal(t, "WALLET_BUSY", Code(wrapped))
}
