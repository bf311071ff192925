package chash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet160(t *testing.T) {
	addr := Get160(`["sig",{"pubkey":"A1bFZdKD15file0lrGRzmxYe6KLCzYvolCBVVBqbGsuW"}]`)
	require.Len(t, addr, AddressLength)
	require.True(t, IsValidAddress(addr))

	// Determinism.
	require.Equal(t, addr, Get160(`["sig",{"pubkey":"A1bFZdKD15file0lrGRzmxYe6KLCzYvolCBVVBqbGsuW"}]`))

	// Different inputs map to different addresses.
	other := Get160(`["sig",{"pubkey":"A1bFZdKD15file0lrGRzmxYe6KLCzYvolCBVVBqbGsuX"}]`)
	require.NotEqual(t, addr, other)
	require.True(t, IsValidAddress(other))
}

func TestIsValidAddress(t *testing.T) {
	addr := Get160("some definition")
	require.True(t, IsValidAddress(addr))

	// Wrong length.
	require.False(t, IsValidAddress(addr[:31]))
	require.False(t, IsValidAddress(""))

	// Not base32.
	require.False(t, IsValidAddress("!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!"))

	// Corrupt one character, checksum must catch it.
	corrupted := []byte(addr)
	if corrupted[0] == 'A' {
		corrupted[0] = 'B'
	} else {
		corrupted[0] = 'A'
	}
	require.False(t, IsValidAddress(string(corrupted)))
}

func TestChecksumRoundTrip(t *testing.T) {
	clean := make([]byte, 20)
	for i := range clean {
		clean[i] = byte(i * 7)
	}
	checksum := getChecksum(clean)
	mixed := mixChecksum(clean, checksum)
	require.Len(t, mixed, 24)

	gotClean, gotChecksum, err := separateChecksum(mixed)
	require.NoError(t, err)
	require.Equal(t, clean, gotClean)
	require.Equal(t, checksum, gotChecksum)
}
