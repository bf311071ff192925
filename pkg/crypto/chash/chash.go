/*
Package chash implements the checksummed base32 hash used for ledger
addresses. An address is the 160-bit RIPEMD160-over-SHA256 hash of the
canonically serialised address definition with 32 checksum bits interleaved
at fixed offsets, base32-encoded into a 32-character string.
*/
package chash

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // the ledger format requires RIPEMD160
)

// AddressLength is the length of an encoded 160-bit chash.
const AddressLength = 32

// checksumOffsets are the positions of the 32 checksum bits within the
// mixed 192-bit string. They are cumulative sums of the decimal digits of pi
// (zero digits skipped), the fixed table of the ledger format.
var checksumOffsets = [32]int{
	1, 5, 6, 11, 20, 22, 28, 33, 36, 41, 49, 58, 65, 74, 77, 79,
	82, 90, 94, 100, 102, 108, 112, 115, 118, 126, 129, 131, 138, 147, 152, 154,
}

var errInvalidChash = errors.New("invalid chash")

// Get160 hashes the given data into a 32-character checksummed base32
// address string. The result is deterministic: any implementation produces
// the identical string for identical input.
func Get160(data string) string {
	inner := sha256.Sum256([]byte(data))
	h := ripemd160.New()
	h.Write(inner[:])
	clean := h.Sum(nil)
	checksum := getChecksum(clean)
	mixed := mixChecksum(clean, checksum)
	return base32.StdEncoding.EncodeToString(mixed)
}

// IsValidAddress reports whether s is a well-formed 160-bit chash with a
// matching checksum.
func IsValidAddress(s string) bool {
	if len(s) != AddressLength {
		return false
	}
	mixed, err := base32.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	clean, checksum, err := separateChecksum(mixed)
	if err != nil {
		return false
	}
	expected := getChecksum(clean)
	for i := range checksum {
		if checksum[i] != expected[i] {
			return false
		}
	}
	return true
}

// getChecksum picks four bytes of the SHA256 of the clean data, one per
// checksum byte.
func getChecksum(clean []byte) []byte {
	full := sha256.Sum256(clean)
	return []byte{full[5], full[13], full[21], full[29]}
}

func bytesToBits(b []byte) []byte {
	bits := make([]byte, len(b)*8)
	for i, by := range b {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (by >> (7 - j)) & 1
		}
	}
	return bits
}

func bitsToBytes(bits []byte) []byte {
	b := make([]byte, len(bits)/8)
	for i := range b {
		for j := 0; j < 8; j++ {
			b[i] = b[i]<<1 | bits[i*8+j]
		}
	}
	return b
}

// mixChecksum interleaves the checksum bits into the clean data bits at the
// fixed offsets.
func mixChecksum(clean, checksum []byte) []byte {
	cleanBits := bytesToBits(clean)
	checksumBits := bytesToBits(checksum)
	mixed := make([]byte, 0, len(cleanBits)+len(checksumBits))
	var ci, di int
	for len(mixed) < len(cleanBits)+len(checksumBits) {
		if ci < len(checksumOffsets) && checksumOffsets[ci] == len(mixed) {
			mixed = append(mixed, checksumBits[ci])
			ci++
			continue
		}
		mixed = append(mixed, cleanBits[di])
		di++
	}
	return bitsToBytes(mixed)
}

// separateChecksum splits a mixed bit string back into clean data and
// checksum.
func separateChecksum(mixed []byte) (clean, checksum []byte, err error) {
	mixedBits := bytesToBits(mixed)
	if len(mixedBits) != 192 {
		return nil, nil, errInvalidChash
	}
	cleanBits := make([]byte, 0, 160)
	checksumBits := make([]byte, 0, 32)
	var ci int
	for i, bit := range mixedBits {
		if ci < len(checksumOffsets) && checksumOffsets[ci] == i {
			checksumBits = append(checksumBits, bit)
			ci++
		} else {
			cleanBits = append(cleanBits, bit)
		}
	}
	return bitsToBytes(cleanBits), bitsToBytes(checksumBits), nil
}
