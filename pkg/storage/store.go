/*
Package storage implements the persistence layer of the wallet coordination
service: a byte-prefixed KV Store with LevelDB, BoltDB and in-memory
backends, plus the typed DAO the services operate on.
*/
package storage

import (
	"errors"
	"fmt"

	"github.com/obytehq/walletsrv/pkg/storage/dbconfig"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// KeyPrefix constants, one per persisted collection.
const (
	STWallet KeyPrefix = 0x01
	// STCopayerIndex maps a copayer id to its wallet id and auth data
	// for fast request authentication lookups.
	STCopayerIndex KeyPrefix = 0x02
	// STAddress stores addresses under walletID|branch|index so prefix
	// seeks return them in derivation order.
	STAddress KeyPrefix = 0x03
	// STAddressIndex maps an address string back to its owning wallet.
	STAddressIndex KeyPrefix = 0x04
	STTxProposal   KeyPrefix = 0x05
	// STTxProposalIndex maps a precomputed txid to its proposal.
	STTxProposalIndex KeyPrefix = 0x06
	// STNotification stores notifications under walletID|seq (big
	// endian) so prefix seeks return them in id order.
	STNotification      KeyPrefix = 0x07
	STSession           KeyPrefix = 0x08
	STTxNote            KeyPrefix = 0x09
	STPreferences       KeyPrefix = 0x0a
	STPushSubscription  KeyPrefix = 0x0b
	STTxConfirmationSub KeyPrefix = 0x0c
	STAsset             KeyPrefix = 0x0d
	// STBroadcastLog retains recently broadcast proposals for the
	// UTXO-spent view.
	STBroadcastLog KeyPrefix = 0x0e
	STFiatRate     KeyPrefix = 0x0f
	// SYSNotificationSeq holds the per-wallet notification sequence.
	SYSNotificationSeq KeyPrefix = 0xc0
	SYSVersion         KeyPrefix = 0xf0
)

// SeekRange represents options for Store.Seek operation.
type SeekRange struct {
	// Prefix denotes the Seek's lookup key. Empty Prefix is not
	// supported.
	Prefix []byte
	// Start denotes the value appended to Prefix to start Seek from.
	// Seeking includes the start key when it exists. Empty Start means
	// seeking through all keys with the matching Prefix.
	Start []byte
	// Backwards denotes whether seeking should be performed in a
	// descending way.
	Backwards bool
}

// ErrKeyNotFound is an error returned by Store implementations when a
// certain key is not found.
var ErrKeyNotFound = errors.New("key not found")

// IsKeyNotFound reports whether err means a missing record.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

type (
	// Store is the underlying KV backend for the service data. Every
	// collection is mutated only under the owning wallet's lock, so the
	// Store itself only needs single-key atomicity.
	Store interface {
		Get([]byte) ([]byte, error)
		Put(k, v []byte) error
		Delete(k []byte) error
		// Seek continues iteration until false is returned from f.
		// Key and value slices are only valid until the next call
		// to f. Keys are visited in ascending order (descending for
		// Backwards ranges).
		Seek(rng SeekRange, f func(k, v []byte) bool)
		Close() error
	}

	// KeyPrefix is a constant byte added as a prefix to each stored key.
	KeyPrefix uint8
)

// Bytes returns the byte representation of KeyPrefix.
func (k KeyPrefix) Bytes() []byte {
	return []byte{byte(k)}
}

// AppendKey builds a storage key from the prefix and parts joined verbatim.
func AppendKey(prefix KeyPrefix, parts ...[]byte) []byte {
	size := 1
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 1, size)
	key[0] = byte(prefix)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func seekRangeToPrefixes(sr SeekRange) *util.Range {
	var (
		rang  *util.Range
		start = make([]byte, len(sr.Prefix)+len(sr.Start))
	)
	copy(start, sr.Prefix)
	copy(start[len(sr.Prefix):], sr.Start)

	if !sr.Backwards {
		rang = util.BytesPrefix(sr.Prefix)
		rang.Start = start
	} else {
		rang = util.BytesPrefix(start)
		rang.Start = sr.Prefix
	}
	return rang
}

// NewStore creates storage with the preselected in configuration database
// type.
func NewStore(cfg dbconfig.DBConfiguration) (Store, error) {
	var store Store
	var err error
	switch cfg.Type {
	case dbconfig.LevelDB:
		store, err = NewLevelDBStore(cfg.LevelDBOptions)
	case dbconfig.InMemoryDB:
		store = NewMemoryStore()
	case dbconfig.BoltDB:
		store, err = NewBoltDBStore(cfg.BoltDBOptions)
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Type)
	}
	return store, err
}
