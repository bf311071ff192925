package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of a Store, mainly used for
// testing. Do not use MemoryStore in production.
type MemoryStore struct {
	mut sync.RWMutex
	mem map[string][]byte
}

// NewMemoryStore creates a new MemoryStore object.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mem: make(map[string][]byte),
	}
}

// Get implements the Store interface.
func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	if val, ok := s.mem[string(key)]; ok && val != nil {
		return val, nil
	}
	return nil, ErrKeyNotFound
}

// Put implements the Store interface. Never returns an error.
func (s *MemoryStore) Put(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.mut.Lock()
	s.mem[string(key)] = v
	s.mut.Unlock()
	return nil
}

// Delete implements the Store interface. Never returns an error.
func (s *MemoryStore) Delete(key []byte) error {
	s.mut.Lock()
	delete(s.mem, string(key))
	s.mut.Unlock()
	return nil
}

// Seek implements the Store interface.
func (s *MemoryStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	sPrefix := string(rng.Prefix)
	lPrefix := len(sPrefix)
	sStart := string(rng.Start)
	lStart := len(sStart)
	var memList []keyValue

	isKeyOK := func(key string) bool {
		return strings.HasPrefix(key, sPrefix) && (lStart == 0 || strings.Compare(key[lPrefix:], sStart) >= 0)
	}
	if rng.Backwards {
		isKeyOK = func(key string) bool {
			return strings.HasPrefix(key, sPrefix) && (lStart == 0 || strings.Compare(key[lPrefix:], sStart) <= 0)
		}
	}
	less := func(k1, k2 []byte) bool {
		res := bytes.Compare(k1, k2)
		return res != 0 && rng.Backwards == (res > 0)
	}

	for k, v := range s.mem {
		if v != nil && isKeyOK(k) {
			memList = append(memList, keyValue{
				Key:   []byte(k),
				Value: v,
			})
		}
	}
	sort.Slice(memList, func(i, j int) bool {
		return less(memList[i].Key, memList[j].Key)
	})
	for _, kv := range memList {
		if !f(kv.Key, kv.Value) {
			break
		}
	}
}

type keyValue struct {
	Key   []byte
	Value []byte
}

// Close implements the Store interface and clears up memory. Never returns
// an error.
func (s *MemoryStore) Close() error {
	s.mut.Lock()
	s.mem = nil
	s.mut.Unlock()
	return nil
}
