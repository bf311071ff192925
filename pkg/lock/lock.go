/*
Package lock implements the per-wallet advisory locks that serialise
wallet-mutating operations. A lock is held for the duration of one operation
and auto-expires after a maximum hold time, so a crashed or stuck operation
cannot wedge its wallet forever.
*/
package lock

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/obytehq/walletsrv/pkg/werr"
)

// Options controls one lock acquisition.
type Options struct {
	// Wait is how long the caller is prepared to wait for the lock
	// before giving up with ErrLockTimeout.
	Wait time.Duration
	// MaxHold is the hold time after which the lock expires and other
	// waiters may take it over.
	MaxHold time.Duration
}

type holder struct {
	token   uint64
	expires time.Time
	done    chan struct{}
}

// Manager hands out per-wallet locks.
type Manager struct {
	clock clock.Clock

	mtx   sync.Mutex
	held  map[string]*holder
	token uint64
}

// NewManager creates a lock manager using the given clock.
func NewManager(c clock.Clock) *Manager {
	return &Manager{
		clock: c,
		held:  make(map[string]*holder),
	}
}

// RunLocked runs fn while holding the wallet's lock. It waits up to
// opts.Wait for a busy lock and returns ErrLockTimeout if it never became
// free. The lock is released when fn returns, or expires on its own after
// opts.MaxHold.
func (m *Manager) RunLocked(walletID string, opts Options, fn func() error) error {
	token, err := m.acquire(walletID, opts)
	if err != nil {
		return err
	}
	defer m.release(walletID, token)
	return fn()
}

func (m *Manager) acquire(walletID string, opts Options) (uint64, error) {
	deadline := m.clock.Now().Add(opts.Wait)
	for {
		m.mtx.Lock()
		now := m.clock.Now()
		h, busy := m.held[walletID]
		if busy && now.Before(h.expires) {
			done := h.done
			expires := h.expires
			m.mtx.Unlock()

			waitLeft := deadline.Sub(now)
			if waitLeft <= 0 {
				return 0, werr.ErrLockTimeout
			}
			// Wake up either on release or on holder expiry,
			// whichever comes first within our wait budget.
			wake := waitLeft
			if holdLeft := expires.Sub(now); holdLeft < wake {
				wake = holdLeft
			}
			select {
			case <-done:
			case <-m.clock.TickAfter(wake):
			}
			continue
		}
		// Free, or the previous holder overstayed MaxHold. An expired
		// holder's eventual release is ignored via the token check.
		m.token++
		m.held[walletID] = &holder{
			token:   m.token,
			expires: now.Add(opts.MaxHold),
			done:    make(chan struct{}),
		}
		token := m.token
		m.mtx.Unlock()
		return token, nil
	}
}

func (m *Manager) release(walletID string, token uint64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	h, ok := m.held[walletID]
	if !ok || h.token != token {
		// The lock expired and was taken over while fn was running.
		return
	}
	delete(m.held, walletID)
	close(h.done)
}
