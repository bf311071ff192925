/*
Package hub implements the client of the ledger hub: the write-authoritative
service that accepts and propagates units, and the event feed the blockchain
monitor consumes.
*/
package hub

import (
	"context"
	"errors"

	"github.com/obytehq/walletsrv/pkg/joint"
)

// Event channel subjects delivered by the hub.
const (
	EventNewJoint     = "new_joint"
	EventStableTxs    = "my_transactions_became_stable"
	EventMCIStable    = "mci_became_stable"
	EventNewAddressOK = "watching"
)

// ErrBroadcastRejected is returned when the hub refused the joint outright
// (as opposed to a transport failure).
var ErrBroadcastRejected = errors.New("joint rejected by hub")

// Event is one message of the hub's event feed.
type Event struct {
	// Subject is one of the Event* constants.
	Subject string
	// Joint is set for new_joint events.
	Joint *joint.Joint
	// Units carries the affected unit ids for stability events.
	Units []string
	// MCI is the stabilised main chain index for mci_became_stable.
	MCI uint64
}

// Client is the interface to the hub.
type Client interface {
	// BroadcastJoint submits a finalised joint. A nil error means the
	// hub accepted it; ErrBroadcastRejected (possibly wrapped) means a
	// definite refusal; other errors are transport failures with
	// unknown outcome.
	BroadcastJoint(ctx context.Context, j *joint.Joint) error
	// WatchAddress asks the hub to include the address in future
	// event filtering.
	WatchAddress(ctx context.Context, address string) error
	// Events returns the event feed channel. The channel is closed on
	// Shutdown.
	Events() <-chan Event
}
