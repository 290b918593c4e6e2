// Package bus defines the addressed opaque-message medium consumed by the
// mesh message router: a minimal send operation plus four callback events,
// so a Router never depends on a concrete radio stack.
package bus

import (
	"context"
	"time"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
)

// Callbacks is the set of events a Bus delivers to its owner. Every callback
// must return quickly: it is invoked from the bus's own delivery context and
// must not block on mesh sends (spec: callbacks capture inputs and hand off).
type Callbacks struct {
	// OnRecv fires when an inbound frame addressed to this node (unicast or
	// group) arrives.
	OnRecv func(op fleetproto.Opcode, src, dst fleetproto.Addr, payload []byte)

	// OnSendComplete fires once the local radio has emitted a message. This
	// is not end-to-end delivery.
	OnSendComplete func(ok bool)

	// OnReply fires when the bus matches an inbound frame to an outstanding
	// client request.
	OnReply func(op fleetproto.Opcode, src fleetproto.Addr, payload []byte)

	// OnTimeout fires when an outstanding client request to target expires
	// without a matching reply.
	OnTimeout func(target fleetproto.Addr)
}

// Bus is the addressed opaque-message transport a Router rides on.
type Bus interface {
	// Subscribe registers the callback set. It must be called exactly once,
	// before any Send.
	Subscribe(cb Callbacks)

	// Send emits payload to dst with the given opcode and time-to-live. It
	// is fire-and-forget at the bus level; delivery and reply tracking are
	// reported asynchronously via the Callbacks.
	Send(ctx context.Context, dst fleetproto.Addr, op fleetproto.Opcode, payload []byte, ttl uint8) error

	// LocalAddr returns this node's own unicast address on the bus.
	LocalAddr() fleetproto.Addr
}

// DefaultReplyTimeout is the transport-enforced request-expiry window a bus
// uses for its own bookkeeping (simbus falls back to it). The router's
// busyTimeout has the same value.
const DefaultReplyTimeout = 5 * time.Second
