// Package router implements the mesh message router: a node plays both
// the server role (answer inbound commands) and the client role (issue
// commands and track a single in-flight request) over a bus.Bus.
package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node/bus"
)

// defaultTTL matches the mesh's default hop count.
const defaultTTL uint8 = 7

// busyTimeout is the bounded wait before a stuck in-flight slot is forced
// clear; it matches the transport's own request-expiry timeout.
const busyTimeout = 5 * time.Second

// Executor answers an inbound command payload addressed to this node and
// returns the reply payload to send back. It is the router's only upcall
// into the command layer.
type Executor interface {
	Execute(raw []byte) (reply []byte)
}

// Dispatch is a pending outbound send the executor asks the router to
// perform after it finishes local handling.
type Dispatch struct {
	Dst     fleetproto.Addr
	Payload []byte
}

// event is the single internal channel type every bus callback enqueues, so
// all in-flight-register and KnownNode mutation happens on one worker
// goroutine and never inside the bus's own delivery context.
type event struct {
	kind evKind
	op   fleetproto.Opcode
	src  fleetproto.Addr
	dst  fleetproto.Addr
	payload []byte
	ok   bool
	send sendRequest
}

type evKind int

const (
	evRecv evKind = iota
	evSendComplete
	evReply
	evTimeout
	evSendRequest
	evStop
)

type sendRequest struct {
	dst     fleetproto.Addr
	payload []byte
	result  chan error
}

// ReplyWaiter receives payloads forwarded from replies to unicast or group
// requests this node issued. On the host-attached node this feeds the link
// endpoint's outbound notification channel; on other nodes it is unused.
type ReplyWaiter func(src fleetproto.Addr, payload []byte)

// Router owns the in-flight register and the known-peer set. All mutable
// state is touched only from the run goroutine; bus callbacks merely enqueue
// events onto a buffered channel.
type Router struct {
	bus      bus.Bus
	self     fleetproto.Addr
	executor Executor
	onReply  ReplyWaiter
	logger   *zap.Logger

	events chan event

	mu sync.RWMutex // guards known and discoveryComplete, which outside readers snapshot

	busy               bool
	inFlightTarget     fleetproto.Addr
	inFlightStart      time.Time
	discoveryComplete  bool
	known              map[fleetproto.Addr]time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Router bound to b, answering inbound commands via exec and
// forwarding reply payloads to onReply. Subscribe is called on b immediately.
func New(b bus.Bus, exec Executor, onReply ReplyWaiter, logger *zap.Logger) *Router {
	r := &Router{
		bus:      b,
		self:     b.LocalAddr(),
		executor: exec,
		onReply:  onReply,
		logger:   logger,
		events:   make(chan event, 32),
		known:    make(map[fleetproto.Addr]time.Time),
		done:     make(chan struct{}),
	}

	b.Subscribe(bus.Callbacks{
		OnRecv: func(op fleetproto.Opcode, src, dst fleetproto.Addr, payload []byte) {
			r.events <- event{kind: evRecv, op: op, src: src, dst: dst, payload: payload}
		},
		OnSendComplete: func(ok bool) {
			r.events <- event{kind: evSendComplete, ok: ok}
		},
		OnReply: func(op fleetproto.Opcode, src fleetproto.Addr, payload []byte) {
			r.events <- event{kind: evReply, op: op, src: src, payload: payload}
		},
		OnTimeout: func(target fleetproto.Addr) {
			r.events <- event{kind: evTimeout, dst: target}
		},
	})

	go r.run()
	return r
}

// Stop terminates the worker goroutine.
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		r.events <- event{kind: evStop}
	})
	<-r.done
}

// SendCommand issues payload to target (unicast or fleetproto.GroupAddr),
// honoring the single-slot in-flight discipline: the underlying transport
// holds one outstanding client transaction, and overlapping sends lose
// messages on multi-hop paths. For a group target it never blocks or sets
// busy. For a unicast target it blocks the caller until busy clears, up to
// busyTimeout.
func (r *Router) SendCommand(ctx context.Context, target fleetproto.Addr, payload []byte) error {
	result := make(chan error, 1)
	r.events <- event{kind: evSendRequest, send: sendRequest{dst: target, payload: payload, result: result}}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DiscoveryComplete reports whether the sticky discovery flag has been set
// by a timed-out probe beyond the highest known node.
func (r *Router) DiscoveryComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discoveryComplete
}

// KnownNodes returns a snapshot of observed peer addresses and their
// last-seen time. Populated exclusively by replies, never by scans.
func (r *Router) KnownNodes() map[fleetproto.Addr]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[fleetproto.Addr]time.Time, len(r.known))
	for k, v := range r.known {
		out[k] = v
	}
	return out
}

func (r *Router) run() {
	defer close(r.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.events:
			switch ev.kind {
			case evStop:
				return
			case evRecv:
				r.handleRecv(ev.op, ev.src, ev.dst, ev.payload)
			case evSendComplete:
				// on_send_complete(ok=true) deliberately does not clear busy:
				// the message left the local radio, not the peer. Only a
				// failed send clears it here.
				if !ev.ok {
					r.busy = false
				}
			case evReply:
				r.handleReply(ev.src, ev.payload)
			case evTimeout:
				r.handleTimeout(ev.dst)
			case evSendRequest:
				r.handleSendRequest(ev.send)
			}
		case <-ticker.C:
			r.forceClearStale()
		}
	}
}

// handleRecv implements the server role: drop self-echo, execute locally,
// and reply to src with the reply opcode, overriding the reply's origin
// to self when the inbound frame targeted the group address.
func (r *Router) handleRecv(op fleetproto.Opcode, src, dst fleetproto.Addr, payload []byte) {
	if src == r.self {
		// Self-echo of a group message this node issued.
		return
	}

	reply := r.executor.Execute(payload)
	ctx, cancel := context.WithTimeout(context.Background(), busyTimeout)
	defer cancel()
	if err := r.bus.Send(ctx, src, fleetproto.ReplyOpcode, reply, defaultTTL); err != nil {
		r.logger.Warn("reply send failed", zap.Uint16("src", uint16(src)), zap.Error(err))
	}
}

// handleReply implements the on_reply half of the client role: clear busy
// when the reply matches the outstanding target (or none is tracked), track
// the peer in KnownNode, and forward the payload upstream.
func (r *Router) handleReply(src fleetproto.Addr, payload []byte) {
	if src == r.inFlightTarget || r.inFlightTarget == 0 {
		r.busy = false
	}

	r.mu.Lock()
	r.known[src] = time.Now()
	r.mu.Unlock()

	if r.onReply != nil {
		r.onReply(src, payload)
	}
}

// handleTimeout implements on_timeout: clear busy, and if the timed-out
// probe targeted an address beyond the highest known node, set the sticky
// discovery-complete flag so future group operations skip per-address
// probing.
func (r *Router) handleTimeout(target fleetproto.Addr) {
	r.busy = false

	if r.onReply != nil && target != fleetproto.GroupAddr {
		r.onReply(target, []byte(fleetproto.FormatReply(fleetproto.ReplyTimeout, 0, uint16(target))))
	}

	r.mu.Lock()
	highest := fleetproto.Addr(0)
	for addr := range r.known {
		if addr > highest {
			highest = addr
		}
	}
	if target > highest {
		r.discoveryComplete = true
	}
	r.mu.Unlock()
}

// forceClearStale implements the "(now-t0 > 5s) -> forced Idle" transition:
// a busy slot that has outlived the transport's own timeout is reclaimed so
// a single stuck request cannot wedge the router forever.
func (r *Router) forceClearStale() {
	if r.busy && time.Since(r.inFlightStart) > busyTimeout {
		r.logger.Warn("forcing stale in-flight slot clear", zap.Uint16("target", uint16(r.inFlightTarget)))
		r.busy = false
	}
}

// handleSendRequest implements the client role's send path and its
// single-slot serialization: unicast sends to a busy slot block (via the
// caller's result channel) until the current request clears or the bounded
// wait elapses; group sends never set busy and never block.
func (r *Router) handleSendRequest(req sendRequest) {
	if req.dst == fleetproto.GroupAddr {
		ctx, cancel := context.WithTimeout(context.Background(), busyTimeout)
		defer cancel()
		req.result <- r.bus.Send(ctx, req.dst, fleetproto.CmdOpcode, req.payload, defaultTTL)
		return
	}

	if r.busy {
		if time.Since(r.inFlightStart) <= busyTimeout {
			// The worker goroutine is the only mutator of r.busy, and we are
			// running on it; a blocking wait here would deadlock the very
			// state transition we're waiting for. Re-enqueue this request
			// after a short poll interval instead, giving the events that
			// would clear busy (reply, timeout, failed send) a chance to run
			// first.
			pending := req
			time.AfterFunc(20*time.Millisecond, func() {
				r.events <- event{kind: evSendRequest, send: pending}
			})
			return
		}
		r.logger.Warn("forced clear of in-flight slot before new send", zap.Uint16("target", uint16(r.inFlightTarget)))
		r.busy = false
	}

	r.busy = true
	r.inFlightTarget = req.dst
	r.inFlightStart = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), busyTimeout)
	defer cancel()
	req.result <- r.bus.Send(ctx, req.dst, fleetproto.CmdOpcode, req.payload, defaultTTL)
}
