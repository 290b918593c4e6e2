// Package simbus is an in-memory, N-party bus.Bus used to wire multiple
// pkg/node routers together without a radio, for integration tests and for
// the node binary's simulate mode.
package simbus

import (
	"context"
	"sync"
	"time"

	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node/bus"
)

// Hub is the shared medium every simbus.Bus attaches to. A Hub delivers
// CmdOpcode frames as OnRecv (unicast to the addressed member, or broadcast
// to every member for fleetproto.GroupAddr) and ReplyOpcode frames as
// OnReply to the frame's destination only.
type Hub struct {
	mu      sync.Mutex
	members map[fleetproto.Addr]*Bus
	timeout time.Duration
}

// NewHub creates an empty hub. timeout governs how long an unaddressed
// unicast send waits before firing OnTimeout; zero uses bus.DefaultReplyTimeout.
func NewHub(timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = bus.DefaultReplyTimeout
	}
	return &Hub{members: make(map[fleetproto.Addr]*Bus), timeout: timeout}
}

// Bus is one node's attachment to a Hub.
type Bus struct {
	addr fleetproto.Addr
	hub  *Hub
	cb   bus.Callbacks
}

// Attach registers a new member at addr and returns its Bus handle.
func (h *Hub) Attach(addr fleetproto.Addr) *Bus {
	b := &Bus{addr: addr, hub: h}
	h.mu.Lock()
	h.members[addr] = b
	h.mu.Unlock()
	return b
}

func (b *Bus) Subscribe(cb bus.Callbacks) { b.cb = cb }

func (b *Bus) LocalAddr() fleetproto.Addr { return b.addr }

// Send delivers payload through the hub. Delivery happens on a separate
// goroutine so the caller never blocks on a peer's callback, matching the
// "callbacks capture inputs and hand off" rule the router relies on.
func (b *Bus) Send(ctx context.Context, dst fleetproto.Addr, op fleetproto.Opcode, payload []byte, ttl uint8) error {
	frame := make([]byte, len(payload))
	copy(frame, payload)

	go func() {
		if b.cb.OnSendComplete != nil {
			b.cb.OnSendComplete(true)
		}
	}()

	go b.hub.deliver(b.addr, dst, op, frame, b.hub.timeout)
	return nil
}

func (h *Hub) deliver(src, dst fleetproto.Addr, op fleetproto.Opcode, payload []byte, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if op == fleetproto.ReplyOpcode {
		target, ok := h.members[dst]
		if ok && target.cb.OnReply != nil {
			target.cb.OnReply(op, src, payload)
		}
		return
	}

	if dst == fleetproto.GroupAddr {
		for _, m := range h.members {
			if m.cb.OnRecv != nil {
				m.cb.OnRecv(op, src, dst, payload)
			}
		}
		return
	}

	target, ok := h.members[dst]
	if !ok {
		sender := h.members[src]
		time.AfterFunc(timeout, func() {
			if sender != nil && sender.cb.OnTimeout != nil {
				sender.cb.OnTimeout(dst)
			}
		})
		return
	}
	if target.cb.OnRecv != nil {
		target.cb.OnRecv(op, src, dst, payload)
	}
}
