// Package node assembles the universal node runtime: every node on the
// mesh runs the same router/executor/link/identity stack, and the one
// currently holding the host attachment additionally bridges commands and
// replies over its link endpoint.
package node

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/store"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node/bus"
	"github.com/fleetpower/dcmesh/pkg/node/executor"
	"github.com/fleetpower/dcmesh/pkg/node/hal"
	"github.com/fleetpower/dcmesh/pkg/node/identity"
	"github.com/fleetpower/dcmesh/pkg/node/link"
	"github.com/fleetpower/dcmesh/pkg/node/router"
)

// Config bundles the collaborators a Node is assembled from.
type Config struct {
	Bus        bus.Bus
	HAL        hal.HAL
	IdentityKV store.Store
	Link       *link.Endpoint // nil on a node with no host attachment surface
	Logger     *zap.Logger
}

// Node is one universal node: a router driving an executor, restoring and
// persisting its identity, and optionally bridging to a host over a link
// endpoint.
type Node struct {
	Router   *router.Router
	Executor *executor.Executor
	Identity identity.Store
	Link     *link.Endpoint

	selfAddr fleetproto.Addr
	logger   *zap.Logger
}

// New restores identity (if any), then assembles the router/executor pair
// bound to cfg.Bus. If cfg.Link is non-nil, it also wires the link endpoint's
// inbound command channel and the router's reply forwarding into the
// endpoint's outbound notification stream.
func New(cfg Config) (*Node, error) {
	idStore := identity.NewKVIdentityStore(cfg.IdentityKV)

	selfAddr := cfg.Bus.LocalAddr()
	if id, ok, err := idStore.Restore(); err == nil && ok {
		selfAddr = id.UnicastAddr
	}

	exec := executor.New(cfg.HAL, selfAddr, cfg.Logger)

	// Coarse on/off transitions are part of the persisted identity; sensor
	// reads are not.
	exec.SetOnOffHook(func(on uint8) {
		id, ok, err := idStore.Restore()
		if err != nil || !ok || id.OnOff == on {
			return
		}
		id.OnOff = on
		if err := idStore.Save(id); err != nil {
			cfg.Logger.Warn("onoff persist failed", zap.Error(err))
		}
	})

	var onReply router.ReplyWaiter
	if cfg.Link != nil {
		onReply = func(src fleetproto.Addr, payload []byte) {
			// Error and timeout payloads travel unwrapped; readings get the
			// NODE<id>:DATA framing stamped with the replying node's id.
			reply := string(payload)
			if !strings.HasPrefix(reply, "ERROR:") && !strings.HasPrefix(reply, "TIMEOUT:") {
				reply = fleetproto.FormatReply(fleetproto.ReplyData, fleetproto.NodeID(src), reply)
			}
			if err := cfg.Link.Notify([]byte(reply)); err != nil {
				cfg.Logger.Warn("notify failed", zap.Error(err))
			}
		}
	}

	r := router.New(cfg.Bus, exec, onReply, cfg.Logger)
	exec.AttachSender(r)

	n := &Node{
		Router:   r,
		Executor: exec,
		Identity: idStore,
		Link:     cfg.Link,
		selfAddr: selfAddr,
		logger:   cfg.Logger,
	}

	if cfg.Link != nil {
		go n.bridgeCommands(context.Background())
	}

	return n, nil
}

// bridgeCommands reads inbound command-endpoint writes and routes each
// through the executor's full dispatch table, performing any resulting
// mesh send through the router.
func (n *Node) bridgeCommands(ctx context.Context) {
	for raw := range n.Link.CommandWrites() {
		cmd, err := fleetproto.ParseCommand(raw)
		if err != nil {
			if notifyErr := n.Link.Notify([]byte(err.Error())); notifyErr != nil {
				n.logger.Warn("notify failed", zap.Error(notifyErr))
			}
			continue
		}

		reply, dispatch := n.Executor.Handle(ctx, cmd)
		if err := n.Link.Notify([]byte(reply)); err != nil {
			n.logger.Warn("notify failed", zap.Error(err))
		}

		if dispatch != nil {
			if err := n.Router.SendCommand(ctx, dispatch.Dst, dispatch.Payload); err != nil {
				n.logger.Warn("mesh dispatch failed", zap.Error(err))
			}
		}
	}
}

// Stop terminates the node's router worker.
func (n *Node) Stop() {
	n.Router.Stop()
}

// SelfAddr returns this node's mesh unicast address.
func (n *Node) SelfAddr() fleetproto.Addr { return n.selfAddr }

// String implements fmt.Stringer for logging convenience.
func (n *Node) String() string {
	return fmt.Sprintf("node(addr=0x%04x)", uint16(n.selfAddr))
}
