// Package sim runs a small fleet of universal nodes entirely in memory: an
// in-process bus hub, simulated loads, and a PTY-backed link endpoint on the
// first node so a real host binary can attach to the fleet as if over a
// serial cable.
package sim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/simhal"
	"github.com/fleetpower/dcmesh/internal/store"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/fleetproto/simlink"
	"github.com/fleetpower/dcmesh/pkg/node"
	"github.com/fleetpower/dcmesh/pkg/node/bus/simbus"
	"github.com/fleetpower/dcmesh/pkg/node/identity"
	"github.com/fleetpower/dcmesh/pkg/node/link"
)

// Config describes the simulated fleet.
type Config struct {
	// Nodes is the fleet size; node 0 carries the host-facing link endpoint.
	Nodes int

	// NominalVolts and AmpsAtFullDuty describe each simulated load.
	NominalVolts   float64
	AmpsAtFullDuty float64

	// IdentityDir is where each node persists its identity record. Empty
	// uses a throwaway temp directory.
	IdentityDir string

	// Service is the link endpoint's advertised table.
	Service link.ServiceTable

	Logger *zap.Logger
}

// DefaultConfig returns a three-node 12V fleet.
func DefaultConfig() Config {
	return Config{
		Nodes:          3,
		NominalVolts:   12.0,
		AmpsAtFullDuty: 0.5,
		Service:        link.ServiceTable{LocalName: "DCMESH-SIM"},
	}
}

// Fleet is a running set of simulated nodes sharing one bus hub.
type Fleet struct {
	cfg   Config
	nodes []*node.Node
	pty   *simlink.PTY
}

// New constructs a Fleet; Start brings it up.
func New(cfg Config) *Fleet {
	if cfg.Nodes <= 0 {
		cfg.Nodes = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Fleet{cfg: cfg}
}

// Start attaches every node to a fresh hub and returns the PTY slave path
// the host should open as its serial port.
func (f *Fleet) Start(ctx context.Context) (string, error) {
	dir := f.cfg.IdentityDir
	if dir == "" {
		d, err := os.MkdirTemp("", "dcmesh-sim")
		if err != nil {
			return "", fmt.Errorf("failed to create identity dir: %w", err)
		}
		dir = d
	}

	hub := simbus.NewHub(0)

	for i := 0; i < f.cfg.Nodes; i++ {
		addr := fleetproto.NodeAddr(i)
		nodeDir := filepath.Join(dir, fmt.Sprintf("node%d", i))
		if err := os.MkdirAll(nodeDir, 0o700); err != nil {
			return "", fmt.Errorf("failed to create node dir: %w", err)
		}
		kv := store.NewFileStore(nodeDir)

		// Seed the post-provisioning state the provisioner would have left
		// behind: a unicast address and a bound client model.
		ids := identity.NewKVIdentityStore(kv)
		if _, ok, _ := ids.Restore(); !ok {
			if err := ids.Save(identity.Identity{UnicastAddr: addr, ClientModelBound: true}); err != nil {
				return "", fmt.Errorf("failed to seed identity: %w", err)
			}
		}

		logger := f.cfg.Logger.With(zap.Int("sim_node", i))
		h := simhal.New(f.cfg.NominalVolts, f.cfg.AmpsAtFullDuty*(1+0.2*float64(i)), int64(i)+1)

		var ep *link.Endpoint
		if i == 0 {
			pty, err := simlink.OpenPTY()
			if err != nil {
				return "", fmt.Errorf("failed to open pty: %w", err)
			}
			f.pty = pty

			transport := link.NewSerialTransport(pty.Master, logger)
			ep = link.New(transport, logger)
			transport.SetEndpoint(ep)
			if err := ep.Register(f.cfg.Service); err != nil {
				return "", fmt.Errorf("failed to register link service: %w", err)
			}
		}

		n, err := node.New(node.Config{
			Bus:        hub.Attach(addr),
			HAL:        h,
			IdentityKV: kv,
			Link:       ep,
			Logger:     logger,
		})
		if err != nil {
			return "", fmt.Errorf("failed to build node %d: %w", i, err)
		}
		f.nodes = append(f.nodes, n)

		if ep != nil {
			ep.MarkMeshInit()
			if err := ep.Advertise(ctx); err != nil {
				return "", fmt.Errorf("failed to start advertising: %w", err)
			}
		}
	}

	return f.pty.SlavePath, nil
}

// Stop tears the fleet down.
func (f *Fleet) Stop() {
	for _, n := range f.nodes {
		n.Stop()
	}
	if f.pty != nil {
		_ = f.pty.Master.Close()
	}
}
