package nodecli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/logging"
	"github.com/fleetpower/dcmesh/internal/simhal"
	"github.com/fleetpower/dcmesh/internal/store"
	"github.com/fleetpower/dcmesh/pkg/fleetproto"
	"github.com/fleetpower/dcmesh/pkg/node"
	"github.com/fleetpower/dcmesh/pkg/node/bus/simbus"
	"github.com/fleetpower/dcmesh/pkg/node/hal"
	"github.com/fleetpower/dcmesh/pkg/node/identity"
	"github.com/fleetpower/dcmesh/pkg/node/link"
)

var (
	runSimulateHAL bool
	runNodeID      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this node",
	Long: `Run one universal node against real hardware.

The node restores its provisioned identity from the identity store, joins
the mesh, and serves its point-to-point link endpoint on the configured
serial port so a host can attach.

Use --sim-hal to substitute a software load for the PWM/sensor hardware.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runSimulateHAL, "sim-hal", false, "use a simulated load instead of real PWM/sensor hardware")
	runCmd.Flags().IntVar(&runNodeID, "node-id", 0, "node id used to seed an unprovisioned identity store")
	_ = viper.BindPFlag("simulate", runCmd.Flags().Lookup("sim-hal"))
	_ = viper.BindPFlag("node_id", runCmd.Flags().Lookup("node-id"))
}

func runNode(_ *cobra.Command, _ []string) error {
	if err := logging.Initialize(logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	cfg, err := config.LoadNode()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.With(zap.String("component", "node"))

	if err := os.MkdirAll(cfg.IdentityDir, 0o700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}
	kv := store.NewFileStore(cfg.IdentityDir)

	// Restore identity before any mesh traffic. An empty store is seeded
	// from --node-id, standing in for the out-of-scope provisioner.
	ids := identity.NewKVIdentityStore(kv)
	id, provisioned, err := ids.Restore()
	if err != nil {
		return fmt.Errorf("failed to restore identity: %w", err)
	}
	if !provisioned {
		id = identity.Identity{UnicastAddr: fleetproto.NodeAddr(cfg.NodeID), ClientModelBound: true}
		if err := ids.Save(id); err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}
		logger.Info("seeded identity store", zap.Uint16("unicast_addr", uint16(id.UnicastAddr)))
	}

	h, err := buildHAL(cfg)
	if err != nil {
		return err
	}

	// Link service registration must complete before the mesh router comes
	// up; the radio stack locks its service tables at mesh init.
	var ep *link.Endpoint
	if cfg.Link.Port != "" {
		port, err := serial.Open(cfg.Link.Port, &serial.Mode{BaudRate: cfg.Link.Baud})
		if err != nil {
			return fmt.Errorf("failed to open link port: %w", err)
		}
		if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
			return fmt.Errorf("failed to set link port read timeout: %w", err)
		}

		transport := link.NewSerialTransport(port, logger)
		ep = link.New(transport, logger)
		transport.SetEndpoint(ep)
		if err := ep.Register(link.ServiceTable{
			ServiceUUID: cfg.Link.ServiceUUID,
			SensorUUID:  cfg.Link.SensorUUID,
			CommandUUID: cfg.Link.CommandUUID,
			LocalName:   cfg.Link.LocalName,
		}); err != nil {
			return fmt.Errorf("link service registration failed: %w", err)
		}
	}

	// The production radio's bus binds here; a single-member hub keeps the
	// binary operable on a bench without one.
	hub := simbus.NewHub(0)
	b := hub.Attach(id.UnicastAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(node.Config{
		Bus:        b,
		HAL:        h,
		IdentityKV: kv,
		Link:       ep,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build node: %w", err)
	}
	defer n.Stop()

	if ep != nil {
		ep.MarkMeshInit()
		if err := ep.Advertise(ctx); err != nil {
			return fmt.Errorf("failed to start advertising: %w", err)
		}
	}

	logger.Info("node running",
		zap.Uint16("unicast_addr", uint16(n.SelfAddr())),
		zap.String("link_port", cfg.Link.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	return nil
}

// buildHAL binds the configured board resources, or a software load when
// simulating.
func buildHAL(cfg *config.NodeConfig) (hal.HAL, error) {
	if cfg.Simulate {
		return simhal.New(12.0, 0.5, time.Now().UnixNano()), nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init periph host: %w", err)
	}

	pin := gpioreg.ByName(cfg.Hardware.PWMPin)
	if pin == nil {
		return nil, fmt.Errorf("pwm pin %q not found", cfg.Hardware.PWMPin)
	}

	bus, err := i2creg.Open(cfg.Hardware.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus: %w", err)
	}

	return hal.NewPeriphHAL(pin, i2c.Dev{Bus: bus, Addr: cfg.Hardware.SenseAddr}), nil
}
