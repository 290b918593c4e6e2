package nodecli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fleetpower/dcmesh/internal/logging"
	"github.com/fleetpower/dcmesh/pkg/node/link"
	"github.com/fleetpower/dcmesh/pkg/node/sim"
)

var (
	simNodes   int
	simVolts   float64
	simAmps    float64
	simSymlink string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated node fleet",
	Long: `Run a fleet of simulated nodes sharing an in-memory mesh.

Node 0 serves its link endpoint over a virtual serial port; connect the
host binary to the path printed by this command.

Example:
  # Start a three-node fleet
  dcmesh-node simulate --nodes 3

  # In another terminal, attach the host
  dcmesh-hostctl run --serial-port /dev/pts/X
`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&simNodes, "nodes", 3, "fleet size")
	simulateCmd.Flags().Float64Var(&simVolts, "volts", 12.0, "simulated supply voltage")
	simulateCmd.Flags().Float64Var(&simAmps, "amps", 0.5, "simulated draw at 100% duty, in amps")
	simulateCmd.Flags().StringVar(&simSymlink, "symlink", "", "create symlink to the virtual port at this path")
}

func runSimulate(_ *cobra.Command, _ []string) error {
	if err := logging.Initialize(logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	cfg := sim.DefaultConfig()
	cfg.Nodes = simNodes
	cfg.NominalVolts = simVolts
	cfg.AmpsAtFullDuty = simAmps
	cfg.Service = link.ServiceTable{LocalName: "DCMESH-SIM"}
	cfg.Logger = logging.With()

	fleet := sim.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path, err := fleet.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start fleet: %w", err)
	}
	defer fleet.Stop()

	if simSymlink != "" {
		if err := os.Symlink(path, simSymlink); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create symlink: %v\n", err)
		} else {
			fmt.Printf("Created symlink: %s -> %s\n", simSymlink, path)
			defer os.Remove(simSymlink)
		}
	}

	fmt.Printf("Simulated fleet started\n")
	fmt.Printf("  Nodes:       %d\n", simNodes)
	fmt.Printf("  Supply:      %.1fV, %.2fA at full duty\n", simVolts, simAmps)
	fmt.Printf("  Device path: %s\n", path)
	fmt.Println()
	fmt.Println("Connect with: dcmesh-hostctl run --serial-port", path)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	return nil
}
