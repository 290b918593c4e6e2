package hostcli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/connection"
	"github.com/fleetpower/dcmesh/internal/logging"
)

var (
	sendTarget string
	sendWait   time.Duration
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read duty, voltage, current, and power from the fleet",
	RunE: func(_ *cobra.Command, _ []string) error {
		return oneShot(sendTarget + ":READ")
	},
}

var dutyCmd = &cobra.Command{
	Use:   "duty <pct>",
	Short: "Set PWM duty percent across the fleet",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		pct, err := strconv.Atoi(args[0])
		if err != nil || pct < 0 || pct > 100 {
			return fmt.Errorf("duty must be an integer 0-100")
		}
		return oneShot(fmt.Sprintf("%s:DUTY:%d", sendTarget, pct))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Set duty to zero across the fleet",
	RunE: func(_ *cobra.Command, _ []string) error {
		return oneShot(sendTarget + ":STOP")
	},
}

func init() {
	for _, cmd := range []*cobra.Command{readCmd, dutyCmd, stopCmd} {
		cmd.Flags().StringVar(&sendTarget, "target", "ALL", "node id or ALL")
		cmd.Flags().DurationVar(&sendWait, "wait", 3*time.Second, "how long to collect replies")
		cmd.Flags().String("serial-port", "", "serial port of the attached node")
		_ = viper.BindPFlag("connection.serial.port", cmd.Flags().Lookup("serial-port"))
		rootCmd.AddCommand(cmd)
	}
}

// oneShot connects, writes one command line, prints every reply that arrives
// within the wait window, and disconnects.
func oneShot(command string) error {
	if err := logging.Initialize(logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	conn, err := connection.New(cfg.Connection)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if err := conn.Send(ctx, []byte(command)); err != nil {
		return fmt.Errorf("failed to send %q: %w", command, err)
	}

	deadline := time.After(sendWait)
	for {
		select {
		case msg, ok := <-conn.Notifications():
			if !ok {
				return nil
			}
			fmt.Println(string(msg))
		case <-deadline:
			return nil
		}
	}
}
