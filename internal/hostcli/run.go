package hostcli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/hostapp"
	"github.com/fleetpower/dcmesh/internal/logging"
	"github.com/fleetpower/dcmesh/internal/tui"
)

var (
	headless    bool
	thresholdMW float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to the mesh and start the power balancer",
	Long: `Attach to a node over the configured connection, start the link
supervisor and the power balancer, and open the interactive dashboard.

Use --headless to run without the dashboard (logs only). Set a power
threshold at startup with --threshold, or later from the dashboard's
command bar (press ":").`,
	RunE: runHost,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&headless, "headless", false, "run without the interactive dashboard")
	runCmd.Flags().Float64Var(&thresholdMW, "threshold", 0, "power threshold in milliwatts (0 leaves balancing off)")
	runCmd.Flags().String("serial-port", "", "serial port of the attached node")
	runCmd.Flags().String("connection-type", "", "connection type (serial, tcp, mqtt)")
	_ = viper.BindPFlag("connection.serial.port", runCmd.Flags().Lookup("serial-port"))
	_ = viper.BindPFlag("connection.type", runCmd.Flags().Lookup("connection-type"))
	_ = viper.BindPFlag("power_manager.threshold_mw", runCmd.Flags().Lookup("threshold"))
}

func runHost(_ *cobra.Command, _ []string) error {
	logCfg := logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}
	if !headless {
		// The dashboard owns the terminal; keep log noise out of it.
		logCfg.Format = "text"
		logCfg.Level = "error"
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		logging.Info("Using config file", zap.String("path", cfgFile))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	app, err := hostapp.New(cfg, reg)
	if err != nil {
		return fmt.Errorf("failed to create host app: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	if !headless {
		go func() {
			<-sigChan
			cancel()
		}()

		if err := tui.Run(app); err != nil {
			logging.Error("TUI error", zap.Error(err))
		}
	} else {
		logging.Info("Host is running. Press Ctrl+C to stop.")
		select {
		case <-sigChan:
			logging.Info("Received shutdown signal")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("host app exited: %w", err)
			}
		}
	}

	cancel()
	if err := app.Stop(); err != nil {
		logging.Error("Error stopping app", zap.Error(err))
	}

	return nil
}
