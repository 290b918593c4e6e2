// Package hostcli provides the command-line interface for the host binary.
package hostcli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "dcmesh-hostctl",
	Short: "Monitor and balance a DC power mesh from the host",
	Long: `dcmesh-hostctl attaches to a mesh node over its point-to-point link,
polls every reachable node's voltage, current, and duty, and runs the
closed-loop power balancer that keeps the fleet under its power budget.

Start the interactive dashboard with "run", or issue one-shot commands
with "read", "duty", and "stop".`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.config/dcmesh/host.yml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (json, text)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("host")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/dcmesh")
		viper.AddConfigPath("/etc/dcmesh")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DCMESH")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// SetVersionInfo sets the version information from build flags.
func SetVersionInfo(version, commit, date string) {
	setVersionInfo(version, commit, date)
}
