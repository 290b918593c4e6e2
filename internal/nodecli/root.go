// Package nodecli provides the command-line interface for the node binary.
package nodecli

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
	Use:   "dcmesh-node",
	Short: "Run a DC power monitoring mesh node",
	Long: `dcmesh-node runs one universal mesh node: it joins the opaque-message
bus, drives a PWM load and voltage/current sensor, and optionally bridges
ASCII commands and replies to an attached host over a point-to-point link.

Run against real hardware with "run", or exercise a small N-node mesh
entirely in memory with "simulate".`,
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

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.config/dcmesh/node.yml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (json, text)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("node")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/dcmesh")
		viper.AddConfigPath("/etc/dcmesh")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DCMESH_NODE")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// SetVersionInfo sets the version information from build flags.
func SetVersionInfo(version, commit, date string) {
	setVersionInfo(version, commit, date)
}
