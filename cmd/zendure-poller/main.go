// Zendure-poller discovers Zendure devices on the local network and polls
// their ZenSDK HTTP API for telemetry.
//
// Devices are located by their mDNS advertisement
// ("Zendure-<model>-<serial>"), so no IP address needs to be configured.
// Each device gets its own polling loop; the latest values can be followed
// in the terminal, logged, or served over HTTP and WebSocket.
//
// Usage:
//
//	zendure-poller [command] [flags]
//
// See 'zendure-poller --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/logging"
	"github.com/zendure-tools/zendure-poller/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	logLevel   string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "zendure-poller",
	Short: "Zendure device discovery and telemetry poller",
	Long: `Discover Zendure devices (e.g. SolarFlow800) via mDNS and poll their
local HTTP API for telemetry.

Devices are configured by serial number and model; the address is resolved
on every start, so DHCP changes need no reconfiguration.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		if configPath != "" {
			if err := os.Setenv(config.ConfigPathEnvVar, configPath); err != nil {
				return err
			}
		}
		return logging.Initialize(logLevel)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $"+logging.LogLevelEnvVar)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file; defaults to $"+config.ConfigPathEnvVar+" or the user config dir")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("zendure-poller %s\n", version.Full())
	},
}
