// Package commands holds the localshare command tree.
package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Environment variables consulted when the matching flag is not given.
const (
	EnvPort        = "LOCALSHARE_PORT"
	EnvPairingCode = "LOCALSHARE_PAIRING_CODE"
)

var (
	logLevel string
	logJSON  bool

	network     string
	pairingCode string
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "localshare",
		Short:        "Share text and files with devices on the local network",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging(logLevel, logJSON)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	root.PersistentFlags().StringVar(&network, "network", "tcp", `transport: "tcp" or "websocket"`)
	root.PersistentFlags().StringVar(&pairingCode, "pairing-code", "", "shared pairing code (env "+EnvPairingCode+")")

	root.AddCommand(serveCmd(), addressCmd(), sendCmd(), listenCmd(), discoverCmd())
	return root
}

func configureLogging(level string, asJSON bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logrus.SetLevel(lvl)
	if asJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// envPort returns the port from the flag, or from EnvPort when the flag was
// left at its default.
func envPort(flags *pflag.FlagSet, port int) (int, error) {
	if flags.Changed("port") {
		return port, nil
	}
	v, ok := os.LookupEnv(EnvPort)
	if !ok || v == "" {
		return port, nil
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", EnvPort, v, err)
	}
	return p, nil
}

func envPairingCode(flags *pflag.FlagSet) string {
	if flags.Changed("pairing-code") {
		return pairingCode
	}
	if v := os.Getenv(EnvPairingCode); v != "" {
		return v
	}
	return pairingCode
}
