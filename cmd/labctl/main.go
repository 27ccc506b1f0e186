// labctl is the operator console for the IoT lab.
//
// It streams a node's telemetry through the relay server (watch), sends
// actuator toggles (toggle), and drives the lab broker directly over
// MQTT-over-WebSocket (broker).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/labdash/internal/connection"
	"github.com/nerrad567/labdash/internal/infrastructure/config"
	"github.com/nerrad567/labdash/internal/infrastructure/logging"
	"github.com/nerrad567/labdash/internal/relay"
)

var version = "dev"

const configEnv = "LABDASH_CONFIG"

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	out        io.Writer
	configPath string
	verbose    bool

	cfg *config.Config
	log *logging.Logger

	// relayDialer replaces the WebSocket relay transport when set.
	relayDialer connection.Dialer[relay.Session]
}

func newRootCmd(out io.Writer) *cobra.Command {
	return (&app{out: out}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "labctl",
		Short:         "Operator console for the IoT lab relay and broker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log transport activity to stderr")

	root.AddCommand(newWatchCmd(a), newToggleCmd(a), newBrokerCmd(a))
	return root
}

// init loads configuration and the logger.
func (a *app) init() error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	logCfg.Format = "text"
	if a.verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "warn"
	}
	a.log = logging.New(logCfg, version).Component("labctl")
	return nil
}

// loadConfig reads path, then $LABDASH_CONFIG, then the default path. A
// missing default file falls back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		if path = os.Getenv(configEnv); path != "" {
			explicit = true
		} else {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	return cfg, err
}
