package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/labdash/internal/auth"
	"github.com/nerrad567/labdash/internal/connection"
	"github.com/nerrad567/labdash/internal/history"
	"github.com/nerrad567/labdash/internal/infrastructure/config"
	"github.com/nerrad567/labdash/internal/relay"
)

// relayFlags overrides the dashboard.relay config section.
type relayFlags struct {
	host      string
	port      int
	tls       bool
	policy    string
	tokenFile string
}

func (f *relayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "relay server host (default from config)")
	cmd.Flags().IntVar(&f.port, "port", 0, "relay server port (default from config)")
	cmd.Flags().BoolVar(&f.tls, "tls", false, "connect with wss://")
	cmd.Flags().StringVar(&f.policy, "policy", "", "toggle policy when a command is dropped: keep or rollback")
	cmd.Flags().StringVar(&f.tokenFile, "token-file", "", "bearer token file (default from config)")
}

// relayConnConfig merges the config section with command-line overrides.
func relayConnConfig(rc config.RelayClientConfig, f relayFlags) connection.Config {
	if f.host != "" {
		rc.Host = f.host
	}
	if f.port != 0 {
		rc.Port = f.port
	}
	if f.tls {
		rc.TLS = true
	}

	scheme := connection.SchemeWS
	if rc.TLS {
		scheme = connection.SchemeWSS
	}
	return connection.Config{
		Scheme:          scheme,
		Address:         rc.Host,
		Port:            strconv.Itoa(rc.Port),
		Path:            rc.Path,
		KeepAlive:       rc.Heartbeat(),
		ReconnectPeriod: rc.ReconnectDelay(),
		ConnectTimeout:  rc.ConnectTimeout(),
	}
}

// relayHooks are installed on a relay channel before its first dial, so
// the frame answering the initial fetch cannot arrive unobserved.
type relayHooks struct {
	onConnect func()
	onFrame   func(frame relay.SensorFrame)
}

// errRelayDown is returned when a toggle could not reach the relay.
var errRelayDown = errors.New("relay connection is down, command not sent")

// openRelay creates a relay channel for deviceID, installs hooks and connects it.
func (a *app) openRelay(deviceID string, f relayFlags, hooks relayHooks) (*relay.Channel, error) {
	policyName := a.cfg.Dashboard.Relay.TogglePolicy
	if f.policy != "" {
		policyName = f.policy
	}
	policy, ok := relay.ParseTogglePolicy(policyName)
	if !ok {
		return nil, fmt.Errorf("unknown toggle policy %q", policyName)
	}

	tokenFile := a.cfg.Dashboard.TokenFile
	if f.tokenFile != "" {
		tokenFile = f.tokenFile
	}
	tokens, err := auth.NewTokenStore(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	dialer := a.relayDialer
	if dialer == nil {
		dialer = &relay.WebSocketDialer{Tokens: tokens, Logger: a.log}
	}
	ch, err := relay.NewChannel(dialer, deviceID, relay.Options{Policy: policy})
	if err != nil {
		return nil, err
	}
	ch.SetLogger(a.log)
	ch.SetOnConnect(hooks.onConnect)
	ch.SetOnFrame(hooks.onFrame)
	ch.SetOnDisconnect(func(err error) {
		a.log.Warn("relay disconnected", "error", err)
	})
	ch.SetOnError(func(err error) {
		a.log.Warn("relay error", "error", err)
	})

	if err := ch.Connect(relayConnConfig(a.cfg.Dashboard.Relay, f)); err != nil {
		ch.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("connecting to relay: %w", err)
	}
	return ch, nil
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		flags  relayFlags
		charts bool
	)
	cmd := &cobra.Command{
		Use:   "watch <deviceId>",
		Short: "Stream a device's sensor frames through the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), args[0], flags, charts)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&charts, "charts", true, "print the chart series after each committed sample")
	return cmd
}

func (a *app) watch(ctx context.Context, deviceID string, f relayFlags, charts bool) error {
	agg := history.New(history.Options{
		Interval: a.cfg.Dashboard.History.Interval(),
		Capacity: a.cfg.Dashboard.History.Capacity,
	})

	ch, err := a.openRelay(deviceID, f, relayHooks{
		onConnect: func() {
			fmt.Fprintf(a.out, "connected to relay, watching device %s\n", deviceID)
		},
		onFrame: func(frame relay.SensorFrame) {
			fmt.Fprintln(a.out, renderFrame(frame, time.Local))
			if agg.Add(frame) && charts {
				fmt.Fprint(a.out, renderSeries(agg.Snapshot()))
			}
		},
	})
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // Shutdown path

	<-ctx.Done()
	return nil
}

func newToggleCmd(a *app) *cobra.Command {
	var (
		flags   relayFlags
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "toggle <deviceId> <actuator>",
		Short: "Flip one actuator (led, buzzer, fan, alertLed, servo) through the relay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actuator, err := relay.ParseActuator(args[1])
			if err != nil {
				return err
			}
			return a.toggle(cmd.Context(), args[0], actuator, flags, timeout)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the device's current state")
	return cmd
}

// toggle waits for the device's current frame so the flip starts from the
// real state, then sends the command.
func (a *app) toggle(ctx context.Context, deviceID string, actuator relay.Actuator, f relayFlags, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	first := make(chan struct{})
	var once sync.Once
	ch, err := a.openRelay(deviceID, f, relayHooks{
		onFrame: func(relay.SensorFrame) {
			once.Do(func() { close(first) })
		},
	})
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // Shutdown path

	select {
	case <-first:
	case <-ctx.Done():
		return fmt.Errorf("no state received for device %s: %w", deviceID, ctx.Err())
	}

	// The channel drops commands silently while down; the console must not
	// report a flip that never left.
	if ch.State() != connection.StateConnected {
		return fmt.Errorf("toggling %s on %s: %w", actuator, deviceID, errRelayDown)
	}
	state, err := ch.Toggle(actuator)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s -> %d\n", deviceID, actuator, state)
	return nil
}
