package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/labdash/internal/broker"
	"github.com/nerrad567/labdash/internal/connection"
	"github.com/nerrad567/labdash/internal/infrastructure/config"
)

// brokerFlags overrides the dashboard.broker config section.
type brokerFlags struct {
	address  string
	port     int
	path     string
	scheme   string
	username string
	password string
	clientID string

	subs     []string
	pubs     []string
	qos      int
	duration time.Duration
	wait     time.Duration
}

// subscription is a parsed --sub value.
type subscription struct {
	filter string
	qos    byte
}

// publication is a parsed --pub value.
type publication struct {
	topic   string
	payload string
}

func newBrokerCmd(a *app) *cobra.Command {
	var f brokerFlags
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Publish and subscribe on the lab broker over MQTT-over-WebSocket",
		Example: `  labctl broker --address broker.lab --sub 'iot/data:1'
  labctl broker --address ws://broker.lab --pub 'iot/command/node_1={"led":1}' --qos 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subs, err := parseSubscriptions(f.subs)
			if err != nil {
				return err
			}
			pubs, err := parsePublications(f.pubs)
			if err != nil {
				return err
			}
			if len(subs) == 0 && len(pubs) == 0 {
				return fmt.Errorf("nothing to do: give at least one --sub or --pub")
			}
			if f.qos < 0 || f.qos > 2 {
				return broker.ErrInvalidQoS
			}
			return a.runBroker(cmd.Context(), f, subs, pubs)
		},
	}

	cmd.Flags().StringVar(&f.address, "address", "", "broker host, optionally prefixed with ws:// or wss://")
	cmd.Flags().IntVar(&f.port, "port", 0, "broker WebSocket port (default from config)")
	cmd.Flags().StringVar(&f.path, "path", "", "WebSocket path (default from config)")
	cmd.Flags().StringVar(&f.scheme, "scheme", "", "ws or wss (default from config)")
	cmd.Flags().StringVar(&f.username, "username", "", "broker username")
	cmd.Flags().StringVar(&f.password, "password", "", "broker password")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "client id (generated when empty)")
	cmd.Flags().StringArrayVar(&f.subs, "sub", nil, "subscribe to filter[:qos], repeatable")
	cmd.Flags().StringArrayVar(&f.pubs, "pub", nil, "publish topic=payload, repeatable")
	cmd.Flags().IntVar(&f.qos, "qos", 0, "QoS for --pub")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long (default: until interrupted when subscribed)")
	cmd.Flags().DurationVar(&f.wait, "wait", 10*time.Second, "how long to wait for the connection and each acknowledgement")
	return cmd
}

// parseSubscriptions reads "filter" or "filter:qos" values.
func parseSubscriptions(values []string) ([]subscription, error) {
	subs := make([]subscription, 0, len(values))
	for _, v := range values {
		filter, qosStr, hasQoS := strings.Cut(v, ":")
		s := subscription{filter: strings.TrimSpace(filter)}
		if hasQoS {
			q, err := strconv.Atoi(qosStr)
			if err != nil || q < 0 || q > 2 {
				return nil, fmt.Errorf("--sub %q: %w", v, broker.ErrInvalidQoS)
			}
			s.qos = byte(q)
		}
		if s.filter == "" {
			return nil, fmt.Errorf("--sub %q: %w", v, broker.ErrInvalidTopic)
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// parsePublications reads "topic=payload" values. The payload may itself
// contain '='.
func parsePublications(values []string) ([]publication, error) {
	pubs := make([]publication, 0, len(values))
	for _, v := range values {
		t, payload, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("--pub %q: want topic=payload", v)
		}
		pubs = append(pubs, publication{topic: strings.TrimSpace(t), payload: payload})
	}
	return pubs, nil
}

// brokerConnConfig merges the config section with command-line overrides.
func brokerConnConfig(bc config.BrokerClientConfig, f brokerFlags) connection.Config {
	if f.address != "" {
		bc.Address = f.address
	}
	if f.port != 0 {
		bc.Port = f.port
	}
	if f.path != "" {
		bc.Path = f.path
	}
	if f.scheme != "" {
		bc.Scheme = f.scheme
	}
	if f.username != "" {
		bc.Username = f.username
		bc.Password = f.password
	}

	cfg := connection.Config{
		Address:         bc.Address,
		Port:            strconv.Itoa(bc.Port),
		Path:            bc.Path,
		Username:        bc.Username,
		Password:        bc.Password,
		ClientID:        f.clientID,
		KeepAlive:       bc.KeepAliveDuration(),
		ReconnectPeriod: bc.ReconnectPeriod(),
		ConnectTimeout:  bc.ConnectTimeout(),
	}
	// An explicit ws:// or wss:// on the address wins over the configured scheme.
	if !strings.Contains(bc.Address, "://") || strings.HasPrefix(strings.ToLower(bc.Address), "mqtt://") {
		cfg.Scheme = connection.Scheme(bc.Scheme)
	}
	return cfg
}

func (a *app) runBroker(ctx context.Context, f brokerFlags, subs []subscription, pubs []publication) error {
	bc := a.cfg.Dashboard.Broker
	ch := broker.NewChannel(broker.NewPahoDialer(), broker.Options{
		LogCapacity:    bc.LogCapacity,
		ClientIDPrefix: bc.ClientIDPrefix,
	})
	ch.SetLogger(a.log)

	var mu sync.Mutex
	emit := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(a.out, s)
	}

	connected := make(chan struct{}, 1)
	ch.SetOnConnect(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	ch.SetOnMessage(func(e broker.Entry) { emit(renderEntry(e)) })
	ch.SetOnError(func(err error) { a.log.Warn("broker error", "error", err) })

	if err := ch.Connect(brokerConnConfig(bc, f)); err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // Shutdown path

	select {
	case <-connected:
		cfg := ch.Config()
		emit(fmt.Sprintf("connected to %s as %s", cfg.URL(), cfg.ClientID))
	case <-time.After(f.wait):
		if err := ch.LastError(); err != nil {
			return fmt.Errorf("broker did not connect within %s: %w", f.wait, err)
		}
		return fmt.Errorf("broker did not connect within %s", f.wait)
	case <-ctx.Done():
		return nil
	}

	for _, s := range subs {
		if err := awaitAck(ctx, f.wait, func() (*broker.Ack, error) { return ch.Subscribe(s.filter, s.qos) }); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.filter, err)
		}
		emit(fmt.Sprintf("subscribed to %s (qos %d)", s.filter, s.qos))
	}
	for _, p := range pubs {
		if err := awaitAck(ctx, f.wait, func() (*broker.Ack, error) { return ch.Publish(p.topic, []byte(p.payload), byte(f.qos)) }); err != nil {
			return fmt.Errorf("publishing to %s: %w", p.topic, err)
		}
		emit(renderEntry(broker.Entry{
			Topic:     p.topic,
			Payload:   p.payload,
			Time:      time.Now(),
			Direction: broker.DirectionSent,
			QoS:       byte(f.qos),
		}))
	}

	switch {
	case f.duration > 0:
		select {
		case <-time.After(f.duration):
		case <-ctx.Done():
		}
	case len(subs) > 0:
		<-ctx.Done()
	}

	if err := ch.Disconnect(); err != nil {
		a.log.Warn("disconnect failed", "error", err)
	}
	return nil
}

// awaitAck runs op and waits up to timeout for its acknowledgement.
func awaitAck(ctx context.Context, timeout time.Duration, op func() (*broker.Ack, error)) error {
	ack, err := op()
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ack.Wait(waitCtx)
}
