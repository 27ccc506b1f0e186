// Package connection owns the lifecycle of one message-transport connection.
//
// A Manager drives a single transport (the relay WebSocket or a direct MQTT
// broker) through the states below and reports every transition to its
// registered observers:
//
//	disconnected → connecting → connected | error
//	connected    → disconnected            (graceful or transport-initiated)
//	error        → connecting              (transport retry)
//	error        → disconnected            (explicit Disconnect)
//
// # Ownership
//
// There is no package-level connection. Each channel creates its own Manager
// and passes it around explicitly. A Manager holds at most one live transport:
// a second Connect tears the first one down before dialling again.
//
// # Transports
//
// Transports plug in through Dialer. Dial starts the handshake and returns
// immediately; progress is reported through the Events value handed to Dial.
// Every connection gets its own Events binding, and events arriving from a
// connection that has since been replaced or closed are ignored. Reconnection
// policy belongs to the transport: it reports each retry with Reconnecting.
//
// # Usage
//
//	mgr := connection.NewManager[broker.Session](broker.NewPahoDialer())
//	mgr.SetOnConnect(func() { log.Println("connected") })
//	mgr.SetOnError(func(err error) { log.Println("error:", err) })
//	if err := mgr.Connect(cfg); err != nil {
//	    // errors.Is(err, connection.ErrInvalidConfig)
//	}
//	defer mgr.Close()
//
// Thread Safety: all methods are safe for concurrent use. Observer callbacks
// run on transport goroutines without the manager lock held and must not block
// for long.
package connection
