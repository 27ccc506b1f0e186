// Package relay implements the dashboard side of the telemetry relay.
//
// A Channel follows one device through the relay server over a single
// WebSocket. After every handshake it subscribes to the device's
// "sensorData/<id>" stream and asks for the current state via "device/<id>";
// each inbound frame replaces the held SensorFrame. Device commands go to
// "publish/command/<id>".
//
// # Error Policy
//
// Commands are fire-and-forget. While the relay is unreachable they are
// dropped and no error reaches the caller; the direct broker channel
// (package broker) surfaces the same condition as an error. Toggles are
// applied to the local frame before the command is sent; TogglePolicy chooses
// whether a dropped command leaves that optimistic state in place (the
// default) or rolls it back.
//
// # Wire Format
//
// Messages are JSON envelopes, see Envelope. The same types are used by the
// relay server in package api.
//
// # Usage
//
//	dialer := &relay.WebSocketDialer{Tokens: tokens}
//	ch, err := relay.Open(dialer, "7", connection.Config{Address: "localhost", Port: "8080"}, relay.Options{})
//	if err != nil {
//	    return err
//	}
//	defer ch.Close()
//
//	ch.SetOnFrame(func(f relay.SensorFrame) { agg.Add(f) })
//	ch.ToggleLed()
package relay
