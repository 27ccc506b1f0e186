// Package broker provides the operator's direct MQTT-over-WebSocket channel.
//
// A Channel manages one user-configured broker connection with manual
// publish, subscribe and unsubscribe, and keeps a small rolling log of the
// traffic it has seen.
//
// # Error Policy
//
// This is an operator tool, so failures are always visible: publishing,
// subscribing or unsubscribing without an established connection returns an
// error wrapping connection.ErrNotConnected and changes nothing. Broker
// acknowledgements arrive later through the returned *Ack. The relay channel
// (package relay) deliberately does the opposite for device commands.
//
// # Message Log
//
// The log is a fixed-capacity ring buffer. Entries are returned most recent
// first; once the buffer is full each insert evicts the oldest entry. A
// publish is logged as soon as it is handed to the transport, without waiting
// for the broker to acknowledge it.
//
// # Usage
//
//	ch := broker.NewChannel(broker.NewPahoDialer(), broker.Options{LogCapacity: 3})
//	defer ch.Close()
//	ch.SetOnMessage(func(e broker.Entry) { fmt.Println(broker.FormatPayload(e.Payload)) })
//
//	err := ch.Connect(connection.Config{Address: "ws://iot.example.com/", Port: "9001"})
//	// ... wait for OnConnect
//	ack, err := ch.Subscribe("home/+/status", 1)
//
// The transport is github.com/eclipse/paho.mqtt.golang, which speaks MQTT over
// ws:// and wss:// broker URLs.
package broker
