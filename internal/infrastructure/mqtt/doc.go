// Package mqtt is the relay server's upstream connection to the lab broker.
//
// Lab nodes publish reports to iot/data and acknowledge commands on
// iot/command-response/<deviceId>; the relay sends actuator commands to
// iot/command/<deviceId> at QoS 2. Topic names come from the mqtt.topics
// config section through Topics.
//
// The client connects over plain TCP or TLS (ssl://), uses clean sessions
// and re-issues every tracked subscription after paho reconnects. A retained
// status message on labdash/relay/status flips to offline through the Last
// Will if the process dies.
//
// This package is distinct from internal/broker, which is the operator's
// direct MQTT-over-WebSocket channel.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetLogger(logger)
//	err = client.Subscribe(client.Topics().Data(), 1, handleReport)
package mqtt
