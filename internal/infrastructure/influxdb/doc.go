// Package influxdb archives ingested lab telemetry to InfluxDB v2.
//
// The archive is optional: the relay server only connects when
// influxdb.enabled is set. Each device report becomes a lab_sensors point
// (temperature, humidity, light, gas) and a lab_actuators point (led,
// buzzer, fan, alert_led, servo), tagged with device_id and location.
//
// Writes go through the client's non-blocking write API and are batched
// (batch_size points or every flush_interval seconds). Write failures
// arrive asynchronously through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading(influxdb.Reading{DeviceID: "node_7", Temperature: 24.5})
package influxdb
