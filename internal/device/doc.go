// Package device is the relay server's registry of lab nodes and their
// stored telemetry.
//
// # Architecture
//
//	┌──────────────────┐    ┌──────────────────┐
//	│     Registry     │───▶│    Repository    │───▶ SQLite
//	│  (registry.go)   │    │  (repository.go) │     iot_devices
//	│ • id caches      │    │ • devices        │     sensor_data
//	│ • auto-register  │    │ • sensor frames  │     commands
//	└──────────────────┘    │ • command audit  │
//	                        └──────────────────┘
//
// # Key Types
//
//   - Device: a node, with a registry id (used on the relay stream) and a
//     hardware id such as "node_7" (used on MQTT topics)
//   - Frame: one stored report; SensorFrame renders it for relay clients
//   - Command: an audited actuator command and its acknowledgement
//   - Page: a 0-based page of a paginated query
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//
//	d, created, err := registry.EnsureDevice(ctx, device.Device{DeviceID: "node_7"})
//	err = registry.RecordFrame(ctx, &device.Frame{DeviceID: d.ID, Temperature: 24.5})
//	latest, err := registry.LatestFrame(ctx, d.ID)
package device
