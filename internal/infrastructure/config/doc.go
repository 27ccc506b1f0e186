// Package config loads labdash settings from YAML with LABDASH_* environment
// overrides applied on top, then validates the result as a whole.
//
// One file drives both binaries. labdash reads the database, mqtt, api,
// websocket, influxdb, logging and security sections; labctl reads dashboard
// and logging. Missing keys keep their built-in defaults, so an empty file
// is valid.
//
// Credentials (mqtt.auth.password, influxdb.token, security.jwt.secret,
// dashboard.broker.password) belong in the environment rather than the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if errors.Is(err, os.ErrNotExist) {
//	    cfg, err = config.Default()
//	}
package config
