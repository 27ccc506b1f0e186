// Package topic implements MQTT topic-filter matching and subscription fan-out.
//
// Topics are slash-delimited strings. Filters may use two wildcards:
//   - + matches exactly one level: "sensor/+/temp" matches "sensor/123/temp"
//     but not "sensor/123/456/temp"
//   - # matches any number of remaining levels and must be the last level:
//     "sensor/#" matches "sensor", "sensor/123" and "sensor/123/456/temp"
//
// A filter without wildcards matches only the identical topic, which is how the
// relay channel uses it for its single device topic.
//
// # Usage
//
//	r := topic.NewRouter()
//	r.Add("home/+/status", 1, func(d topic.Delivery) {
//	    log.Printf("%s (qos %d): %s", d.Topic, d.QoS, d.Payload)
//	})
//	n := r.Route("home/kitchen/status", []byte("on")) // n == 1
//
// The router does not interpret payloads. Every matching subscription receives
// its own delivery; overlapping filters do not shadow each other.
package topic
