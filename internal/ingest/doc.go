// Package ingest turns lab node traffic on the upstream broker into stored
// frames and relay broadcasts.
//
// Nodes publish a compact report to iot/data:
//
//	{"id":"node_7","name":"Bench 7","w":"lab-ap","i":"10.0.0.7",
//	 "b":"broker.lab","t":"iot/data",
//	 "ss":{"temp":24.5,"hum":61,"lgt":340,"gas":12},
//	 "stt":{"led":1,"fan":0,"alt":0,"bzr":0,"sv":0}}
//
// For every report whose id starts with "node_" the Service registers the
// node if it is new, stores the frame with its raw payload, broadcasts it on
// sensorData/<registry id> and, when an archive is configured, queues it for
// InfluxDB. Acknowledgements on iot/command-response/<deviceId> are
// broadcast on command-response/<registry id> and close the newest
// outstanding command in the audit trail.
//
// Malformed payloads are logged and dropped. A bad report never stops
// ingestion.
package ingest
