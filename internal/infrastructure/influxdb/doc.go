// Package influxdb stores the time-series side of speaker supervision:
// connection transitions (with reconnect attempt counts), grouping
// episode outcomes, and per-speaker telemetry such as volume.
//
// All writes are non-blocking and batched by the underlying
// influxdb-client-go v2 write API, so telemetry can never stall the
// resilience engine or a group commit. Batch failures surface through
// the SetOnError callback.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled means run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteConnectionEvent("living-room", "reconnecting", 3)
//	client.WriteSpeakerMetric("living-room", "volume", 32)
package influxdb
