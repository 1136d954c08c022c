// Package influxdb records relay switching as time-series data.
//
// Each accepted mutation becomes one point in the relay_state measurement,
// tagged by relay id and carrying the relay state and the full board
// bitmask at that instant. Writes are batched and non-blocking; failures
// surface through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteRelayState(3, true, 0b100, time.Now())
package influxdb
