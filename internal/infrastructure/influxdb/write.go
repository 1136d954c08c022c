package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementRelayState is the measurement written for relay mutations.
const MeasurementRelayState = "relay_state"

// WriteRelayState records one accepted relay mutation.
//
// Parameters:
//   - relayID: Relay id, written as the relay_id tag
//   - on: Relay state after the mutation, written as 0 or 1
//   - bitmask: Whole-table bitmask at the same instant
//   - at: Mutation time
func (c *Client) WriteRelayState(relayID int, on bool, bitmask uint16, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(relayStatePoint(relayID, on, bitmask, at))
}

func relayStatePoint(relayID int, on bool, bitmask uint16, at time.Time) *write.Point {
	state := 0
	if on {
		state = 1
	}
	return write.NewPoint(
		MeasurementRelayState,
		map[string]string{
			"relay_id": strconv.Itoa(relayID),
		},
		map[string]interface{}{
			"state":   state,
			"bitmask": int64(bitmask),
		},
		at,
	)
}
