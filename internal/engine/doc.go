// Package engine owns the relay table and keeps the board, the state file
// and every connected client in step with it.
//
// All mutations go through Engine.Apply. The table lock is held only for
// the in-memory update; persistence, event fan-out, the board push and the
// optional sinks (MQTT mirror, InfluxDB, SQLite history) happen after it is
// released. Board pushes are serialised and always send the table as it is
// when the push runs, so the board converges on the latest state even when
// mutations race.
//
// Switching a relay on also starts a panel reconciliation: two panel scans
// taken ReconcileDelay apart, and if exactly one new panel appeared in
// between, its address is assigned to that relay.
package engine
