// Package api implements the HTTP API and WebSocket server for the relay
// board core.
//
// This package provides:
//   - The UI endpoints: GET /data (snapshot and long-poll), POST /data and
//     POST /register
//   - Operational endpoints under /api/v1 (health, relay reads, state
//     history, board sync)
//   - A WebSocket hub streaming relay changes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - The static UI at every other path
//
// # Long-poll
//
// GET /data without initial_event subscribes to the event bus and waits up
// to the configured long-poll timeout. It answers 200 with the next
// ChangeEvent, 204 when nothing changed, 205 when the subscriber fell behind
// (the client should reload the table) and 500 when the bus is closed. A
// server shutdown ends waiting polls with 204.
//
// # Graceful Degradation
//
// The server runs without a registered board. Mutations are accepted and
// persisted; POST /api/v1/board/sync answers 503 until a board registers.
package api
