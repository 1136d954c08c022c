// Package events fans relay change events out to long-poll and WebSocket
// clients.
//
// Every subscriber gets its own bounded backlog. A slow subscriber never
// blocks the publisher or other subscribers: once its backlog is full it is
// marked as lagged, its next receive reports ErrLagged, and it resumes with
// events published after that point.
package events
