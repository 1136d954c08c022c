package api

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"
)

// HealthChecker is a dependency that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// MQTTStatus is satisfied by *mqtt.Client.
type MQTTStatus interface {
	HealthChecker
	IsConnected() bool
	SubscriptionCount() int
}

// DBStats is satisfied by *database.DB.
type DBStats interface {
	HealthChecker
	Stats() sql.DBStats
}

// InfluxStatus is satisfied by *influxdb.Client.
type InfluxStatus interface {
	HealthChecker
	IsConnected() bool
	WriteErrors() uint64
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Relays        RelayMetrics     `json:"relays"`
	Events        EventMetrics     `json:"events"`
	MQTT          *MQTTMetrics     `json:"mqtt,omitempty"`
	InfluxDB      *InfluxMetrics   `json:"influxdb,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// RelayMetrics summarises the relay table.
type RelayMetrics struct {
	Total   int    `json:"total"`
	On      int    `json:"on"`
	Bitmask string `json:"bitmask"`
}

// EventMetrics counts consumers of relay changes.
type EventMetrics struct {
	BusSubscribers   int `json:"bus_subscribers"`
	WebSocketClients int `json:"websocket_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// InfluxMetrics contains InfluxDB writer statistics.
type InfluxMetrics struct {
	Connected   bool   `json:"connected"`
	WriteErrors uint64 `json:"write_errors"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns process and relay metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	table := s.engine.Table()
	on := 0
	for _, item := range table.Relays {
		if item.State {
			on++
		}
	}

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Relays: RelayMetrics{
			Total:   len(table.Relays),
			On:      on,
			Bitmask: table.Bitmask().String(),
		},
		Events: EventMetrics{
			BusSubscribers:   s.bus.SubscriberCount(),
			WebSocketClients: s.hub.ClientCount(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{
			Connected:     s.mqtt.IsConnected(),
			Subscriptions: s.mqtt.SubscriptionCount(),
		}
	}

	if s.influx != nil {
		metrics.InfluxDB = &InfluxMetrics{
			Connected:   s.influx.IsConnected(),
			WriteErrors: s.influx.WriteErrors(),
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
