package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeComponent struct {
	err error
}

func (f fakeComponent) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.err
}

type fakeMQTT struct {
	fakeComponent
	subscriptions int
}

func (f fakeMQTT) IsConnected() bool      { return f.err == nil }
func (f fakeMQTT) SubscriptionCount() int { return f.subscriptions }

type fakeDB struct {
	fakeComponent
}

func (fakeDB) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 1, Idle: 1} }

type fakeInflux struct {
	fakeComponent
	writeErrors uint64
}

func (f fakeInflux) IsConnected() bool   { return f.err == nil }
func (f fakeInflux) WriteErrors() uint64 { return f.writeErrors }

func TestHealth_Components(t *testing.T) {
	tests := []struct {
		name       string
		opts       testOptions
		wantCode   int
		wantStatus string
		want       map[string]string
	}{
		{
			name:       "none configured",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			want:       map[string]string{},
		},
		{
			name: "all healthy",
			opts: testOptions{
				mqtt:   fakeMQTT{},
				db:     fakeDB{},
				influx: fakeInflux{},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			want:       map[string]string{"database": "ok", "mqtt": "ok", "influxdb": "ok"},
		},
		{
			name: "broker down",
			opts: testOptions{
				mqtt: fakeMQTT{fakeComponent: fakeComponent{err: errors.New("mqtt: not connected")}},
				db:   fakeDB{},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			want:       map[string]string{"database": "ok", "mqtt": "mqtt: not connected"},
		},
		{
			name: "influx unreachable",
			opts: testOptions{
				influx: fakeInflux{fakeComponent: fakeComponent{err: errors.New("influxdb: ping failed")}},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			want:       map[string]string{"influxdb": "influxdb: ping failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, tt.opts)

			w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
			if w.Code != tt.wantCode {
				t.Fatalf("health status = %d, want %d", w.Code, tt.wantCode)
			}

			resp := decode[struct {
				Status     string            `json:"status"`
				Components map[string]string `json:"components"`
			}](t, w.Body.Bytes())
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Components) != len(tt.want) {
				t.Errorf("components = %v, want %v", resp.Components, tt.want)
			}
			for name, want := range tt.want {
				if got := resp.Components[name]; got != want {
					t.Errorf("components[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestMetrics_Components(t *testing.T) {
	env := testServer(t, testOptions{
		mqtt:   fakeMQTT{subscriptions: 2},
		db:     fakeDB{},
		influx: fakeInflux{writeErrors: 7},
	})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	m := decode[SystemMetrics](t, w.Body.Bytes())
	if m.MQTT == nil || !m.MQTT.Connected || m.MQTT.Subscriptions != 2 {
		t.Errorf("mqtt = %+v, want connected with 2 subscriptions", m.MQTT)
	}
	if m.InfluxDB == nil || !m.InfluxDB.Connected || m.InfluxDB.WriteErrors != 7 {
		t.Errorf("influxdb = %+v, want connected with 7 write errors", m.InfluxDB)
	}
	if m.Database == nil || m.Database.OpenConnections != 1 {
		t.Errorf("database = %+v, want one open connection", m.Database)
	}
}
