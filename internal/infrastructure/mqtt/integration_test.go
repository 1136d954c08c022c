//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_RetainedRelayState(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "relayboard-int-retained"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.RelayState(9)
	if err := client.PublishRetained(topic, []byte(`{"id":9,"state":true}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	received := make(chan []byte, 1)
	err = client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"id":9,"state":true}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained state not delivered")
	}
}
