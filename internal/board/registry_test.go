package board

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
)

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		name    string
		reg     Registration
		want    string
		wantErr error
	}{
		{name: "valid", reg: Registration{Device: "relayBoard", IP: "10.8.32.7"}, want: "10.8.32.7"},
		{name: "wrong device", reg: Registration{Device: "thermostat", IP: "10.8.32.7"}, wantErr: ErrInvalidDevice},
		{name: "empty device", reg: Registration{IP: "10.8.32.7"}, wantErr: ErrInvalidDevice},
		{name: "hostname", reg: Registration{Device: "relayBoard", IP: "board.local"}, wantErr: ErrInvalidAddress},
		{name: "ipv6", reg: Registration{Device: "relayBoard", IP: "fd00::7"}, wantErr: ErrInvalidAddress},
		{name: "truncated", reg: Registration{Device: "relayBoard", IP: "10.8.32"}, wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseRegistration(tt.reg, "relayBoard")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRegistration() error = %v", err)
			}
			if addr.String() != tt.want {
				t.Errorf("addr = %v, want %v", addr, tt.want)
			}
		})
	}
}

func TestRegistry_RegisterOnce(t *testing.T) {
	r := NewRegistry(NewTransport(Config{}))

	if _, ok := r.Current(); ok {
		t.Fatal("new registry should be unregistered")
	}

	first := netip.MustParseAddr("10.8.32.7")
	h, err := r.Register(first)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if h.Addr() != first {
		t.Errorf("handle addr = %v, want %v", h.Addr(), first)
	}

	if _, err := r.Register(netip.MustParseAddr("10.8.32.8")); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second Register() error = %v, want ErrAlreadyRegistered", err)
	}

	current, ok := r.Current()
	if !ok || current.Addr() != first {
		t.Errorf("Current() = %v, %v; want original %v", current, ok, first)
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry(NewTransport(Config{}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := netip.AddrFrom4([4]byte{10, 8, 32, byte(i)})
			if _, err := r.Register(addr); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d registrations succeeded, want exactly 1", wins)
	}
}
