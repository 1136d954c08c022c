package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/relayboard-core/internal/infrastructure/config"
)

// mDNS service constants.
const (
	ServiceType = "_relayboard._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63

	apiBasePath = "/api/v1"
)

// ErrAlreadyAdvertising is returned by Start on a running advertiser.
var ErrAlreadyAdvertising = errors.New("discovery: already advertising")

// registerFunc matches zeroconf.Register.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface, opts ...zeroconf.ServerOption) (*zeroconf.Server, error)

// Info describes the advertised service.
type Info struct {
	Port      int
	Version   string
	DeviceTag string
}

// Advertiser publishes the API on mDNS.
// It is safe for concurrent use.
type Advertiser struct {
	cfg      config.MDNSConfig
	register registerFunc

	mu       sync.Mutex
	shutdown func()
}

// NewAdvertiser creates an advertiser. Nothing is sent until Start.
func NewAdvertiser(cfg config.MDNSConfig) *Advertiser {
	return &Advertiser{cfg: cfg, register: zeroconf.Register}
}

// Start registers the service.
//
// Parameters:
//   - info: Port and TXT values to advertise
//
// Returns:
//   - error: ErrAlreadyAdvertising, an invalid port, or the zeroconf
//     registration error
func (a *Advertiser) Start(info Info) error {
	if info.Port < 1 || info.Port > 65535 {
		return fmt.Errorf("discovery: invalid port %d", info.Port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown != nil {
		return ErrAlreadyAdvertising
	}

	server, err := a.register(
		InstanceName(a.cfg.Instance),
		ServiceType,
		Domain,
		info.Port,
		TXTRecords(info),
		interfaces(a.cfg.Interface),
	)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}

	a.shutdown = func() {
		if server != nil {
			server.Shutdown()
		}
	}
	return nil
}

// Running reports whether the service is advertised.
func (a *Advertiser) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdown != nil
}

// Stop withdraws the service. It is safe to call when not running.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown != nil {
		a.shutdown()
		a.shutdown = nil
	}
}

// InstanceName returns a valid instance label, defaulting to "relayboard".
// Long names are cut to at most MaxInstanceNameLen bytes on a rune boundary.
func InstanceName(name string) string {
	if name == "" {
		name = "relayboard"
	}
	if len(name) <= MaxInstanceNameLen {
		return name
	}
	cut := 0
	for i := range name {
		if i > MaxInstanceNameLen {
			break
		}
		cut = i
	}
	return name[:cut]
}

// TXTRecords encodes info as key=value TXT strings. Empty values are omitted.
func TXTRecords(info Info) []string {
	txt := []string{"path=" + apiBasePath}
	if info.Version != "" {
		txt = append(txt, "version="+info.Version)
	}
	if info.DeviceTag != "" {
		txt = append(txt, "device="+info.DeviceTag)
	}
	return txt
}

// interfaces resolves the configured interface. nil means all interfaces,
// which is also the fallback for an unknown name.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
