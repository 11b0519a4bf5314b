package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultRefreshInterval is the background browse interval.
	DefaultRefreshInterval = 5 * time.Second
	// DefaultScanTimeout bounds each browse window.
	DefaultScanTimeout = 2 * time.Second
	// DefaultPort is published with the service record; nothing listens on it.
	DefaultPort = 47474

	tokenTXTKey     = "token"
	versionTXTKey   = "version"
	nameTXTKey      = "name"
	shareableTXTKey = "sid"

	// A TXT string is length-prefixed by one byte.
	maxTXTValueLen = 200
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls the mDNS advertiser and scanner.
type Config struct {
	Domain          string
	Version         int
	Port            int
	RefreshInterval time.Duration
	ScanTimeout     time.Duration
	// PeerStaleAfter is how long an instance may go unseen before it is lost.
	PeerStaleAfter time.Duration
	// DisplayName and ShareableID are published next to the token so that
	// browsing peers can resolve the advertiser without a shared directory.
	DisplayName string
	ShareableID string
	// Profiles, when set, records the profile carried by each browsed record
	// before the endpoint is reported as found.
	Profiles ProfileRecorder
	Logger   *zap.Logger

	registerFn registerFunc
	browseFn   browseFunc
	endpointFn func() string
}

func (c Config) withDefaults() Config {
	out := c
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.Port <= 0 {
		out.Port = DefaultPort
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.PeerStaleAfter <= 0 {
		out.PeerStaleAfter = 3 * out.RefreshInterval
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	if out.endpointFn == nil {
		out.endpointFn = newEndpointID
	}
	return out
}

// Broadcaster advertises a token under a service via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers the service instance for token.
func StartBroadcaster(config Config, token, serviceID string) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("advertise token is required")
	}
	if strings.TrimSpace(serviceID) == "" {
		return nil, errors.New("service ID is required")
	}

	txt := []string{
		tokenTXTKey + "=" + token,
		versionTXTKey + "=" + strconv.Itoa(cfg.Version),
	}
	if name := truncateTXTValue(strings.TrimSpace(cfg.DisplayName)); name != "" {
		txt = append(txt, nameTXTKey+"="+name)
	}
	if sid := truncateTXTValue(strings.TrimSpace(cfg.ShareableID)); sid != "" {
		txt = append(txt, shareableTXTKey+"="+sid)
	}

	// The token is unique per user, which keeps instance names unique on the link.
	server, err := cfg.registerFn(token, serviceID, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

func truncateTXTValue(value string) string {
	if len(value) <= maxTXTValueLen {
		return value
	}
	cut := maxTXTValueLen
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

// MDNS implements Proximity over multicast DNS service discovery.
type MDNS struct {
	cfg Config

	mu            sync.Mutex
	broadcaster   *Broadcaster
	advertiseStop chan struct{}
	scanner       *PeerScanner
}

// NewMDNS returns an idle mDNS proximity backend.
func NewMDNS(config Config) *MDNS {
	return &MDNS{cfg: config.withDefaults()}
}

// StartAdvertising publishes token under serviceID until StopAdvertising is
// called or ctx is cancelled.
func (m *MDNS) StartAdvertising(ctx context.Context, token, serviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broadcaster != nil {
		return ErrAlreadyAdvertising
	}

	broadcaster, err := StartBroadcaster(m.cfg, token, serviceID)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	m.broadcaster = broadcaster
	m.advertiseStop = stop
	go m.withdrawOnCancel(ctx, broadcaster, stop)

	m.cfg.Logger.Debug("mDNS service registered", zap.String("service", serviceID))
	return nil
}

func (m *MDNS) withdrawOnCancel(ctx context.Context, broadcaster *Broadcaster, stop chan struct{}) {
	select {
	case <-stop:
		return
	case <-ctx.Done():
	}

	m.mu.Lock()
	if m.broadcaster != broadcaster {
		m.mu.Unlock()
		return
	}
	m.broadcaster = nil
	m.advertiseStop = nil
	m.mu.Unlock()

	broadcaster.Stop()
	m.cfg.Logger.Debug("mDNS service withdrawn", zap.Error(ctx.Err()))
}

// StopAdvertising withdraws the published record. Idempotent.
func (m *MDNS) StopAdvertising() {
	m.mu.Lock()
	broadcaster := m.broadcaster
	stop := m.advertiseStop
	m.broadcaster = nil
	m.advertiseStop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	broadcaster.Stop()
}

// Advertising reports whether a record is currently published.
func (m *MDNS) Advertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcaster != nil
}

// StartDiscovery browses serviceID and reports endpoints to handler.
func (m *MDNS) StartDiscovery(ctx context.Context, serviceID string, handler EndpointHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanner != nil {
		return ErrAlreadyDiscovering
	}

	scanner, err := NewPeerScanner(m.cfg, serviceID, handler)
	if err != nil {
		return err
	}
	if err := scanner.Start(); err != nil {
		return err
	}
	m.scanner = scanner
	return nil
}

// StopDiscovery stops browsing. Idempotent.
func (m *MDNS) StopDiscovery() {
	m.mu.Lock()
	scanner := m.scanner
	m.scanner = nil
	m.mu.Unlock()

	if scanner != nil {
		scanner.Stop()
	}
}

// Refresh runs an immediate browse and returns once its results have been
// delivered.
func (m *MDNS) Refresh(ctx context.Context) error {
	m.mu.Lock()
	scanner := m.scanner
	m.mu.Unlock()

	if scanner == nil {
		return ErrNotDiscovering
	}
	return scanner.Refresh(ctx)
}
