package discovery

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"nearchat/models"
)

// Endpoint is one browsed service instance with its transient endpoint ID.
type Endpoint struct {
	EndpointID string
	Instance   string
	Token      string
	// DisplayName and ShareableID come from the record's TXT data and may be
	// empty for peers that do not publish them.
	DisplayName string
	ShareableID string
	LastSeen    time.Time
}

// advertisement is what one browse saw for an instance.
type advertisement struct {
	token       string
	displayName string
	shareableID string
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

type endpointChange struct {
	found    bool
	endpoint Endpoint
}

// PeerScanner browses a service periodically and on demand, and turns
// instances appearing and going stale into found/lost callbacks.
//
// Each newly seen instance gets a fresh endpoint ID, so a peer that is lost
// and seen again comes back under a different ID.
type PeerScanner struct {
	cfg       Config
	serviceID string
	handler   EndpointHandler

	browse browseFunc
	now    func() time.Time

	mu        sync.RWMutex
	endpoints map[string]Endpoint // keyed by instance name

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewPeerScanner creates a scanner with config defaults applied.
func NewPeerScanner(config Config, serviceID string, handler EndpointHandler) (*PeerScanner, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(serviceID) == "" {
		return nil, errors.New("service ID is required")
	}
	if handler == nil {
		return nil, errors.New("endpoint handler is required")
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &PeerScanner{
		cfg:             cfg,
		serviceID:       serviceID,
		handler:         handler,
		browse:          browse,
		now:             time.Now,
		endpoints:       make(map[string]Endpoint),
		refreshRequests: make(chan refreshRequest),
	}, nil
}

// Start begins background scanning.
func (s *PeerScanner) Start() error {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
	return nil
}

// Stop stops background scanning and waits for the scan loop to exit.
// No callbacks are delivered after Stop returns.
func (s *PeerScanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Refresh triggers an immediate scan.
func (s *PeerScanner) Refresh(ctx context.Context) error {
	if s.ctx == nil {
		return errors.New("peer scanner is not started")
	}

	req := refreshRequest{
		ctx:  ctx,
		done: make(chan error, 1),
	}

	select {
	case s.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("peer scanner is stopped")
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("peer scanner is stopped")
	}
}

// ListEndpoints returns the currently tracked endpoints sorted by instance.
func (s *PeerScanner) ListEndpoints() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Endpoint, 0, len(s.endpoints))
	for _, endpoint := range s.endpoints {
		out = append(out, endpoint)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance < out[j].Instance
	})
	return out
}

func (s *PeerScanner) loop() {
	defer s.wg.Done()

	// Prime the endpoint list immediately.
	s.runScan(context.Background())

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScan(context.Background())
		case req := <-s.refreshRequests:
			req.done <- s.runScan(req.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *PeerScanner) runScan(requestCtx context.Context) error {
	scanCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()

	if requestCtx != nil {
		go func() {
			select {
			case <-requestCtx.Done():
				cancel()
			case <-scanCtx.Done():
			}
		}()
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	seen := make(map[string]advertisement)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		in := entries
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				instance, ad, ok := parseEntry(entry)
				if !ok {
					continue
				}
				seen[instance] = ad
			}
		}
	}()

	if err := s.browse(scanCtx, s.serviceID, s.cfg.Domain, entries); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		cancel()
		<-collectorDone
		s.cfg.Logger.Warn("mDNS browse failed", zap.String("service", s.serviceID), zap.Error(err))
		return err
	}

	<-scanCtx.Done()
	<-collectorDone

	// A stopped scanner delivers nothing further.
	if s.ctx.Err() != nil {
		return nil
	}
	s.applyScan(seen)
	return nil
}

func (s *PeerScanner) applyScan(seen map[string]advertisement) {
	now := s.now()
	changes := make([]endpointChange, 0)
	var renamed []Endpoint

	s.mu.Lock()
	for instance, ad := range seen {
		current, exists := s.endpoints[instance]
		if exists && current.Token == ad.token {
			if current.DisplayName != ad.displayName || current.ShareableID != ad.shareableID {
				current.DisplayName = ad.displayName
				current.ShareableID = ad.shareableID
				renamed = append(renamed, current)
			}
			current.LastSeen = now
			s.endpoints[instance] = current
			continue
		}
		if exists {
			changes = append(changes, endpointChange{found: false, endpoint: current})
		}
		next := Endpoint{
			EndpointID:  s.cfg.endpointFn(),
			Instance:    instance,
			Token:       ad.token,
			DisplayName: ad.displayName,
			ShareableID: ad.shareableID,
			LastSeen:    now,
		}
		s.endpoints[instance] = next
		changes = append(changes, endpointChange{found: true, endpoint: next})
	}
	for instance, endpoint := range s.endpoints {
		if _, ok := seen[instance]; ok {
			continue
		}
		if now.Sub(endpoint.LastSeen) >= s.cfg.PeerStaleAfter {
			delete(s.endpoints, instance)
			changes = append(changes, endpointChange{found: false, endpoint: endpoint})
		}
	}
	s.mu.Unlock()

	for _, endpoint := range renamed {
		s.recordProfile(endpoint)
	}

	// Lost before found keeps a replaced instance from briefly showing twice.
	sort.SliceStable(changes, func(i, j int) bool {
		return !changes[i].found && changes[j].found
	})
	for _, change := range changes {
		if change.found {
			// Recorded first so the found callback's lookup can see it.
			s.recordProfile(change.endpoint)
			s.handler.OnEndpointFound(change.endpoint.EndpointID, change.endpoint.Token)
		} else {
			s.handler.OnEndpointLost(change.endpoint.EndpointID)
		}
	}
}

func (s *PeerScanner) recordProfile(endpoint Endpoint) {
	if s.cfg.Profiles == nil || endpoint.DisplayName == "" || endpoint.ShareableID == "" {
		return
	}
	profile := models.UserProfile{
		UserID:      endpoint.Token,
		DisplayName: endpoint.DisplayName,
		ShareableID: endpoint.ShareableID,
	}
	if err := s.cfg.Profiles.UpsertProfile(s.ctx, profile); err != nil {
		s.cfg.Logger.Warn("recording advertised profile failed",
			zap.String("user", endpoint.Token),
			zap.Error(err),
		)
	}
}

func parseEntry(entry *zeroconf.ServiceEntry) (string, advertisement, bool) {
	if entry == nil {
		return "", advertisement{}, false
	}
	txt := txtToMap(entry.Text)

	ad := advertisement{
		token:       strings.TrimSpace(txt[tokenTXTKey]),
		displayName: txt[nameTXTKey],
		shareableID: txt[shareableTXTKey],
	}
	if ad.token == "" {
		return "", advertisement{}, false
	}
	instance := strings.TrimSpace(entry.Instance)
	if instance == "" {
		instance = strings.TrimSpace(entry.HostName)
	}
	if instance == "" {
		instance = ad.token
	}
	return instance, ad, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}

func newEndpointID() string {
	id := uuid.New()
	return strings.ToUpper(id.String()[:8])
}
