package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nearchat/models"
)

type fakeProximity struct {
	mu sync.Mutex

	discoveryErr   error
	advertiseErr   error
	handler        EndpointHandler
	serviceID      string
	advertised     string
	discoverStarts int
	discoverStops  int
	advertiseStops int
}

func (p *fakeProximity) StartDiscovery(ctx context.Context, serviceID string, handler EndpointHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoverStarts++
	if p.discoveryErr != nil {
		return p.discoveryErr
	}
	p.serviceID = serviceID
	p.handler = handler
	return nil
}

func (p *fakeProximity) StopDiscovery() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoverStops++
}

func (p *fakeProximity) StartAdvertising(ctx context.Context, token, serviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.advertiseErr != nil {
		return p.advertiseErr
	}
	p.serviceID = serviceID
	p.advertised = token
	return nil
}

func (p *fakeProximity) StopAdvertising() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertised = ""
	p.advertiseStops++
}

func (p *fakeProximity) currentHandler() EndpointHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

type fakeLookup struct {
	mu       sync.Mutex
	profiles map[string]models.UserProfile
	// gates blocks lookups for a user ID until the channel is closed.
	gates map[string]chan struct{}
	calls int
}

func newFakeLookup(profiles ...models.UserProfile) *fakeLookup {
	l := &fakeLookup{
		profiles: make(map[string]models.UserProfile),
		gates:    make(map[string]chan struct{}),
	}
	for _, profile := range profiles {
		l.profiles[profile.UserID] = profile
	}
	return l
}

func (l *fakeLookup) gate(userID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan struct{})
	l.gates[userID] = ch
	return ch
}

func (l *fakeLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *fakeLookup) LookupProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	l.mu.Lock()
	l.calls++
	gate := l.gates[userID]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	profile, ok := l.profiles[userID]
	if !ok {
		return nil, errors.New("profile not found")
	}
	return &profile, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	added   []models.DiscoveredPeer
	removed []string
}

func (o *recordingObserver) PeerAdded(peer models.DiscoveredPeer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added = append(o.added, peer)
}

func (o *recordingObserver) PeerRemoved(endpointID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, endpointID)
}

func (o *recordingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.added), len(o.removed)
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}

// settle gives the session event goroutine time to drain queued events.
func settle() {
	time.Sleep(30 * time.Millisecond)
}
