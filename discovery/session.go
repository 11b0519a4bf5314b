package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"nearchat/models"
)

const sessionEventBuffer = 64

// SessionOptions wires a discovery session to its collaborators.
type SessionOptions struct {
	Proximity   Proximity
	Lookup      ProfileLookup
	Permissions Permissions
	SelfID      string
	ServiceID   string
	Cache       *EndpointCache
	Observer    Observer
	Logger      *zap.Logger
}

type sessionEventKind int

const (
	eventFound sessionEventKind = iota
	eventLost
	eventResolved
)

type sessionEvent struct {
	kind       sessionEventKind
	endpointID string
	token      string
	lookupSeq  uint64
	profile    *models.UserProfile
	err        error
}

// sessionRun is the state of one Start..Stop cycle. Callbacks hold the run
// they were issued for, so events from a stopped run are dropped.
type sessionRun struct {
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	events     chan sessionEvent
	done       chan struct{}

	// owned by the event goroutine
	pending   map[string]uint64
	lookupSeq uint64
}

func (r *sessionRun) post(event sessionEvent) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}
	select {
	case r.events <- event:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// Session bridges proximity endpoint callbacks to resolved user identities.
//
// All cache mutations and observer notifications happen on a single event
// goroutine per run, in callback arrival order.
type Session struct {
	proximity   Proximity
	lookup      ProfileLookup
	permissions Permissions
	selfID      string
	serviceID   string
	cache       *EndpointCache
	observer    Observer
	logger      *zap.Logger

	mu         sync.Mutex
	run        *sessionRun
	generation uint64
}

// NewSession validates options and returns an idle session.
func NewSession(options SessionOptions) (*Session, error) {
	if options.Proximity == nil {
		return nil, fmt.Errorf("proximity backend is required")
	}
	if options.Lookup == nil {
		return nil, fmt.Errorf("profile lookup is required")
	}
	if strings.TrimSpace(options.ServiceID) == "" {
		return nil, fmt.Errorf("service ID is required")
	}

	s := &Session{
		proximity:   options.Proximity,
		lookup:      options.Lookup,
		permissions: options.Permissions,
		selfID:      strings.TrimSpace(options.SelfID),
		serviceID:   options.ServiceID,
		cache:       options.Cache,
		observer:    options.Observer,
		logger:      options.Logger,
	}
	if s.permissions == nil {
		s.permissions = AlwaysGranted
	}
	if s.cache == nil {
		s.cache = NewEndpointCache()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Cache exposes the session's endpoint cache for read snapshots.
func (s *Session) Cache() *EndpointCache {
	return s.cache
}

// Active reports whether a discovery run is in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Start begins discovery under the session's service ID. A failure is
// returned to the caller and never retried.
func (s *Session) Start(ctx context.Context) error {
	if !s.permissions.HasDiscoveryPermissions() {
		s.logger.Warn("discovery not started: permissions missing")
		return ErrPermissionDenied
	}

	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.generation++
	runCtx, cancel := context.WithCancel(context.Background())
	run := &sessionRun{
		generation: s.generation,
		ctx:        runCtx,
		cancel:     cancel,
		events:     make(chan sessionEvent, sessionEventBuffer),
		done:       make(chan struct{}),
		pending:    make(map[string]uint64),
	}
	s.run = run
	s.mu.Unlock()

	go s.loop(run)

	if err := s.proximity.StartDiscovery(ctx, s.serviceID, &runHandler{run: run}); err != nil {
		s.logger.Error("discovery start failed", zap.String("service", s.serviceID), zap.Error(err))
		s.teardown(run, false)
		return fmt.Errorf("start discovery: %w", err)
	}

	s.logger.Info("discovery started", zap.String("service", s.serviceID), zap.Uint64("generation", run.generation))
	return nil
}

// Stop ends the current run, drops in-flight lookups and clears the cache.
// Safe to call when no session is active.
func (s *Session) Stop() {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	if run == nil {
		return
	}
	s.teardown(run, true)
}

func (s *Session) teardown(run *sessionRun, stopProximity bool) {
	s.mu.Lock()
	if s.run != run {
		s.mu.Unlock()
		return
	}
	s.run = nil
	s.mu.Unlock()

	run.cancel()
	<-run.done
	if stopProximity {
		s.proximity.StopDiscovery()
	}

	for _, peer := range s.cache.Clear() {
		if s.observer != nil {
			s.observer.PeerRemoved(peer.EndpointID)
		}
	}
	s.logger.Info("discovery stopped", zap.Uint64("generation", run.generation))
}

// OnEndpointFound feeds a found-event into the active run, if any.
func (s *Session) OnEndpointFound(endpointID, token string) {
	if run := s.currentRun(); run != nil {
		run.post(sessionEvent{kind: eventFound, endpointID: endpointID, token: token})
	}
}

// OnEndpointLost feeds a lost-event into the active run, if any.
func (s *Session) OnEndpointLost(endpointID string) {
	if run := s.currentRun(); run != nil {
		run.post(sessionEvent{kind: eventLost, endpointID: endpointID})
	}
}

func (s *Session) currentRun() *sessionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

func (s *Session) loop(run *sessionRun) {
	defer close(run.done)

	for {
		select {
		case <-run.ctx.Done():
			return
		case event := <-run.events:
			switch event.kind {
			case eventFound:
				s.handleFound(run, event)
			case eventLost:
				s.handleLost(run, event)
			case eventResolved:
				s.handleResolved(run, event)
			}
		}
	}
}

func (s *Session) handleFound(run *sessionRun, event sessionEvent) {
	token := strings.TrimSpace(event.token)
	logger := s.logger.With(zap.String("endpoint", event.endpointID))

	switch {
	case event.endpointID == "" || token == "":
		logger.Debug("ignoring found-event without endpoint or token")
		return
	case token == s.selfID:
		logger.Debug("ignoring self discovery")
		return
	}
	if _, exists := s.cache.Get(event.endpointID); exists {
		logger.Debug("endpoint already resolved")
		return
	}
	if _, inFlight := run.pending[event.endpointID]; inFlight {
		logger.Debug("lookup already in flight for endpoint")
		return
	}

	run.lookupSeq++
	seq := run.lookupSeq
	run.pending[event.endpointID] = seq

	go func() {
		profile, err := s.lookup.LookupProfile(run.ctx, token)
		run.post(sessionEvent{
			kind:       eventResolved,
			endpointID: event.endpointID,
			token:      token,
			lookupSeq:  seq,
			profile:    profile,
			err:        err,
		})
	}()
}

func (s *Session) handleLost(run *sessionRun, event sessionEvent) {
	delete(run.pending, event.endpointID)

	if _, removed := s.cache.Remove(event.endpointID); removed {
		s.logger.Debug("endpoint lost", zap.String("endpoint", event.endpointID))
		if s.observer != nil {
			s.observer.PeerRemoved(event.endpointID)
		}
	}
}

func (s *Session) handleResolved(run *sessionRun, event sessionEvent) {
	seq, ok := run.pending[event.endpointID]
	if !ok || seq != event.lookupSeq {
		// lost or superseded while the lookup was running
		return
	}
	delete(run.pending, event.endpointID)

	if event.err != nil || event.profile == nil {
		s.logger.Debug("dropping endpoint after failed lookup",
			zap.String("endpoint", event.endpointID),
			zap.String("user", event.token),
			zap.Error(event.err),
		)
		return
	}

	peer := models.DiscoveredPeer{
		EndpointID:  event.endpointID,
		UserID:      event.profile.UserID,
		DisplayName: event.profile.DisplayName,
		ShareableID: event.profile.ShareableID,
	}
	if peer.UserID == "" {
		peer.UserID = event.token
	}
	if !s.cache.Insert(peer) {
		return
	}

	s.logger.Info("peer discovered",
		zap.String("endpoint", peer.EndpointID),
		zap.String("user", peer.UserID),
		zap.String("name", peer.DisplayName),
	)
	if s.observer != nil {
		s.observer.PeerAdded(peer)
	}
}

// runHandler binds proximity callbacks to the run that registered them.
type runHandler struct {
	run *sessionRun
}

func (h *runHandler) OnEndpointFound(endpointID, token string) {
	h.run.post(sessionEvent{kind: eventFound, endpointID: endpointID, token: token})
}

func (h *runHandler) OnEndpointLost(endpointID string) {
	h.run.post(sessionEvent{kind: eventLost, endpointID: endpointID})
}
