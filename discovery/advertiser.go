package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AdvertiserState is the lifecycle state of the background advertiser.
type AdvertiserState int

const (
	StateCreated AdvertiserState = iota
	StateStarting
	StateAdvertising
	StateTerminated
)

func (s AdvertiserState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateAdvertising:
		return "advertising"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TerminationReason explains why an advertiser reached StateTerminated.
type TerminationReason string

const (
	ReasonNone            TerminationReason = ""
	ReasonNoIdentity      TerminationReason = "no-identity"
	ReasonAdvertiseFailed TerminationReason = "advertise-failed"
	ReasonStopped         TerminationReason = "stopped"
)

// AdvertiserOptions configures a background advertiser.
type AdvertiserOptions struct {
	Proximity Proximity
	// Identity returns the durable user ID; empty means signed out.
	Identity  func() string
	ServiceID string
	Logger    *zap.Logger
}

// Advertiser keeps the local durable identity discoverable. It runs under
// its own context, independent of whichever view started it, until Stop is
// called or advertising fails. An advertiser is single-use; restarting means
// constructing a new one.
type Advertiser struct {
	proximity Proximity
	identity  func() string
	serviceID string
	logger    *zap.Logger

	mu     sync.Mutex
	state  AdvertiserState
	reason TerminationReason
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdvertiser returns an advertiser in StateCreated.
func NewAdvertiser(options AdvertiserOptions) (*Advertiser, error) {
	if options.Proximity == nil {
		return nil, fmt.Errorf("proximity backend is required")
	}
	if strings.TrimSpace(options.ServiceID) == "" {
		return nil, fmt.Errorf("service ID is required")
	}
	identity := options.Identity
	if identity == nil {
		identity = func() string { return "" }
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Advertiser{
		proximity: options.Proximity,
		identity:  identity,
		serviceID: options.ServiceID,
		logger:    logger,
		state:     StateCreated,
		done:      make(chan struct{}),
	}, nil
}

// Start advertises the current identity. Missing identity or an advertise
// failure terminates the advertiser; there is no retry.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	if a.state != StateCreated {
		a.mu.Unlock()
		return ErrAdvertiserUsed
	}
	a.state = StateStarting
	a.mu.Unlock()

	identity := strings.TrimSpace(a.identity())
	if identity == "" {
		a.logger.Warn("cannot advertise: no durable identity")
		a.terminate(ReasonNoIdentity, ErrNoIdentity)
		return ErrNoIdentity
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.proximity.StartAdvertising(ctx, identity, a.serviceID); err != nil {
		cancel()
		wrapped := fmt.Errorf("start advertising: %w", err)
		a.logger.Error("advertising failed", zap.String("service", a.serviceID), zap.Error(err))
		a.terminate(ReasonAdvertiseFailed, wrapped)
		return wrapped
	}

	a.mu.Lock()
	if a.state == StateTerminated {
		// Stop won the race while the backend was starting.
		a.mu.Unlock()
		cancel()
		a.proximity.StopAdvertising()
		return nil
	}
	a.state = StateAdvertising
	a.cancel = cancel
	a.mu.Unlock()

	a.logger.Info("advertising started", zap.String("service", a.serviceID), zap.String("user", identity))
	return nil
}

// Stop terminates advertising. Idempotent.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	switch a.state {
	case StateTerminated:
		a.mu.Unlock()
		return
	case StateAdvertising:
		cancel := a.cancel
		a.setTerminatedLocked(ReasonStopped, nil)
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		a.proximity.StopAdvertising()
		a.logger.Info("advertising stopped", zap.String("service", a.serviceID))
		return
	default:
		a.setTerminatedLocked(ReasonStopped, nil)
		a.mu.Unlock()
	}
}

// State returns the current lifecycle state.
func (a *Advertiser) State() AdvertiserState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reason returns why the advertiser terminated, or ReasonNone.
func (a *Advertiser) Reason() TerminationReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason
}

// Err returns the failure that terminated the advertiser, if any.
func (a *Advertiser) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Done is closed once the advertiser terminates for any reason.
func (a *Advertiser) Done() <-chan struct{} {
	return a.done
}

func (a *Advertiser) terminate(reason TerminationReason, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateTerminated {
		return
	}
	a.setTerminatedLocked(reason, err)
}

func (a *Advertiser) setTerminatedLocked(reason TerminationReason, err error) {
	a.state = StateTerminated
	a.reason = reason
	a.err = err
	close(a.done)
}
