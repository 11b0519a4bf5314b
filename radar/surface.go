package radar

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"nearchat/models"
)

const (
	// DefaultTickInterval is the sweep animation period.
	DefaultTickInterval = 20 * time.Millisecond
	// SweepStep is how far the sweep advances per tick, in degrees.
	SweepStep = 2.0
	// VisibleMargin scales half the short side down to the placement radius.
	VisibleMargin = 0.8
	// HitRadius is the largest tap distance that still selects a peer.
	HitRadius = 60.0

	minRadiusFraction = 0.3
	maxRadiusFraction = 0.9
	// ringInset keeps the outer ring off the view edge.
	ringInset = 20.0
)

// ClickListener is notified when a tap lands on a peer.
type ClickListener interface {
	PeerClicked(peer models.DiscoveredPeer)
}

// ClickListenerFunc adapts a function to ClickListener.
type ClickListenerFunc func(peer models.DiscoveredPeer)

// PeerClicked calls f.
func (f ClickListenerFunc) PeerClicked(peer models.DiscoveredPeer) {
	f(peer)
}

// Options configures a Surface.
type Options struct {
	Width  float64
	Height float64
	// Rand drives peer placement. Nil seeds a new source.
	Rand         *rand.Rand
	TickInterval time.Duration
	Listener     ClickListener
	Logger       *zap.Logger
}

// Frame is one immutable view of the surface.
type Frame struct {
	Width     float64
	Height    float64
	Center    models.RadarPosition
	Sweep     float64
	MaxRadius float64
	// RingRadius is the outermost drawn ring.
	RingRadius float64
	Peers      []models.PlacedPeer
}

// Rings returns the radii of the four concentric rings.
func (f Frame) Rings() [4]float64 {
	return [4]float64{
		f.RingRadius * 0.25,
		f.RingRadius * 0.5,
		f.RingRadius * 0.75,
		f.RingRadius,
	}
}

// Surface keeps peers at stable pseudo-random positions around a center and
// animates a rotating sweep. It implements discovery.Observer.
type Surface struct {
	logger       *zap.Logger
	tickInterval time.Duration

	mu       sync.Mutex
	width    float64
	height   float64
	rng      *rand.Rand
	sweep    float64
	order    []string
	placed   map[string]models.PlacedPeer
	listener ClickListener

	tickerStop chan struct{}
	tickerDone chan struct{}
}

// NewSurface returns a detached surface.
func NewSurface(options Options) *Surface {
	rng := options.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	interval := options.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Surface{
		logger:       logger,
		tickInterval: interval,
		width:        options.Width,
		height:       options.Height,
		rng:          rng,
		placed:       make(map[string]models.PlacedPeer),
		listener:     options.Listener,
	}
}

// SetSize updates the view bounds. Positions already assigned are kept.
func (s *Surface) SetSize(width, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.height = height
}

// SetClickListener replaces the tap listener.
func (s *Surface) SetClickListener(listener ClickListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// MaxRadius is the placement radius for the current size.
func (s *Surface) MaxRadius() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRadiusLocked()
}

func (s *Surface) maxRadiusLocked() float64 {
	return math.Min(s.width, s.height) / 2 * VisibleMargin
}

func (s *Surface) centerLocked() models.RadarPosition {
	return models.RadarPosition{X: s.width / 2, Y: s.height / 2}
}

// AddPeer places a newly seen peer. A peer already on the surface keeps
// its position.
func (s *Surface) AddPeer(peer models.DiscoveredPeer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.placed[peer.EndpointID]; exists {
		return
	}

	maxRadius := s.maxRadiusLocked()
	angle := s.rng.Float64() * 360
	radius := maxRadius * (minRadiusFraction + s.rng.Float64()*(maxRadiusFraction-minRadiusFraction))
	theta := angle * math.Pi / 180
	center := s.centerLocked()

	s.placed[peer.EndpointID] = models.PlacedPeer{
		Peer: peer,
		Position: models.RadarPosition{
			X: center.X + radius*math.Cos(theta),
			Y: center.Y + radius*math.Sin(theta),
		},
	}
	s.order = append(s.order, peer.EndpointID)

	s.logger.Debug("peer placed",
		zap.String("endpoint", peer.EndpointID),
		zap.Float64("angle", angle),
		zap.Float64("radius", radius),
	)
}

// RemovePeer drops a peer. Re-adding it later draws a fresh position.
func (s *Surface) RemovePeer(endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.placed[endpointID]; !exists {
		return
	}
	delete(s.placed, endpointID)
	for i, id := range s.order {
		if id == endpointID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// PeerAdded implements discovery.Observer.
func (s *Surface) PeerAdded(peer models.DiscoveredPeer) {
	s.AddPeer(peer)
}

// PeerRemoved implements discovery.Observer.
func (s *Surface) PeerRemoved(endpointID string) {
	s.RemovePeer(endpointID)
}

// Len returns the number of placed peers.
func (s *Surface) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Frame snapshots the surface for drawing.
func (s *Surface) Frame() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]models.PlacedPeer, 0, len(s.order))
	for _, id := range s.order {
		peers = append(peers, s.placed[id])
	}
	ring := math.Min(s.width, s.height)/2 - ringInset
	if ring < 0 {
		ring = 0
	}
	return Frame{
		Width:      s.width,
		Height:     s.height,
		Center:     s.centerLocked(),
		Sweep:      s.sweep,
		MaxRadius:  s.maxRadiusLocked(),
		RingRadius: ring,
		Peers:      peers,
	}
}

// HitTest returns the peer nearest to (x, y) if it is strictly within
// HitRadius. Equal distances go to the peer placed first.
func (s *Surface) HitTest(x, y float64) (models.PlacedPeer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hitTestLocked(x, y)
}

func (s *Surface) hitTestLocked(x, y float64) (models.PlacedPeer, bool) {
	var (
		best     models.PlacedPeer
		bestDist = math.Inf(1)
		found    bool
	)
	for _, id := range s.order {
		placed := s.placed[id]
		dist := math.Hypot(placed.Position.X-x, placed.Position.Y-y)
		if dist < HitRadius && dist < bestDist {
			best = placed
			bestDist = dist
			found = true
		}
	}
	return best, found
}

// Tap dispatches the peer under (x, y), if any, to the click listener.
func (s *Surface) Tap(x, y float64) bool {
	s.mu.Lock()
	placed, ok := s.hitTestLocked(x, y)
	listener := s.listener
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.logger.Debug("peer tapped", zap.String("endpoint", placed.Peer.EndpointID))
	if listener != nil {
		listener.PeerClicked(placed.Peer)
	}
	return true
}

// Attach starts the sweep animation. Calling it while attached is a no-op.
func (s *Surface) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickerStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.tickerStop = stop
	s.tickerDone = done
	go s.animate(stop, done)
}

// Detach stops the sweep animation and returns once the ticker goroutine
// has exited. Calling it while detached is a no-op.
func (s *Surface) Detach() {
	s.mu.Lock()
	stop, done := s.tickerStop, s.tickerDone
	s.tickerStop = nil
	s.tickerDone = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Attached reports whether the sweep animation is running.
func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickerStop != nil
}

func (s *Surface) animate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.advance()
		}
	}
}

func (s *Surface) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep = math.Mod(s.sweep+SweepStep, 360)
}
