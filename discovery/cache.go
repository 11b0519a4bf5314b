package discovery

import (
	"sync"

	"nearchat/models"
)

// EndpointCache holds live discovered peers keyed by endpoint ID.
// The first insert for an endpoint wins; later inserts are no-ops.
type EndpointCache struct {
	mu    sync.RWMutex
	order []string
	peers map[string]models.DiscoveredPeer
}

// NewEndpointCache returns an empty cache.
func NewEndpointCache() *EndpointCache {
	return &EndpointCache{peers: make(map[string]models.DiscoveredPeer)}
}

// Insert adds peer unless its endpoint ID is already present.
func (c *EndpointCache) Insert(peer models.DiscoveredPeer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.peers[peer.EndpointID]; exists {
		return false
	}
	c.peers[peer.EndpointID] = peer
	c.order = append(c.order, peer.EndpointID)
	return true
}

// Remove deletes endpointID and returns the removed peer, if any.
func (c *EndpointCache) Remove(endpointID string) (models.DiscoveredPeer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peer, exists := c.peers[endpointID]
	if !exists {
		return models.DiscoveredPeer{}, false
	}
	delete(c.peers, endpointID)
	for i, id := range c.order {
		if id == endpointID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return peer, true
}

// Get returns the peer registered under endpointID.
func (c *EndpointCache) Get(endpointID string) (models.DiscoveredPeer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peer, ok := c.peers[endpointID]
	return peer, ok
}

// Len returns the number of live peers.
func (c *EndpointCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// Snapshot copies the live peers in insertion order.
func (c *EndpointCache) Snapshot() []models.DiscoveredPeer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.DiscoveredPeer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.peers[id])
	}
	return out
}

// Clear empties the cache and returns what was removed, in insertion order.
func (c *EndpointCache) Clear() []models.DiscoveredPeer {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.DiscoveredPeer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.peers[id])
	}
	c.order = nil
	c.peers = make(map[string]models.DiscoveredPeer)
	return out
}
