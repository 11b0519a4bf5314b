package discovery

import (
	"context"
	"errors"
	"net"

	"nearchat/models"
)

var (
	// ErrPermissionDenied is returned when discovery permissions are missing.
	ErrPermissionDenied = errors.New("discovery: required permissions not granted")
	// ErrSessionActive is returned by Start on a session that is already running.
	ErrSessionActive = errors.New("discovery: session already active")
	// ErrNoIdentity means no durable identity is available to advertise.
	ErrNoIdentity = errors.New("discovery: no durable identity available")
	// ErrAdvertiserUsed is returned when Start is called twice on one advertiser.
	ErrAdvertiserUsed = errors.New("discovery: advertiser already started")
	// ErrAlreadyAdvertising is returned by a proximity backend that is already advertising.
	ErrAlreadyAdvertising = errors.New("discovery: already advertising")
	// ErrAlreadyDiscovering is returned by a proximity backend that is already discovering.
	ErrAlreadyDiscovering = errors.New("discovery: already discovering")
	// ErrNotDiscovering is returned by Refresh when no browse is running.
	ErrNotDiscovering = errors.New("discovery: not discovering")
)

// EndpointHandler receives proximity callbacks. Implementations must not block.
type EndpointHandler interface {
	OnEndpointFound(endpointID, token string)
	OnEndpointLost(endpointID string)
}

// Proximity is a nearby-peer advertising and discovery backend.
type Proximity interface {
	StartDiscovery(ctx context.Context, serviceID string, handler EndpointHandler) error
	StopDiscovery()
	StartAdvertising(ctx context.Context, token, serviceID string) error
	StopAdvertising()
}

// ProfileLookup resolves a durable user ID to its public profile.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// ProfileRecorder stores a profile learned from an advertisement.
type ProfileRecorder interface {
	UpsertProfile(ctx context.Context, profile models.UserProfile) error
}

// Observer is told about cache changes, on the session's event goroutine.
type Observer interface {
	PeerAdded(peer models.DiscoveredPeer)
	PeerRemoved(endpointID string)
}

// Permissions reports whether discovery may run.
type Permissions interface {
	HasDiscoveryPermissions() bool
}

// PermissionsFunc adapts a function to Permissions.
type PermissionsFunc func() bool

// HasDiscoveryPermissions calls f.
func (f PermissionsFunc) HasDiscoveryPermissions() bool {
	return f()
}

// AlwaysGranted never blocks discovery.
var AlwaysGranted Permissions = PermissionsFunc(func() bool { return true })

// InterfacePermissions grants discovery when at least one non-loopback,
// multicast-capable interface is up.
type InterfacePermissions struct {
	interfaces func() ([]net.Interface, error)
}

// HasDiscoveryPermissions inspects the host's network interfaces.
func (p InterfacePermissions) HasDiscoveryPermissions() bool {
	list := p.interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast != 0 {
			return true
		}
	}
	return false
}
