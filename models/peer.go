package models

// DiscoveredPeer is a nearby user resolved from a proximity endpoint.
type DiscoveredPeer struct {
	EndpointID  string `json:"endpoint_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ShareableID string `json:"shareable_id"`
}

// RadarPosition is a point on the radar surface in surface coordinates.
type RadarPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlacedPeer pairs a discovered peer with its frozen radar position.
type PlacedPeer struct {
	Peer     DiscoveredPeer `json:"peer"`
	Position RadarPosition  `json:"position"`
}
