package models

// FriendRequestStatus is the lifecycle state of a friend request.
type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
)

// FriendRequest is stored under the recipient and keyed by the sender.
type FriendRequest struct {
	SenderID  string              `json:"sender_id"`
	Status    FriendRequestStatus `json:"status"`
	CreatedAt int64               `json:"created_at"`

	// SenderName is resolved for display only and never persisted.
	SenderName string `json:"-"`
}
