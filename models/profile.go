package models

// UserProfile is the public profile behind a durable user ID.
type UserProfile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ShareableID string `json:"shareable_id"`
	CreatedAt   int64  `json:"created_at"`
}
