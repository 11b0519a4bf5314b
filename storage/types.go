package storage

import (
	"errors"
	"fmt"

	"nearchat/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrBatchCommitted is returned when a batch is reused after Commit.
	ErrBatchCommitted = errors.New("storage: batch already committed")
)

type scanner interface {
	Scan(dest ...any) error
}

func validateFriendRequestStatus(status models.FriendRequestStatus) error {
	switch status {
	case models.FriendRequestPending, models.FriendRequestAccepted:
		return nil
	default:
		return fmt.Errorf("invalid friend request status %q", status)
	}
}

func (s *Store) nowUnixMilli() int64 {
	return s.now().UnixMilli()
}
