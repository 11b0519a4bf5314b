package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nearchat/models"
)

// PutFriendRequest writes a request under the recipient, keyed by sender.
// An existing record from the same sender is overwritten.
func (s *Store) PutFriendRequest(ctx context.Context, recipientID string, request models.FriendRequest) error {
	if recipientID == "" {
		return errors.New("recipient_id is required")
	}
	if request.SenderID == "" {
		return errors.New("sender_id is required")
	}
	if request.Status == "" {
		request.Status = models.FriendRequestPending
	}
	if err := validateFriendRequestStatus(request.Status); err != nil {
		return err
	}
	if request.CreatedAt == 0 {
		request.CreatedAt = s.nowUnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO friend_requests (recipient_id, sender_id, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(recipient_id, sender_id) DO UPDATE SET
			status = excluded.status,
			created_at = excluded.created_at`,
		recipientID,
		request.SenderID,
		string(request.Status),
		request.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put friend request %q -> %q: %w", request.SenderID, recipientID, err)
	}

	return nil
}

// GetFriendRequest fetches one request addressed to recipientID.
func (s *Store) GetFriendRequest(ctx context.Context, recipientID, senderID string) (*models.FriendRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sender_id, status, created_at
		FROM friend_requests
		WHERE recipient_id = ? AND sender_id = ?`,
		recipientID,
		senderID,
	)

	request, err := scanFriendRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get friend request %q -> %q: %w", senderID, recipientID, err)
	}

	return request, nil
}

// DeleteFriendRequest removes a request; missing rows return ErrNotFound.
func (s *Store) DeleteFriendRequest(ctx context.Context, recipientID, senderID string) error {
	if recipientID == "" || senderID == "" {
		return errors.New("recipient_id and sender_id are required")
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM friend_requests WHERE recipient_id = ? AND sender_id = ?`,
		recipientID,
		senderID,
	)
	if err != nil {
		return fmt.Errorf("delete friend request %q -> %q: %w", senderID, recipientID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete friend request %q -> %q: %w", senderID, recipientID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListFriendRequests returns requests addressed to recipientID with the given
// status, newest first.
func (s *Store) ListFriendRequests(ctx context.Context, recipientID string, status models.FriendRequestStatus) ([]models.FriendRequest, error) {
	if err := validateFriendRequestStatus(status); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, status, created_at
		FROM friend_requests
		WHERE recipient_id = ? AND status = ?
		ORDER BY created_at DESC, sender_id`,
		recipientID,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list friend requests for %q: %w", recipientID, err)
	}
	defer rows.Close()

	requests := make([]models.FriendRequest, 0)
	for rows.Next() {
		request, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request row: %w", err)
		}
		requests = append(requests, *request)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend request rows: %w", err)
	}

	return requests, nil
}

func scanFriendRequest(row scanner) (*models.FriendRequest, error) {
	var (
		request models.FriendRequest
		status  string
	)
	if err := row.Scan(&request.SenderID, &status, &request.CreatedAt); err != nil {
		return nil, err
	}
	request.Status = models.FriendRequestStatus(status)
	return &request, nil
}
