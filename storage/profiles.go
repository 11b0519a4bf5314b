package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nearchat/models"
)

// UpsertProfile inserts a profile or refreshes its display fields.
func (s *Store) UpsertProfile(ctx context.Context, profile models.UserProfile) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(profile.DisplayName) == "" {
		return errors.New("display_name is required")
	}
	if strings.TrimSpace(profile.ShareableID) == "" {
		return errors.New("shareable_id is required")
	}
	if profile.CreatedAt == 0 {
		profile.CreatedAt = s.nowUnixMilli()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, display_name, shareable_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			shareable_id = excluded.shareable_id`,
		profile.UserID,
		profile.DisplayName,
		profile.ShareableID,
		profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %q: %w", profile.UserID, err)
	}

	return nil
}

// GetProfile fetches a profile by durable user ID.
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, shareable_id, created_at
		FROM users
		WHERE user_id = ?`,
		userID,
	)

	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile %q: %w", userID, err)
	}

	return profile, nil
}

// LookupProfile resolves an advertised token (the durable user ID) to a
// profile for the discovery session.
func (s *Store) LookupProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return s.GetProfile(ctx, userID)
}

// ListFriends returns the friend profiles of userID sorted by display name.
func (s *Store) ListFriends(ctx context.Context, userID string) ([]models.UserProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.user_id, u.display_name, u.shareable_id, u.created_at
		FROM friends f
		JOIN users u ON u.user_id = f.friend_id
		WHERE f.user_id = ?
		ORDER BY u.display_name, u.user_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list friends of %q: %w", userID, err)
	}
	defer rows.Close()

	friends := make([]models.UserProfile, 0)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend row: %w", err)
		}
		friends = append(friends, *profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend rows: %w", err)
	}

	return friends, nil
}

func scanProfile(row scanner) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := row.Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.ShareableID,
		&profile.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &profile, nil
}
