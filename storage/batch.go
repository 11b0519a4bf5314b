package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"nearchat/models"
)

type batchOp struct {
	name  string
	apply func(ctx context.Context, tx *sql.Tx) error
}

// Batch collects writes that commit together or not at all.
type Batch struct {
	store     *Store
	ops       []batchOp
	committed bool
}

// NewBatch starts an empty write batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s}
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.ops)
}

// AddFriend queues adding friendID to userID's friend set. Adding an existing
// friend is a no-op; both users must exist when the batch commits.
func (b *Batch) AddFriend(userID, friendID string) *Batch {
	b.ops = append(b.ops, batchOp{
		name: fmt.Sprintf("add friend %q to %q", friendID, userID),
		apply: func(ctx context.Context, tx *sql.Tx) error {
			for _, id := range []string{userID, friendID} {
				var exists int
				err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE user_id = ?`, id).Scan(&exists)
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("user %q: %w", id, ErrNotFound)
				}
				if err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO friends (user_id, friend_id, added_at)
				VALUES (?, ?, ?)
				ON CONFLICT(user_id, friend_id) DO NOTHING`,
				userID,
				friendID,
				b.store.nowUnixMilli(),
			)
			return err
		},
	})
	return b
}

// SetFriendRequestStatus queues a status change on an existing request.
func (b *Batch) SetFriendRequestStatus(recipientID, senderID string, status models.FriendRequestStatus) *Batch {
	b.ops = append(b.ops, batchOp{
		name: fmt.Sprintf("set friend request %q -> %q to %s", senderID, recipientID, status),
		apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := validateFriendRequestStatus(status); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE friend_requests SET status = ?
				WHERE recipient_id = ? AND sender_id = ?`,
				string(status),
				recipientID,
				senderID,
			)
			if err != nil {
				return err
			}
			rowsAffected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if rowsAffected == 0 {
				return ErrNotFound
			}
			return nil
		},
	})
	return b
}

// Commit applies every queued write in one transaction. On any failure the
// transaction is rolled back and nothing is applied.
func (b *Batch) Commit(ctx context.Context) error {
	if b.committed {
		return ErrBatchCommitted
	}
	b.committed = true

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, op := range b.ops {
		if err := op.apply(ctx, tx); err != nil {
			b.store.logger.Warn("batch write failed, rolling back",
				zap.Int("op", i+1),
				zap.Int("ops", len(b.ops)),
				zap.String("write", op.name),
				zap.Error(err),
			)
			return fmt.Errorf("batch write %d/%d (%s): %w", i+1, len(b.ops), op.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch transaction: %w", err)
	}

	return nil
}
