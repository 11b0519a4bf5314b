package storage

import (
	"context"
	"errors"
	"testing"

	"nearchat/models"
)

func TestBatchCommitsAllWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustAddProfile(t, store, "U1", "Alice")
	mustAddProfile(t, store, "U2", "Bob")
	mustPutRequest(t, store, "U2", "U1", 1_000)

	batch := store.NewBatch().
		AddFriend("U2", "U1").
		AddFriend("U1", "U2").
		SetFriendRequestStatus("U2", "U1", models.FriendRequestAccepted)
	if batch.Len() != 3 {
		t.Fatalf("expected 3 queued writes, got %d", batch.Len())
	}
	if err := batch.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got := countFriends(t, store); got != 2 {
		t.Fatalf("expected 2 friend rows, got %d", got)
	}
	request, err := store.GetFriendRequest(ctx, "U2", "U1")
	if err != nil {
		t.Fatalf("GetFriendRequest failed: %v", err)
	}
	if request.Status != models.FriendRequestAccepted {
		t.Fatalf("expected accepted status, got %q", request.Status)
	}

	if err := batch.Commit(ctx); !errors.Is(err, ErrBatchCommitted) {
		t.Fatalf("expected ErrBatchCommitted on reuse, got %v", err)
	}
}

func TestBatchRollsBackOnLateFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustAddProfile(t, store, "U1", "Alice")
	mustAddProfile(t, store, "U2", "Bob")

	// No request row exists, so the third write fails after two succeeded.
	err := store.NewBatch().
		AddFriend("U2", "U1").
		AddFriend("U1", "U2").
		SetFriendRequestStatus("U2", "U1", models.FriendRequestAccepted).
		Commit(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from failed batch, got %v", err)
	}
	if got := countFriends(t, store); got != 0 {
		t.Fatalf("expected rollback to leave no friend rows, got %d", got)
	}
}

func TestBatchAddFriendRequiresBothUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustAddProfile(t, store, "U2", "Bob")

	err := store.NewBatch().AddFriend("U2", "ghost").Commit(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown friend, got %v", err)
	}
	if got := countFriends(t, store); got != 0 {
		t.Fatalf("expected no friend rows, got %d", got)
	}
}

func TestBatchAddFriendIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustAddProfile(t, store, "U1", "Alice")
	mustAddProfile(t, store, "U2", "Bob")

	for i := 0; i < 2; i++ {
		if err := store.NewBatch().AddFriend("U1", "U2").Commit(ctx); err != nil {
			t.Fatalf("Commit %d failed: %v", i+1, err)
		}
	}
	if got := countFriends(t, store); got != 1 {
		t.Fatalf("expected a single friend row, got %d", got)
	}
}
