package storage

import (
	"context"
	"testing"

	"nearchat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAddProfile(t *testing.T, store *Store, userID, name string) {
	t.Helper()

	err := store.UpsertProfile(context.Background(), models.UserProfile{
		UserID:      userID,
		DisplayName: name,
		ShareableID: "share-" + userID,
	})
	if err != nil {
		t.Fatalf("add profile %q: %v", userID, err)
	}
}

func mustPutRequest(t *testing.T, store *Store, recipientID, senderID string, createdAt int64) {
	t.Helper()

	err := store.PutFriendRequest(context.Background(), recipientID, models.FriendRequest{
		SenderID:  senderID,
		Status:    models.FriendRequestPending,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("put friend request %q -> %q: %v", senderID, recipientID, err)
	}
}

func countFriends(t *testing.T, store *Store) int {
	t.Helper()

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(1) FROM friends`).Scan(&count); err != nil {
		t.Fatalf("count friends: %v", err)
	}
	return count
}
