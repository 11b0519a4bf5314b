package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nearchat/models"
	"nearchat/storage"
)

// UnknownSenderName is shown for requests whose sender has no profile.
const UnknownSenderName = "Unknown User"

var (
	// ErrSelfRequest is returned when a user targets themselves.
	ErrSelfRequest = errors.New("friends: cannot befriend yourself")
	// ErrInvalidRequest is returned when a user ID is missing.
	ErrInvalidRequest = errors.New("friends: recipient and sender are required")
)

// Store is the document store the workflow writes to.
type Store interface {
	PutFriendRequest(ctx context.Context, recipientID string, request models.FriendRequest) error
	DeleteFriendRequest(ctx context.Context, recipientID, senderID string) error
	ListFriendRequests(ctx context.Context, recipientID string, status models.FriendRequestStatus) ([]models.FriendRequest, error)
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	ListFriends(ctx context.Context, userID string) ([]models.UserProfile, error)
	NewBatch() *storage.Batch
}

// Workflow creates friend requests and resolves them on the recipient side.
type Workflow struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewWorkflow binds a workflow to store.
func NewWorkflow(store Store, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func validatePair(recipientID, senderID string) error {
	if strings.TrimSpace(recipientID) == "" || strings.TrimSpace(senderID) == "" {
		return ErrInvalidRequest
	}
	if recipientID == senderID {
		return ErrSelfRequest
	}
	return nil
}

// SendRequest records a pending request from senderID under recipientID,
// replacing any earlier request from the same sender.
func (w *Workflow) SendRequest(ctx context.Context, recipientID, senderID string) error {
	if err := validatePair(recipientID, senderID); err != nil {
		return err
	}

	request := models.FriendRequest{
		SenderID:  senderID,
		Status:    models.FriendRequestPending,
		CreatedAt: w.now().UnixMilli(),
	}
	if err := w.store.PutFriendRequest(ctx, recipientID, request); err != nil {
		w.logger.Error("friend request failed",
			zap.String("recipient", recipientID),
			zap.String("sender", senderID),
			zap.Error(err),
		)
		return fmt.Errorf("send friend request: %w", err)
	}

	w.logger.Info("friend request sent", zap.String("recipient", recipientID), zap.String("sender", senderID))
	return nil
}

// AcceptRequest adds each user to the other's friend set and marks the
// request accepted, all in one batch.
func (w *Workflow) AcceptRequest(ctx context.Context, recipientID string, request models.FriendRequest) error {
	if err := validatePair(recipientID, request.SenderID); err != nil {
		return err
	}

	err := w.store.NewBatch().
		AddFriend(recipientID, request.SenderID).
		AddFriend(request.SenderID, recipientID).
		SetFriendRequestStatus(recipientID, request.SenderID, models.FriendRequestAccepted).
		Commit(ctx)
	if err != nil {
		w.logger.Error("accept friend request failed",
			zap.String("recipient", recipientID),
			zap.String("sender", request.SenderID),
			zap.Error(err),
		)
		return fmt.Errorf("accept friend request: %w", err)
	}

	w.logger.Info("friend request accepted", zap.String("recipient", recipientID), zap.String("sender", request.SenderID))
	return nil
}

// RejectRequest deletes the request. The sender is not notified.
func (w *Workflow) RejectRequest(ctx context.Context, recipientID string, request models.FriendRequest) error {
	if err := validatePair(recipientID, request.SenderID); err != nil {
		return err
	}

	if err := w.store.DeleteFriendRequest(ctx, recipientID, request.SenderID); err != nil {
		return fmt.Errorf("reject friend request: %w", err)
	}

	w.logger.Info("friend request rejected", zap.String("recipient", recipientID), zap.String("sender", request.SenderID))
	return nil
}

// PendingRequests lists requests awaiting recipientID, newest first, with
// sender names filled in.
func (w *Workflow) PendingRequests(ctx context.Context, recipientID string) ([]models.FriendRequest, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, ErrInvalidRequest
	}

	requests, err := w.store.ListFriendRequests(ctx, recipientID, models.FriendRequestPending)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}

	for i := range requests {
		profile, err := w.store.GetProfile(ctx, requests[i].SenderID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			requests[i].SenderName = UnknownSenderName
		case err != nil:
			return nil, fmt.Errorf("resolve sender %q: %w", requests[i].SenderID, err)
		case strings.TrimSpace(profile.DisplayName) == "":
			requests[i].SenderName = UnknownSenderName
		default:
			requests[i].SenderName = profile.DisplayName
		}
	}
	return requests, nil
}

// Friends lists the user's friends by display name.
func (w *Workflow) Friends(ctx context.Context, userID string) ([]models.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidRequest
	}
	friends, err := w.store.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}
