package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

// FriendEdgeFunc writes one direction of a friend edge: owner's list gains or
// loses other.
type FriendEdgeFunc func(ctx context.Context, owner, other string) error

// ApplyFriendEdge writes both directions of a friend edge for stores that
// cannot do it atomically. When the second write fails the first is undone;
// if the undo fails too, the caller gets a *PartialFriendError.
func ApplyFriendEdge(ctx context.Context, op, userID, friendID string, apply, undo FriendEdgeFunc) error {
	if err := apply(ctx, userID, friendID); err != nil {
		return err
	}
	err := apply(ctx, friendID, userID)
	if err == nil {
		return nil
	}

	log := logrus.WithFields(logrus.Fields{
		"op":        op,
		"user_id":   userID,
		"friend_id": friendID,
	})
	if undoErr := undo(ctx, userID, friendID); undoErr != nil {
		log.WithError(undoErr).Error("Failed to roll back one-sided friend edge")
		return &PartialFriendError{Op: op, UserID: userID, FriendID: friendID, Err: err}
	}
	log.WithError(err).Warn("Friend edge rolled back after second write failed")
	return err
}
