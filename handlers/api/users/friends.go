package users

import (
	"context"
	"groupchat-server/core"
	"groupchat-server/handlers/api/respond"
	"groupchat-server/middleware"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type FriendStore interface {
	core.FriendStore
	GetUser(ctx context.Context, id string) (*core.User, error)
	Friends(ctx context.Context, userID string) ([]string, error)
}

// HandleListFriends returns the friends of the authenticated user. Friends
// that can no longer be loaded are skipped.
func HandleListFriends(store FriendStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := store.Friends(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			respond.Error(w, r, err, "Failed to list friends")
			return
		}

		friends := make([]core.User, 0, len(ids))
		for _, id := range ids {
			friend, err := store.GetUser(r.Context(), id)
			if err != nil {
				logrus.WithField("friend_id", id).WithError(err).Warn("Skipping unreadable friend")
				continue
			}
			friends = append(friends, *friend)
		}
		render.JSON(w, r, friends)
	}
}

func HandleAddFriend(store FriendStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		friendID := chi.URLParam(r, "userID")
		if friendID == userID {
			respond.Message(w, r, http.StatusBadRequest, "Cannot befriend yourself")
			return
		}

		if err := store.AddFriend(r.Context(), userID, friendID); err != nil {
			respond.Error(w, r, err, "Failed to add friend")
			return
		}
		render.JSON(w, r, map[string]string{"message": "Friend added successfully"})
	}
}

func HandleRemoveFriend(store FriendStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.RemoveFriend(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "userID")); err != nil {
			respond.Error(w, r, err, "Failed to remove friend")
			return
		}
		render.JSON(w, r, map[string]string{"message": "Friend removed successfully"})
	}
}
