package presence

import (
	"context"
	"groupchat-server/core"
	"groupchat-server/handlers/api/respond"
	"groupchat-server/middleware"
	chatpresence "groupchat-server/presence"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type (
	Tracker interface {
		UserRecord(userID string) (chatpresence.Record, bool)
		OnlineUsers() []string
	}

	TypingLister interface {
		TypingUsers(groupID string) []string
	}

	UserLookup interface {
		GetUser(ctx context.Context, id string) (*core.User, error)
	}
)

// HandleGet returns the presence record of a user. Users not seen since
// start-up fall back to their persisted status.
func HandleGet(tracker Tracker, users UserLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if record, ok := tracker.UserRecord(userID); ok {
			render.JSON(w, r, record)
			return
		}

		user, err := users.GetUser(r.Context(), userID)
		if err != nil {
			respond.Error(w, r, err, "Failed to load presence")
			return
		}
		render.JSON(w, r, chatpresence.Record{
			UserID:      user.ID,
			Status:      user.Status,
			Connections: []string{},
			LastActive:  user.LastActive,
		})
	}
}

// HandleOnline lists users with at least one live connection to this server.
func HandleOnline(tracker Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		online := tracker.OnlineUsers()
		if online == nil {
			online = []string{}
		}
		render.JSON(w, r, map[string][]string{"user_ids": online})
	}
}

// HandleTyping lists who is typing in a group. Only members may ask.
func HandleTyping(typing TypingLister, membership core.MembershipStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupID")
		members, err := membership.GroupMembers(r.Context(), groupID)
		if err != nil {
			respond.Error(w, r, err, "Failed to load group")
			return
		}
		if !slices.Contains(members, middleware.UserID(r.Context())) {
			respond.Message(w, r, http.StatusForbidden, "Not a member of this group")
			return
		}

		users := typing.TypingUsers(groupID)
		if users == nil {
			users = []string{}
		}
		render.JSON(w, r, map[string][]string{"user_ids": users})
	}
}
