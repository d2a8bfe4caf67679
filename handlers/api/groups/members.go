package groups

import (
	"groupchat-server/core"
	"groupchat-server/handlers/api/respond"
	"groupchat-server/middleware"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// HandleAddMember adds a user to a group. Admins may add anyone; any user may
// add themselves to a public group.
func HandleAddMember(store core.GroupStore, sync RoomSync) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := loadGroup(w, r, store)
		if !ok {
			return
		}

		var req MemberRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil || req.UserID == "" {
			respond.Message(w, r, http.StatusBadRequest, "User ID is required")
			return
		}

		caller := middleware.UserID(r.Context())
		selfJoin := req.UserID == caller && !group.IsPrivate
		if !group.IsAdmin(caller) && !selfJoin {
			respond.Message(w, r, http.StatusForbidden, "Not authorized")
			return
		}
		if group.IsMember(req.UserID) {
			render.JSON(w, r, map[string]string{"message": "Already a member"})
			return
		}

		if err := store.AddMember(r.Context(), group.ID, req.UserID); err != nil {
			respond.Error(w, r, err, "Failed to add member")
			return
		}
		sync.MemberAdded(r.Context(), group.ID, req.UserID)
		render.JSON(w, r, map[string]string{"message": "Member added successfully"})
	}
}

// HandleRemoveMember removes a member. Admins may remove anyone but the
// creator; members may remove themselves.
func HandleRemoveMember(store core.GroupStore, sync RoomSync) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := loadGroup(w, r, store)
		if !ok {
			return
		}

		caller := middleware.UserID(r.Context())
		memberID := chi.URLParam(r, "userID")
		if !group.IsAdmin(caller) && memberID != caller {
			respond.Message(w, r, http.StatusForbidden, "Not authorized")
			return
		}
		if memberID == group.CreatorID {
			respond.Message(w, r, http.StatusForbidden, "The creator cannot be removed")
			return
		}
		if !group.IsMember(memberID) {
			respond.Message(w, r, http.StatusNotFound, "Not a member of this group")
			return
		}

		if err := store.RemoveMember(r.Context(), group.ID, memberID); err != nil {
			respond.Error(w, r, err, "Failed to remove member")
			return
		}
		sync.MemberRemoved(r.Context(), group.ID, memberID)
		render.JSON(w, r, map[string]string{"message": "Member removed successfully"})
	}
}

func HandleAddAdmin(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := loadGroup(w, r, store)
		if !ok {
			return
		}
		if !group.IsAdmin(middleware.UserID(r.Context())) {
			respond.Message(w, r, http.StatusForbidden, "Not authorized")
			return
		}

		var req MemberRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil || req.UserID == "" {
			respond.Message(w, r, http.StatusBadRequest, "User ID is required")
			return
		}
		if err := store.AddAdmin(r.Context(), group.ID, req.UserID); err != nil {
			respond.Error(w, r, err, "Failed to add admin")
			return
		}
		render.JSON(w, r, map[string]string{"message": "Admin added successfully"})
	}
}

func HandleRemoveAdmin(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := loadGroup(w, r, store)
		if !ok {
			return
		}
		if !group.IsAdmin(middleware.UserID(r.Context())) {
			respond.Message(w, r, http.StatusForbidden, "Not authorized")
			return
		}

		adminID := chi.URLParam(r, "userID")
		if adminID == group.CreatorID {
			respond.Message(w, r, http.StatusForbidden, "The creator cannot be demoted")
			return
		}
		if err := store.RemoveAdmin(r.Context(), group.ID, adminID); err != nil {
			respond.Error(w, r, err, "Failed to remove admin")
			return
		}
		render.JSON(w, r, map[string]string{"message": "Admin removed successfully"})
	}
}
