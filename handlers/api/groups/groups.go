package groups

import (
	"context"
	"groupchat-server/core"
	"groupchat-server/handlers/api/respond"
	"groupchat-server/middleware"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const defaultSearchLimit = 20

type (
	CreateGroupRequest struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		IsPrivate   bool     `json:"is_private"`
		Members     []string `json:"members"`
	}

	UpdateGroupRequest struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		IsPrivate   *bool   `json:"is_private"`
	}

	MemberRequest struct {
		UserID string `json:"user_id"`
	}

	// RoomSync keeps live room subscriptions in line with membership changes.
	RoomSync interface {
		MemberAdded(ctx context.Context, groupID, userID string)
		MemberRemoved(ctx context.Context, groupID, userID string)
	}
)

// loadGroup fetches the group named in the URL and renders the error itself
// when it cannot.
func loadGroup(w http.ResponseWriter, r *http.Request, store core.GroupStore) (*core.Group, bool) {
	group, err := store.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		respond.Error(w, r, err, "Failed to load group")
		return nil, false
	}
	return group, true
}

func HandleCreate(store core.GroupStore, sync RoomSync) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateGroupRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.Message(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			respond.Message(w, r, http.StatusBadRequest, "Group name is required")
			return
		}

		id, err := store.CreateGroup(r.Context(), &core.Group{
			Name:        req.Name,
			Description: req.Description,
			CreatorID:   middleware.UserID(r.Context()),
			IsPrivate:   req.IsPrivate,
			Members:     req.Members,
		})
		if err != nil {
			respond.Error(w, r, err, "Failed to create group")
			return
		}

		group, err := store.GetGroup(r.Context(), id)
		if err != nil {
			respond.Error(w, r, err, "Failed to load group")
			return
		}
		for _, member := range group.Members {
			sync.MemberAdded(r.Context(), group.ID, member)
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, group)
	}
}

// HandleList returns the caller's groups, most recently active first.
func HandleList(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := store.ListUserGroups(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			respond.Error(w, r, err, "Failed to list groups")
			return
		}
		if groups == nil {
			groups = []core.Group{}
		}
		render.JSON(w, r, groups)
	}
}

func HandleSearch(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := store.SearchPublicGroups(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), defaultSearchLimit)
		if err != nil {
			respond.Error(w, r, err, "Failed to search groups")
			return
		}
		if groups == nil {
			groups = []core.Group{}
		}
		render.JSON(w, r, groups)
	}
}

func HandleGet(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := loadGroup(w, r, store)
		if !ok {
			return
		}
		if !group.IsMember(middleware.UserID(r.Context())) {
			respond.Message(w, r, http.StatusForbidden, "Not a member of this group")
			return
		}
		render.JSON(w, r, group)
	}
}

func HandleUpdate(store core.GroupStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := loadGroup(w, r, store)
		if !ok {
			return
		}
		if !group.IsAdmin(middleware.UserID(r.Context())) {
			respond.Message(w, r, http.StatusForbidden, "Not authorized")
			return
		}

		var req UpdateGroupRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.Message(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
			respond.Message(w, r, http.StatusBadRequest, "Group name is required")
			return
		}

		update := core.GroupUpdate{Name: req.Name, Description: req.Description, IsPrivate: req.IsPrivate}
		if err := store.UpdateGroup(r.Context(), group.ID, update); err != nil {
			respond.Error(w, r, err, "Failed to update group")
			return
		}

		updated, err := store.GetGroup(r.Context(), group.ID)
		if err != nil {
			respond.Error(w, r, err, "Failed to load group")
			return
		}
		render.JSON(w, r, updated)
	}
}

// HandleDelete removes a group. Only its creator may do so.
func HandleDelete(store core.GroupStore, sync RoomSync) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := loadGroup(w, r, store)
		if !ok {
			return
		}
		if group.CreatorID != middleware.UserID(r.Context()) {
			respond.Message(w, r, http.StatusForbidden, "Only the creator can delete a group")
			return
		}

		if err := store.DeleteGroup(r.Context(), group.ID); err != nil {
			respond.Error(w, r, err, "Failed to delete group")
			return
		}
		for _, member := range group.Members {
			sync.MemberRemoved(r.Context(), group.ID, member)
		}

		logrus.WithField("group_id", group.ID).Info("Group deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}
