package users

import (
	"groupchat-server/core"
	"groupchat-server/handlers/api/respond"
	"groupchat-server/middleware"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const defaultSearchLimit = 20

type UpdateProfileRequest struct {
	Username   string `json:"username"`
	ProfilePic string `json:"profile_pic"`
}

// HandleMe returns the authenticated user.
func HandleMe(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := store.GetUser(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			respond.Error(w, r, err, "Failed to load user")
			return
		}
		render.JSON(w, r, user)
	}
}

func HandleUpdateMe(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateProfileRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.Message(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" && req.ProfilePic == "" {
			respond.Message(w, r, http.StatusBadRequest, "Nothing to update")
			return
		}

		userID := middleware.UserID(r.Context())
		if err := store.UpdateProfile(r.Context(), userID, req.Username, req.ProfilePic); err != nil {
			respond.Error(w, r, err, "Failed to update profile")
			return
		}

		user, err := store.GetUser(r.Context(), userID)
		if err != nil {
			respond.Error(w, r, err, "Failed to load user")
			return
		}
		render.JSON(w, r, user)
	}
}

func HandleSearch(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			render.JSON(w, r, []core.User{})
			return
		}

		users, err := store.SearchUsers(r.Context(), query, queryLimit(r, defaultSearchLimit))
		if err != nil {
			respond.Error(w, r, err, "Failed to search users")
			return
		}
		if users == nil {
			users = []core.User{}
		}
		render.JSON(w, r, users)
	}
}

// HandleOnline lists users whose persisted status is online.
func HandleOnline(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := store.ListOnline(r.Context())
		if err != nil {
			respond.Error(w, r, err, "Failed to list online users")
			return
		}
		if users == nil {
			users = []core.User{}
		}
		render.JSON(w, r, users)
	}
}

func HandleGetUser(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := store.GetUser(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			respond.Error(w, r, err, "Failed to load user")
			return
		}
		render.JSON(w, r, user)
	}
}

func queryLimit(r *http.Request, fallback int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 100 {
		return fallback
	}
	return limit
}
