package users

import (
	"context"
	"encoding/json"
	"errors"
	"groupchat-server/core"
	"groupchat-server/middleware"
	"groupchat-server/stores/memory"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type userStore interface {
	core.UserStore
	FriendStore
}

func setupRouter(store userStore) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), r.Header.Get("X-User"))))
		})
	})
	r.Get("/users/me", HandleMe(store))
	r.Put("/users/me", HandleUpdateMe(store))
	r.Get("/users/search", HandleSearch(store))
	r.Get("/users/online", HandleOnline(store))
	r.Get("/users/{userID}", HandleGetUser(store))
	r.Get("/friends", HandleListFriends(store))
	r.Post("/friends/{userID}", HandleAddFriend(store))
	r.Delete("/friends/{userID}", HandleRemoveFriend(store))
	return r
}

func do(h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, store core.UserStore, names ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, err := store.CreateUser(context.Background(), &core.User{Username: name, PasswordHash: "x"})
		if err != nil {
			t.Fatalf("CreateUser(%s) failed: %v", name, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMe(t *testing.T) {
	store := memory.NewStore()
	ids := seed(t, store, "alice", "bob")
	h := setupRouter(store)

	w := do(h, http.MethodGet, "/users/me", ids[0], "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("password hash leaked: %s", w.Body.String())
	}

	w = do(h, http.MethodPut, "/users/me", ids[0], `{"profile_pic":"me.png"}`)
	var u core.User
	json.NewDecoder(w.Body).Decode(&u)
	if w.Code != http.StatusOK || u.ProfilePic != "me.png" || u.Username != "alice" {
		t.Errorf("update = %d %+v", w.Code, u)
	}

	if w := do(h, http.MethodPut, "/users/me", ids[0], `{"username":"BOB"}`); w.Code != http.StatusConflict {
		t.Errorf("taken username: expected 409, got %d", w.Code)
	}
	if w := do(h, http.MethodPut, "/users/me", ids[0], `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty update: expected 400, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/users/me", "ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", w.Code)
	}
}

func TestSearchAndOnline(t *testing.T) {
	store := memory.NewStore()
	ids := seed(t, store, "alice", "alicia", "bob")
	h := setupRouter(store)

	var found []core.User
	json.NewDecoder(do(h, http.MethodGet, "/users/search?q=ali", ids[2], "").Body).Decode(&found)
	if len(found) != 2 {
		t.Errorf("Expected 2 matches, got %+v", found)
	}
	json.NewDecoder(do(h, http.MethodGet, "/users/search?q=ali&limit=1", ids[2], "").Body).Decode(&found)
	if len(found) != 1 {
		t.Errorf("Expected limit to apply, got %+v", found)
	}

	store.SetStatus(context.Background(), ids[2], core.StatusOnline, time.Now())
	var online []core.User
	json.NewDecoder(do(h, http.MethodGet, "/users/online", ids[0], "").Body).Decode(&online)
	if len(online) != 1 || online[0].ID != ids[2] {
		t.Errorf("online = %+v", online)
	}
}

func TestFriends(t *testing.T) {
	store := memory.NewStore()
	ids := seed(t, store, "alice", "bob")
	alice, bob := ids[0], ids[1]
	h := setupRouter(store)

	if w := do(h, http.MethodPost, "/friends/"+bob, alice, ""); w.Code != http.StatusOK {
		t.Fatalf("add friend: expected 200, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/friends/"+alice, alice, ""); w.Code != http.StatusBadRequest {
		t.Errorf("self friend: expected 400, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/friends/ghost", alice, ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown friend: expected 404, got %d", w.Code)
	}

	var friends []core.User
	json.NewDecoder(do(h, http.MethodGet, "/friends", bob, "").Body).Decode(&friends)
	if len(friends) != 1 || friends[0].ID != alice {
		t.Errorf("bob's friends = %+v", friends)
	}

	if w := do(h, http.MethodDelete, "/friends/"+alice, bob, ""); w.Code != http.StatusOK {
		t.Errorf("remove friend: expected 200, got %d", w.Code)
	}
	json.NewDecoder(do(h, http.MethodGet, "/friends", alice, "").Body).Decode(&friends)
	if len(friends) != 0 {
		t.Errorf("Expected no friends, got %+v", friends)
	}
}

// partialStore fails the way a store without transactions can.
type partialStore struct {
	userStore
}

func (p partialStore) AddFriend(ctx context.Context, userID, friendID string) error {
	return &core.PartialFriendError{Op: "add", UserID: userID, FriendID: friendID, Err: errors.New("second write failed")}
}

func TestAddFriend_Partial(t *testing.T) {
	store := memory.NewStore()
	ids := seed(t, store, "alice", "bob")
	h := setupRouter(partialStore{store})

	w := do(h, http.MethodPost, "/friends/"+ids[1], ids[0], "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["partial"] != true {
		t.Errorf("expected partial:true, got %v", body)
	}
}
