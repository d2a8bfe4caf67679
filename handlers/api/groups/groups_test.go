package groups

import (
	"context"
	"encoding/json"
	"fmt"
	"groupchat-server/core"
	"groupchat-server/middleware"
	"groupchat-server/stores/memory"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type fakeSync struct {
	added   []string
	removed []string
}

func (f *fakeSync) MemberAdded(ctx context.Context, groupID, userID string) {
	f.added = append(f.added, userID)
}

func (f *fakeSync) MemberRemoved(ctx context.Context, groupID, userID string) {
	f.removed = append(f.removed, userID)
}

func setupRouter(store core.GroupStore, sync RoomSync) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithUserID(r.Context(), r.Header.Get("X-User"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Post("/groups", HandleCreate(store, sync))
	r.Get("/groups", HandleList(store))
	r.Get("/groups/search", HandleSearch(store))
	r.Route("/groups/{groupID}", func(r chi.Router) {
		r.Get("/", HandleGet(store))
		r.Put("/", HandleUpdate(store))
		r.Delete("/", HandleDelete(store, sync))
		r.Post("/members", HandleAddMember(store, sync))
		r.Delete("/members/{userID}", HandleRemoveMember(store, sync))
		r.Post("/admins", HandleAddAdmin(store))
		r.Delete("/admins/{userID}", HandleRemoveAdmin(store))
	})
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

func createGroup(t *testing.T, h http.Handler, user, body string) core.Group {
	t.Helper()
	w := do(h, http.MethodPost, "/groups", user, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create group: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var g core.Group
	if err := json.NewDecoder(w.Body).Decode(&g); err != nil {
		t.Fatalf("decode group: %v", err)
	}
	return g
}

func TestHandleCreate(t *testing.T) {
	sync := &fakeSync{}
	h := setupRouter(memory.NewStore(), sync)

	g := createGroup(t, h, "alice", `{"name":"devs","members":["bob"]}`)
	if g.CreatorID != "alice" || !g.IsAdmin("alice") || !g.IsMember("bob") {
		t.Errorf("unexpected group %+v", g)
	}
	if len(sync.added) != 2 {
		t.Errorf("Expected rooms synced for both members, got %v", sync.added)
	}

	if w := do(h, http.MethodPost, "/groups", "alice", `{"name":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("blank name: expected 400, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/groups", "alice", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", w.Code)
	}
}

func TestHandleGet_MembersOnly(t *testing.T) {
	h := setupRouter(memory.NewStore(), &fakeSync{})
	g := createGroup(t, h, "alice", `{"name":"devs"}`)

	if w := do(h, http.MethodGet, "/groups/"+g.ID+"/", "alice", ""); w.Code != http.StatusOK {
		t.Errorf("member: expected 200, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/groups/"+g.ID+"/", "mallory", ""); w.Code != http.StatusForbidden {
		t.Errorf("outsider: expected 403, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/groups/missing/", "alice", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", w.Code)
	}
}

func TestHandleUpdate_AdminsOnly(t *testing.T) {
	h := setupRouter(memory.NewStore(), &fakeSync{})
	g := createGroup(t, h, "alice", `{"name":"devs","members":["bob"]}`)

	if w := do(h, http.MethodPut, "/groups/"+g.ID+"/", "bob", `{"name":"x"}`); w.Code != http.StatusForbidden {
		t.Errorf("non-admin: expected 403, got %d", w.Code)
	}

	w := do(h, http.MethodPut, "/groups/"+g.ID+"/", "alice", `{"description":"all things go"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", w.Code)
	}
	var updated core.Group
	json.NewDecoder(w.Body).Decode(&updated)
	if updated.Name != "devs" || updated.Description != "all things go" {
		t.Errorf("unexpected group %+v", updated)
	}
}

func TestMembers(t *testing.T) {
	sync := &fakeSync{}
	h := setupRouter(memory.NewStore(), sync)
	g := createGroup(t, h, "alice", `{"name":"devs"}`)
	sync.added = nil

	if w := do(h, http.MethodPost, "/groups/"+g.ID+"/members", "alice", `{"user_id":"bob"}`); w.Code != http.StatusOK {
		t.Fatalf("add member: expected 200, got %d", w.Code)
	}
	if len(sync.added) != 1 || sync.added[0] != "bob" {
		t.Errorf("MemberAdded not called for bob: %v", sync.added)
	}

	if w := do(h, http.MethodPost, "/groups/"+g.ID+"/members", "bob", `{"user_id":"carol"}`); w.Code != http.StatusForbidden {
		t.Errorf("non-admin add: expected 403, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/groups/"+g.ID+"/members", "carol", `{"user_id":"carol"}`); w.Code != http.StatusOK {
		t.Errorf("self-join public group: expected 200, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/groups/"+g.ID+"/members", "alice", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing user_id: expected 400, got %d", w.Code)
	}

	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/members/alice", "alice", ""); w.Code != http.StatusForbidden {
		t.Errorf("remove creator: expected 403, got %d", w.Code)
	}
	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/members/carol", "bob", ""); w.Code != http.StatusForbidden {
		t.Errorf("non-admin remove: expected 403, got %d", w.Code)
	}
	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/members/bob", "bob", ""); w.Code != http.StatusOK {
		t.Errorf("leave: expected 200, got %d", w.Code)
	}
	if len(sync.removed) != 1 || sync.removed[0] != "bob" {
		t.Errorf("MemberRemoved not called for bob: %v", sync.removed)
	}
	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/members/bob", "alice", ""); w.Code != http.StatusNotFound {
		t.Errorf("remove non-member: expected 404, got %d", w.Code)
	}
}

func TestPrivateGroupRejectsSelfJoin(t *testing.T) {
	h := setupRouter(memory.NewStore(), &fakeSync{})
	g := createGroup(t, h, "alice", `{"name":"secret","is_private":true}`)

	if w := do(h, http.MethodPost, "/groups/"+g.ID+"/members", "carol", `{"user_id":"carol"}`); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestAdmins(t *testing.T) {
	h := setupRouter(memory.NewStore(), &fakeSync{})
	g := createGroup(t, h, "alice", `{"name":"devs","members":["bob"]}`)

	if w := do(h, http.MethodPost, "/groups/"+g.ID+"/admins", "alice", `{"user_id":"carol"}`); w.Code != http.StatusForbidden {
		t.Errorf("promote non-member: expected 403, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/groups/"+g.ID+"/admins", "alice", `{"user_id":"bob"}`); w.Code != http.StatusOK {
		t.Errorf("promote: expected 200, got %d", w.Code)
	}
	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/admins/alice", "bob", ""); w.Code != http.StatusForbidden {
		t.Errorf("demote creator: expected 403, got %d", w.Code)
	}
	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/admins/bob", "alice", ""); w.Code != http.StatusOK {
		t.Errorf("demote: expected 200, got %d", w.Code)
	}
}

func TestHandleDelete(t *testing.T) {
	sync := &fakeSync{}
	h := setupRouter(memory.NewStore(), sync)
	g := createGroup(t, h, "alice", `{"name":"devs","members":["bob"]}`)

	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/", "bob", ""); w.Code != http.StatusForbidden {
		t.Errorf("non-creator: expected 403, got %d", w.Code)
	}
	if w := do(h, http.MethodDelete, "/groups/"+g.ID+"/", "alice", ""); w.Code != http.StatusNoContent {
		t.Fatalf("creator: expected 204, got %d", w.Code)
	}
	if len(sync.removed) != 2 {
		t.Errorf("Expected both members unsubscribed, got %v", sync.removed)
	}
	if w := do(h, http.MethodGet, "/groups/"+g.ID+"/", "alice", ""); w.Code != http.StatusNotFound {
		t.Errorf("after delete: expected 404, got %d", w.Code)
	}
}

func TestListAndSearch(t *testing.T) {
	h := setupRouter(memory.NewStore(), &fakeSync{})
	for i := 0; i < 3; i++ {
		createGroup(t, h, "alice", fmt.Sprintf(`{"name":"gophers %d"}`, i))
	}
	createGroup(t, h, "bob", `{"name":"hidden gophers","is_private":true}`)

	var mine []core.Group
	json.NewDecoder(do(h, http.MethodGet, "/groups", "alice", "").Body).Decode(&mine)
	if len(mine) != 3 {
		t.Errorf("Expected 3 groups for alice, got %d", len(mine))
	}

	var found []core.Group
	json.NewDecoder(do(h, http.MethodGet, "/groups/search?q=gophers", "carol", "").Body).Decode(&found)
	if len(found) != 3 {
		t.Errorf("Expected 3 public groups, got %d", len(found))
	}
}
