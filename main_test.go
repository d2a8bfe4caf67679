package main

import (
	"context"
	"encoding/json"
	"fmt"
	"groupchat-server/config"
	"groupchat-server/handlers/auth"
	"groupchat-server/stores"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type emitted struct {
	target string
	event  string
}

type recordingTransport struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingTransport) Emit(connID, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{target: connID, event: event})
	return nil
}

func (r *recordingTransport) EmitRoom(room, event string, payload any) error {
	return r.Emit(room, event, payload)
}

func (r *recordingTransport) Join(connID, room string)  {}
func (r *recordingTransport) Leave(connID, room string) {}

func (r *recordingTransport) count(target, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.target == target && e.event == event {
			n++
		}
	}
	return n
}

type testClient struct {
	t     *testing.T
	srv   *httptest.Server
	token string
	id    string
}

func (c *testClient) call(method, path, body string) *http.Response {
	c.t.Helper()
	req, _ := http.NewRequest(method, c.srv.URL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func register(t *testing.T, srv *httptest.Server, name string) *testClient {
	t.Helper()
	c := &testClient{t: t, srv: srv}
	resp := c.call(http.MethodPost, "/api/register", fmt.Sprintf(`{"username":%q,"password":"pw"}`, name))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d", name, resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	c.token, c.id = body.Token, body.User.ID
	return c
}

func TestServerFlow(t *testing.T) {
	backend, err := stores.Open(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	transport := &recordingTransport{}
	a := newApp(backend, auth.NewIssuer("secret", time.Hour), transport, time.Minute)
	t.Cleanup(a.typing.Close)

	srv := httptest.NewServer(setupRouter(a, nil))
	defer srv.Close()

	alice := register(t, srv, "alice")
	bob := register(t, srv, "bob")

	if resp := alice.call(http.MethodPost, "/api/friends/"+bob.id, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("add friend: %d", resp.StatusCode)
	}

	// bob comes online on two tabs; alice hears about it once.
	ctx := context.Background()
	a.coordinator.OnConnect(ctx, bob.id, "bob-1")
	a.coordinator.OnConnect(ctx, bob.id, "bob-2")
	a.coordinator.OnConnect(ctx, alice.id, "alice-1")
	if n := transport.count("alice-1", "user_status_changed"); n != 0 {
		t.Errorf("alice connected after bob; expected no replay, got %d", n)
	}

	resp := alice.call(http.MethodPost, "/api/groups", fmt.Sprintf(`{"name":"devs","members":[%q]}`, bob.id))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create group: %d", resp.StatusCode)
	}
	var group struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&group)

	a.typing.StartTyping(ctx, bob.id, group.ID)
	if n := transport.count("alice-1", "user_typing"); n != 1 {
		t.Errorf("alice should see bob typing once, got %d", n)
	}

	if resp := bob.call(http.MethodPost, "/api/groups/"+group.ID+"/messages", `{"content":"hi"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("send message: %d", resp.StatusCode)
	}
	if n := transport.count("alice-1", "new_message"); n != 1 {
		t.Errorf("alice should get new_message once, got %d", n)
	}
	if n := transport.count("bob-2", "new_message"); n != 1 {
		t.Errorf("bob's other tab should get new_message, got %d", n)
	}
	if a.typing.IsTyping(bob.id, group.ID) {
		t.Error("sending should clear the typing indicator")
	}

	var record struct {
		Status      string   `json:"status"`
		Connections []string `json:"connections"`
	}
	json.NewDecoder(alice.call(http.MethodGet, "/api/presence/"+bob.id, "").Body).Decode(&record)
	if record.Status != "online" || len(record.Connections) != 2 {
		t.Errorf("bob's presence = %+v", record)
	}

	a.coordinator.OnDisconnect(ctx, "bob-1")
	a.coordinator.OnDisconnect(ctx, "bob-2")
	if n := transport.count("alice-1", "user_status_changed"); n != 1 {
		t.Errorf("alice should see bob go offline once, got %d", n)
	}

	if resp := (&testClient{t: t, srv: srv}).call(http.MethodGet, "/api/users/me", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous request: expected 401, got %d", resp.StatusCode)
	}
}
