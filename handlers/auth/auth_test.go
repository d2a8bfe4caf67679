package auth

import (
	"encoding/json"
	"groupchat-server/core"
	"groupchat-server/stores/memory"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIssuer_RoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	token, err := issuer.Issue(&core.User{ID: "u1", Username: "alice"})
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if claims.UserID() != "u1" || claims.Username != "alice" || claims.ID == "" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestIssuer_RejectsForeignAndExpired(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	other := NewIssuer("other", time.Hour)

	token, _ := other.Issue(&core.User{ID: "u1"})
	if _, err := issuer.Parse(token); err == nil {
		t.Error("token signed with another key should be rejected")
	}

	expired := NewIssuer("secret", -time.Minute)
	token, _ = expired.Issue(&core.User{ID: "u1"})
	if _, err := issuer.Parse(token); err == nil {
		t.Error("expired token should be rejected")
	}

	if _, err := issuer.Parse("garbage"); err == nil {
		t.Error("garbage should be rejected")
	}
}

func TestIssuer_Ephemeral(t *testing.T) {
	issuer := NewIssuer("", time.Hour)
	if issuer.Configured() {
		t.Error("empty secret should not count as configured")
	}
	token, _ := issuer.Issue(&core.User{ID: "u1"})
	if _, err := issuer.Parse(token); err != nil {
		t.Errorf("ephemeral issuer should accept its own tokens: %v", err)
	}
}

func post(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	store := memory.NewStore()
	issuer := NewIssuer("secret", time.Hour)
	register := HandleRegister(store, issuer)
	login := HandleLogin(store, issuer)

	w := post(t, register, `{"username":"alice","password":"pw"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string          `json:"token"`
		User  json.RawMessage `json:"user"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Token == "" {
		t.Error("register should return a token")
	}
	if strings.Contains(string(resp.User), "password") {
		t.Errorf("password hash leaked: %s", resp.User)
	}

	if w := post(t, register, `{"username":"ALICE","password":"pw"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate register: expected 409, got %d", w.Code)
	}
	if w := post(t, register, `{"username":" ","password":"pw"}`); w.Code != http.StatusBadRequest {
		t.Errorf("blank username: expected 400, got %d", w.Code)
	}

	if w := post(t, login, `{"username":"alice","password":"pw"}`); w.Code != http.StatusOK {
		t.Errorf("login: expected 200, got %d", w.Code)
	}
	if w := post(t, login, `{"username":"alice","password":"nope"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", w.Code)
	}
	if w := post(t, login, `{"username":"bob","password":"pw"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", w.Code)
	}
}
