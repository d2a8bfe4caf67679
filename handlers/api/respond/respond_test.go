package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"groupchat-server/core"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("group g: %w", core.ErrNotFound), http.StatusNotFound},
		{core.ErrForbidden, http.StatusForbidden},
		{core.ErrConflict, http.StatusConflict},
		{&core.PartialFriendError{Op: "add", UserID: "a", FriendID: "b", Err: errors.New("x")}, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		Error(w, httptest.NewRequest(http.MethodGet, "/", nil), tc.err, "Failed")
		if w.Code != tc.code {
			t.Errorf("Error(%v) = %d, want %d", tc.err, w.Code, tc.code)
		}
	}
}

func TestError_PartialBody(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, httptest.NewRequest(http.MethodPost, "/", nil),
		&core.PartialFriendError{Op: "add", UserID: "a", FriendID: "b", Err: errors.New("x")}, "Failed to add friend")

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["partial"] != true {
		t.Errorf("expected partial:true, got %v", body)
	}
}
