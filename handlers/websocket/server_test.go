package websocket

import (
	"encoding/json"
	"groupchat-server/core"
	"groupchat-server/handlers/auth"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
)

func startSocketServer(t *testing.T, h *ChatHandler) *httptest.Server {
	t.Helper()
	srv := NewServer(nil)
	Attach(srv, h)

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", srv.ServeHandler(nil))
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close(nil)
		ts.Close()
	})
	return ts
}

func readFrame(t *testing.T, conn *gws.Conn) (string, error) {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		frame := string(data)
		// engine.io ping
		if frame == "2" {
			conn.WriteMessage(gws.TextMessage, []byte("3"))
			continue
		}
		return frame, nil
	}
}

// dialSocket opens an engine.io v4 websocket, sends the socket.io CONNECT
// packet and returns the socket id from the server's CONNECT answer.
func dialSocket(t *testing.T, ts *httptest.Server, query, auth string) (*gws.Conn, string) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket.io/?EIO=4&transport=websocket" + query
	conn, _, err := gws.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	open, err := readFrame(t, conn)
	if err != nil || !strings.HasPrefix(open, "0") {
		t.Fatalf("expected engine.io open packet, got %q, %v", open, err)
	}
	if err := conn.WriteMessage(gws.TextMessage, []byte("40"+auth)); err != nil {
		t.Fatalf("sending CONNECT failed: %v", err)
	}

	frame, err := readFrame(t, conn)
	if err != nil || !strings.HasPrefix(frame, "40") {
		t.Fatalf("expected CONNECT answer, got %q, %v", frame, err)
	}
	var answer struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "40")), &answer); err != nil || answer.Sid == "" {
		t.Fatalf("bad CONNECT answer %q: %v", frame, err)
	}
	return conn, answer.Sid
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func issueToken(t *testing.T, issuer *auth.Issuer, userID string) string {
	t.Helper()
	token, err := issuer.Issue(&core.User{ID: userID})
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	return token
}

func TestAttach_CloseDuringSlowConnect(t *testing.T) {
	h, p, _, issuer := newHandler(true)
	p.delay = 300 * time.Millisecond
	ts := startSocketServer(t, h)

	conn, sid := dialSocket(t, ts, "", `{"token":"`+issueToken(t, issuer, "alice")+`"}`)
	conn.Close()

	eventually(t, "the connection to be released", func() bool {
		connects, disconnects, _ := p.snapshot()
		return slices.Contains(connects, "alice/"+sid) && slices.Contains(disconnects, sid)
	})
	if _, ok := h.UserFor(sid); ok {
		t.Error("session of a closed socket should be gone")
	}
}

func TestAttach_EventDuringSlowConnect(t *testing.T) {
	h, p, _, issuer := newHandler(true)
	p.delay = 300 * time.Millisecond
	ts := startSocketServer(t, h)

	conn, _ := dialSocket(t, ts, "", `{"token":"`+issueToken(t, issuer, "alice")+`"}`)
	if err := conn.WriteMessage(gws.TextMessage, []byte(`421["join_group",{"group_id":"g1"}]`)); err != nil {
		t.Fatalf("sending join_group failed: %v", err)
	}

	frame, err := readFrame(t, conn)
	if err != nil {
		t.Fatalf("reading ack failed: %v", err)
	}
	if !strings.HasPrefix(frame, "431") {
		t.Fatalf("expected ack for packet 1, got %q", frame)
	}
	var ack []map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "431")), &ack); err != nil || len(ack) != 1 {
		t.Fatalf("bad ack %q: %v", frame, err)
	}
	if ack[0]["status"] != "ok" || ack[0]["group_id"] != "g1" {
		t.Errorf("ack = %v", ack[0])
	}

	_, _, joins := p.snapshot()
	if len(joins) != 1 || joins[0] != "alice@g1" {
		t.Errorf("joins = %v", joins)
	}
}

func TestAttach_QueryToken(t *testing.T) {
	h, p, _, issuer := newHandler(true)
	ts := startSocketServer(t, h)

	_, sid := dialSocket(t, ts, "&token="+issueToken(t, issuer, "alice"), "")

	eventually(t, "the connection to be bound", func() bool {
		connects, _, _ := p.snapshot()
		return slices.Contains(connects, "alice/"+sid)
	})
}

func TestAttach_RejectsMissingToken(t *testing.T) {
	h, p, _, _ := newHandler(true)
	ts := startSocketServer(t, h)

	conn, _ := dialSocket(t, ts, "", "")
	for {
		frame, err := readFrame(t, conn)
		if err != nil || strings.HasPrefix(frame, "41") {
			break
		}
	}

	connects, _, _ := p.snapshot()
	if len(connects) != 0 {
		t.Errorf("no connection should be bound, got %v", connects)
	}
}
