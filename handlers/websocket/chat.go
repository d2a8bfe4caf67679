package websocket

import (
	"context"
	"errors"
	"fmt"
	"groupchat-server/handlers/auth"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"
)

// Inbound event names.
const (
	EventUserOnline  = "user_online"
	EventJoinGroup   = "join_group"
	EventLeaveGroup  = "leave_group"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventTyping      = "typing"
)

const eventTimeout = 5 * time.Second

var (
	errNoIdentity     = errors.New("no user identity for connection")
	errIdentityClash  = errors.New("user_id does not match the authenticated user")
	errMissingGroupID = errors.New("group_id is required")
	errNotMember      = errors.New("not a member of this group")
)

type (
	Presence interface {
		OnConnect(ctx context.Context, userID, connID string) error
		OnDisconnect(ctx context.Context, connID string) (string, bool)
		JoinGroup(ctx context.Context, userID, connID, groupID string) bool
		LeaveGroup(ctx context.Context, userID, connID, groupID string) bool
	}

	Typing interface {
		StartTyping(ctx context.Context, userID, groupID string) bool
		StopTyping(ctx context.Context, userID, groupID string) bool
	}

	TokenParser interface {
		Parse(token string) (*auth.AppClaims, error)
	}
)

// ChatHandler turns socket events into presence operations. It is transport
// agnostic; Attach wires it to a socket.io server.
type ChatHandler struct {
	presence Presence
	typing   Typing
	tokens   TokenParser
	// requireToken rejects connections that cannot present a valid token.
	// Without it a client may identify itself through user_online.
	requireToken bool

	sessions cmap.ConcurrentMap[string, string]
}

func NewChatHandler(presence Presence, typing Typing, tokens TokenParser, requireToken bool) *ChatHandler {
	return &ChatHandler{
		presence:     presence,
		typing:       typing,
		tokens:       tokens,
		requireToken: requireToken,
		sessions:     cmap.New[string](),
	}
}

// Connect handles a new connection. A non-nil error means the connection
// must be closed.
func (h *ChatHandler) Connect(connID, token string) error {
	log := logrus.WithField("connection_id", connID)
	if token == "" {
		if h.requireToken {
			log.Info("Rejecting connection without token")
			return errNoIdentity
		}
		log.Debug("Connection waiting for user_online")
		return nil
	}

	claims, err := h.tokens.Parse(token)
	if err != nil {
		log.WithError(err).Info("Rejecting connection with invalid token")
		return fmt.Errorf("invalid token: %w", err)
	}
	return h.bind(connID, claims.UserID())
}

// UserOnline binds a connection to the user named in the payload. When the
// connection already carries an identity the payload may only repeat it.
func (h *ChatHandler) UserOnline(connID string, args []any) error {
	claimed := field(args, "user_id")
	if current, ok := h.sessions.Get(connID); ok {
		if claimed != "" && claimed != current {
			logrus.WithFields(logrus.Fields{
				"connection_id": connID,
				"user_id":       current,
				"claimed":       claimed,
			}).Warn("Dropping user_online for another user")
			return errIdentityClash
		}
		return nil
	}

	if h.requireToken || claimed == "" {
		logrus.WithField("connection_id", connID).Info("Dropping user_online without identity")
		return errNoIdentity
	}
	return h.bind(connID, claimed)
}

func (h *ChatHandler) bind(connID, userID string) error {
	h.sessions.Set(connID, userID)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := h.presence.OnConnect(ctx, userID, connID); err != nil {
		h.sessions.Remove(connID)
		return err
	}
	return nil
}

// identity resolves the acting user of an event.
func (h *ChatHandler) identity(connID string, args []any) (string, error) {
	claimed := field(args, "user_id")
	userID, ok := h.sessions.Get(connID)
	if !ok {
		return "", errNoIdentity
	}
	if claimed != "" && claimed != userID {
		return "", errIdentityClash
	}
	return userID, nil
}

func (h *ChatHandler) dropped(connID, event string, err error) {
	logrus.WithFields(logrus.Fields{
		"connection_id": connID,
		"event":         event,
	}).WithError(err).Info("Dropping event")
}

func (h *ChatHandler) groupEvent(connID, event string, args []any) (userID, groupID string, err error) {
	if userID, err = h.identity(connID, args); err != nil {
		h.dropped(connID, event, err)
		return "", "", err
	}
	if groupID = field(args, "group_id"); groupID == "" {
		h.dropped(connID, event, errMissingGroupID)
		return "", "", errMissingGroupID
	}
	return userID, groupID, nil
}

func (h *ChatHandler) JoinGroup(connID string, args []any) (string, error) {
	userID, groupID, err := h.groupEvent(connID, EventJoinGroup, args)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if !h.presence.JoinGroup(ctx, userID, connID, groupID) {
		return groupID, errNotMember
	}
	return groupID, nil
}

func (h *ChatHandler) LeaveGroup(connID string, args []any) (string, error) {
	userID, groupID, err := h.groupEvent(connID, EventLeaveGroup, args)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if !h.presence.LeaveGroup(ctx, userID, connID, groupID) {
		return groupID, errNotMember
	}
	return groupID, nil
}

// Typing starts or stops the typing indicator. Non-members are ignored by
// the typing coordinator itself.
func (h *ChatHandler) Typing(connID, event string, args []any, typing bool) {
	userID, groupID, err := h.groupEvent(connID, event, args)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if typing {
		h.typing.StartTyping(ctx, userID, groupID)
	} else {
		h.typing.StopTyping(ctx, userID, groupID)
	}
}

// TypingToggle handles the single "typing" event, where is_typing defaults
// to true.
func (h *ChatHandler) TypingToggle(connID string, args []any) {
	typing := true
	if m, ok := payload(args); ok {
		if v, ok := m["is_typing"].(bool); ok {
			typing = v
		}
	}
	h.Typing(connID, EventTyping, args, typing)
}

func (h *ChatHandler) Disconnect(connID string) {
	h.sessions.Remove(connID)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if userID, ok := h.presence.OnDisconnect(ctx, connID); ok {
		logrus.WithFields(logrus.Fields{
			"user_id":       userID,
			"connection_id": connID,
		}).Debug("Connection closed")
	}
}

// UserFor returns the user bound to a connection.
func (h *ChatHandler) UserFor(connID string) (string, bool) {
	return h.sessions.Get(connID)
}

func payload(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]any)
	return m, ok
}

// field reads key from an object payload. A bare string payload is taken as
// the group id.
func field(args []any, key string) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case map[string]any:
		s, _ := v[key].(string)
		return s
	case string:
		if key == "group_id" {
			return v
		}
	}
	return ""
}
