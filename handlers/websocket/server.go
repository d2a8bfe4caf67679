package websocket

import (
	"net/url"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// NewServer creates the socket.io server. Without configured origins only
// localhost pages may connect.
func NewServer(allowedOrigins []string) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(1000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)

	origins := []any{localhostOrigin}
	for _, origin := range allowedOrigins {
		origins = append(origins, origin)
	}
	opts.SetCors(&types.Cors{
		Origin:      origins,
		Credentials: true,
	})
	return socketio.NewServer(nil, opts)
}

// Attach routes socket events of srv into h. Listeners are registered before
// the connection is bound so that a client closing or sending events during
// the presence round trips is not lost; events wait until binding is done.
func Attach(srv *socketio.Server, h *ChatHandler) {
	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		connID := string(socket.Id())
		ready := make(chan struct{})

		// settle releases the presence state of a socket that went away while
		// it was being bound. The disconnect listener may have run too early
		// to see the registration.
		settle := func() {
			if !socket.Connected() {
				h.Disconnect(connID)
			}
		}

		on := func(event string, fn func(datas ...any)) {
			socket.On(event, func(datas ...any) {
				<-ready
				fn(datas...)
			})
		}

		socket.On("disconnect", func(...any) {
			go func() {
				<-ready
				h.Disconnect(connID)
			}()
			socket.RemoveAllListeners("")
		})

		on(EventUserOnline, func(datas ...any) {
			_, args := extractAck(datas)
			if err := h.UserOnline(connID, args); err != nil {
				if h.requireToken {
					socket.Disconnect(true)
				}
				return
			}
			settle()
		})

		on(EventJoinGroup, func(datas ...any) {
			ack, args := extractAck(datas)
			groupID, err := h.JoinGroup(connID, args)
			respond(ack, groupID, err)
		})

		on(EventLeaveGroup, func(datas ...any) {
			ack, args := extractAck(datas)
			groupID, err := h.LeaveGroup(connID, args)
			respond(ack, groupID, err)
		})

		on(EventTypingStart, func(datas ...any) {
			_, args := extractAck(datas)
			h.Typing(connID, EventTypingStart, args, true)
		})

		on(EventTypingStop, func(datas ...any) {
			_, args := extractAck(datas)
			h.Typing(connID, EventTypingStop, args, false)
		})

		on(EventTyping, func(datas ...any) {
			_, args := extractAck(datas)
			h.TypingToggle(connID, args)
		})

		err := h.Connect(connID, handshakeToken(socket.Handshake()))
		close(ready)
		if err != nil {
			socket.Disconnect(true)
			return
		}
		settle()
	})
}

// handshakeToken reads the token from the auth payload, falling back to the
// ?token= query parameter.
func handshakeToken(hs *socketio.Handshake) string {
	if hs == nil {
		return ""
	}
	if authData, ok := hs.Auth.(map[string]any); ok {
		if token, ok := authData["token"].(string); ok && token != "" {
			return token
		}
	}
	u, err := url.Parse(hs.Url)
	if err != nil {
		logrus.WithError(err).Debug("Unparseable handshake url")
		return ""
	}
	return u.Query().Get("token")
}
