package websocket

import (
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Transport pushes presence events through socket.io. Every socket sits in a
// room named after its own id, which is how single connections are addressed.
type Transport struct {
	srv *socketio.Server
}

func NewTransport(srv *socketio.Server) *Transport {
	return &Transport{srv: srv}
}

func (t *Transport) Emit(connID, event string, payload any) error {
	return t.srv.To(socketio.Room(connID)).Emit(event, payload)
}

func (t *Transport) EmitRoom(room, event string, payload any) error {
	return t.srv.To(socketio.Room(room)).Emit(event, payload)
}

func (t *Transport) Join(connID, room string) {
	t.srv.In(socketio.Room(connID)).SocketsJoin(socketio.Room(room))
}

func (t *Transport) Leave(connID, room string) {
	t.srv.In(socketio.Room(connID)).SocketsLeave(socketio.Room(room))
}
