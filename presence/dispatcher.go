package presence

import (
	"context"
	"groupchat-server/core"

	"github.com/sirupsen/logrus"
)

// Outbound event names.
const (
	EventUserStatusChanged = "user_status_changed"
	EventUserTyping        = "user_typing"
	EventJoinedGroup       = "joined_group"
	EventLeftGroup         = "left_group"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventNewMessage        = "new_message"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
)

// Transport is the real-time layer the presence package pushes through.
// Connections are addressed by id, group channels by room name.
type Transport interface {
	Emit(connID, event string, payload any) error
	EmitRoom(room, event string, payload any) error
	Join(connID, room string)
	Leave(connID, room string)
}

// GroupRoom names the broadcast channel of a group.
func GroupRoom(groupID string) string {
	return "group:" + groupID
}

// Dispatcher resolves an audience to live connections and emits to each one.
// Delivery is best effort: failed emits are logged and never retried.
type Dispatcher struct {
	registry   *Registry
	membership core.MembershipStore
	transport  Transport
}

func NewDispatcher(registry *Registry, membership core.MembershipStore, transport Transport) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		membership: membership,
		transport:  transport,
	}
}

// ToUser emits to every live connection of the user and returns how many
// connections were attempted.
func (d *Dispatcher) ToUser(userID, event string, payload any) int {
	conns := d.registry.ConnectionsFor(userID)
	for _, connID := range conns {
		if err := d.transport.Emit(connID, event, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id":       userID,
				"connection_id": connID,
				"event":         event,
			}).WithError(err).Warn("Failed to emit event")
		}
	}
	return len(conns)
}

// ToUsers emits to each listed user except exclude.
func (d *Dispatcher) ToUsers(userIDs []string, exclude, event string, payload any) int {
	sent := 0
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if userID == exclude {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		sent += d.ToUser(userID, event, payload)
	}
	return sent
}

// ToGroup emits to every member of the group except exclude (pass "" to
// include everyone).
func (d *Dispatcher) ToGroup(ctx context.Context, groupID, event string, payload any, exclude string) error {
	members, err := d.membership.GroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	d.ToUsers(members, exclude, event, payload)
	return nil
}

// ToFriends emits to every friend of the user.
func (d *Dispatcher) ToFriends(ctx context.Context, userID, event string, payload any) error {
	friends, err := d.membership.Friends(ctx, userID)
	if err != nil {
		return err
	}
	d.ToUsers(friends, userID, event, payload)
	return nil
}

// ToRoom emits on a group channel. Only sockets subscribed to the room receive it.
func (d *Dispatcher) ToRoom(groupID, event string, payload any) {
	if err := d.transport.EmitRoom(GroupRoom(groupID), event, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"group_id": groupID,
			"event":    event,
		}).WithError(err).Warn("Failed to emit room event")
	}
}
