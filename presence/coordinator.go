package presence

import (
	"context"
	"errors"
	"groupchat-server/core"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrNoIdentity = errors.New("connection has no user identity")

// Record is the presence view of one user. Records are created on the first
// connection and kept after the user goes offline.
type Record struct {
	UserID      string      `json:"user_id"`
	Status      core.Status `json:"status"`
	Connections []string    `json:"connections"`
	LastActive  time.Time   `json:"last_active"`
}

type Deps struct {
	Registry   *Registry
	Dispatcher *Dispatcher
	Membership core.MembershipStore
	// Status persists online/offline transitions. Optional.
	Status    core.StatusStore
	Transport Transport
	// Typing is cleared when a user goes offline. Optional.
	Typing *Typing
}

// Coordinator owns the online/offline transition of every user. Only the
// 0->1 and 1->0 edges of a user's connection count notify friends.
type Coordinator struct {
	registry   *Registry
	dispatcher *Dispatcher
	membership core.MembershipStore
	status     core.StatusStore
	transport  Transport
	typing     *Typing
	locks      *keyedMutex
	now        func() time.Time

	mu         sync.RWMutex
	lastActive map[string]time.Time
}

func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		registry:   d.Registry,
		dispatcher: d.Dispatcher,
		membership: d.Membership,
		status:     d.Status,
		transport:  d.Transport,
		typing:     d.Typing,
		locks:      newKeyedMutex(),
		now:        time.Now,
		lastActive: make(map[string]time.Time),
	}
}

// OnConnect registers the connection and subscribes it to the rooms of the
// user's groups. The user's friends hear about it only if this is the first
// live connection.
func (c *Coordinator) OnConnect(ctx context.Context, userID, connID string) error {
	if userID == "" || connID == "" {
		return ErrNoIdentity
	}

	unlock := c.locks.Lock(userID)
	defer unlock()

	first := c.registry.Register(connID, userID)
	now := c.now()
	c.touch(userID, now)

	log := logrus.WithFields(logrus.Fields{
		"user_id":       userID,
		"connection_id": connID,
	})

	if first {
		log.Info("User online")
		c.transition(ctx, userID, core.StatusOnline, now)
	} else {
		log.Debug("Additional connection for online user")
	}

	c.subscribeGroups(ctx, userID, connID)
	return nil
}

// OnDisconnect drops the connection. It returns the owning user, or false when
// the connection was unknown or already gone.
func (c *Coordinator) OnDisconnect(ctx context.Context, connID string) (string, bool) {
	userID, ok := c.registry.UserFor(connID)
	if !ok {
		return "", false
	}

	unlock := c.locks.Lock(userID)
	defer unlock()

	owner, last, ok := c.registry.Unregister(connID)
	if !ok {
		return "", false
	}

	now := c.now()
	c.touch(owner, now)

	log := logrus.WithFields(logrus.Fields{
		"user_id":       owner,
		"connection_id": connID,
	})

	if !last {
		log.Debug("Connection closed, user still online")
		return owner, true
	}

	log.Info("User offline")
	c.transition(ctx, owner, core.StatusOffline, now)
	if c.typing != nil {
		c.typing.ClearUser(ctx, owner)
	}
	return owner, true
}

// JoinGroup subscribes one connection to a group room. Non-members are
// ignored.
func (c *Coordinator) JoinGroup(ctx context.Context, userID, connID, groupID string) bool {
	unlock := c.locks.Lock(userID)
	defer unlock()

	if !c.isMember(ctx, userID, groupID) {
		return false
	}

	c.transport.Join(connID, GroupRoom(groupID))
	c.emit(connID, EventJoinedGroup, GroupRef{GroupID: groupID})
	c.dispatcher.ToRoom(groupID, EventUserJoined, UserRef{UserID: userID})
	return true
}

// LeaveGroup unsubscribes one connection from a group room. Non-members are
// ignored.
func (c *Coordinator) LeaveGroup(ctx context.Context, userID, connID, groupID string) bool {
	unlock := c.locks.Lock(userID)
	defer unlock()

	if !c.isMember(ctx, userID, groupID) {
		return false
	}

	c.transport.Leave(connID, GroupRoom(groupID))
	c.emit(connID, EventLeftGroup, GroupRef{GroupID: groupID})
	c.dispatcher.ToRoom(groupID, EventUserLeft, UserRef{UserID: userID})
	return true
}

// MemberAdded subscribes every live connection of a new member to the group
// room. It holds the member's lock so a connection being set up cannot
// subscribe from a stale group list.
func (c *Coordinator) MemberAdded(ctx context.Context, groupID, userID string) {
	unlock := c.locks.Lock(userID)
	defer unlock()

	room := GroupRoom(groupID)
	for _, connID := range c.registry.ConnectionsFor(userID) {
		c.transport.Join(connID, room)
		c.emit(connID, EventJoinedGroup, GroupRef{GroupID: groupID})
	}
	c.dispatcher.ToRoom(groupID, EventUserJoined, UserRef{UserID: userID})
}

// MemberRemoved takes every live connection of a removed member out of the
// group room.
func (c *Coordinator) MemberRemoved(ctx context.Context, groupID, userID string) {
	unlock := c.locks.Lock(userID)
	defer unlock()

	room := GroupRoom(groupID)
	for _, connID := range c.registry.ConnectionsFor(userID) {
		c.transport.Leave(connID, room)
		c.emit(connID, EventLeftGroup, GroupRef{GroupID: groupID})
	}
	if c.typing != nil {
		c.typing.forget(userID, groupID)
	}
	c.dispatcher.ToRoom(groupID, EventUserLeft, UserRef{UserID: userID})
}

func (c *Coordinator) IsOnline(userID string) bool {
	return c.registry.IsOnline(userID)
}

func (c *Coordinator) OnlineUsers() []string {
	return c.registry.OnlineUsers()
}

// UserRecord returns the presence record of a user seen since start-up.
func (c *Coordinator) UserRecord(userID string) (Record, bool) {
	c.mu.RLock()
	last, ok := c.lastActive[userID]
	c.mu.RUnlock()
	if !ok {
		return Record{}, false
	}

	conns := c.registry.ConnectionsFor(userID)
	status := core.StatusOffline
	if len(conns) > 0 {
		status = core.StatusOnline
	}
	return Record{
		UserID:      userID,
		Status:      status,
		Connections: conns,
		LastActive:  last,
	}, true
}

func (c *Coordinator) touch(userID string, at time.Time) {
	c.mu.Lock()
	c.lastActive[userID] = at
	c.mu.Unlock()
}

// transition persists the new status and tells the user's friends. Both steps
// are best effort.
func (c *Coordinator) transition(ctx context.Context, userID string, status core.Status, at time.Time) {
	log := logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"status":  status,
	})

	if c.status != nil {
		if err := c.status.SetStatus(ctx, userID, status, at); err != nil {
			log.WithError(err).Warn("Failed to persist user status")
		}
	}

	err := c.dispatcher.ToFriends(ctx, userID, EventUserStatusChanged, StatusChanged{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to notify friends of status change")
	}
}

func (c *Coordinator) subscribeGroups(ctx context.Context, userID, connID string) {
	groups, err := c.membership.UserGroups(ctx, userID)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Warn("Failed to load user groups, skipping room subscription")
		return
	}
	for _, groupID := range groups {
		c.transport.Join(connID, GroupRoom(groupID))
	}
}

func (c *Coordinator) isMember(ctx context.Context, userID, groupID string) bool {
	if userID == "" || groupID == "" {
		return false
	}
	members, err := c.membership.GroupMembers(ctx, groupID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":  userID,
			"group_id": groupID,
		}).WithError(err).Warn("Failed to load group members")
		return false
	}
	for _, member := range members {
		if member == userID {
			return true
		}
	}
	return false
}

func (c *Coordinator) emit(connID, event string, payload any) {
	if err := c.transport.Emit(connID, event, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"connection_id": connID,
			"event":         event,
		}).WithError(err).Warn("Failed to emit event")
	}
}
