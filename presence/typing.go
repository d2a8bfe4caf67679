package presence

import (
	"context"
	"groupchat-server/core"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"
)

// DefaultTypingTTL bounds how long a typing indicator survives without a
// refresh or an explicit stop.
const DefaultTypingTTL = 5 * time.Second

type typingRecord struct {
	userID  string
	groupID string
	timer   *time.Timer
}

// Typing tracks ephemeral "is typing" state per (user, group) pair and
// broadcasts changes to the other members of the group.
type Typing struct {
	membership core.MembershipStore
	dispatcher *Dispatcher
	ttl        time.Duration
	records    cmap.ConcurrentMap[string, *typingRecord]
}

// NewTyping creates a typing coordinator. A ttl of zero disables expiry.
func NewTyping(membership core.MembershipStore, dispatcher *Dispatcher, ttl time.Duration) *Typing {
	return &Typing{
		membership: membership,
		dispatcher: dispatcher,
		ttl:        ttl,
		records:    cmap.New[*typingRecord](),
	}
}

func typingKey(userID, groupID string) string {
	return groupID + "/" + userID
}

// StartTyping records the user as typing in the group and tells the other
// members. Non-members are dropped silently.
func (t *Typing) StartTyping(ctx context.Context, userID, groupID string) bool {
	members, ok := t.memberAudience(ctx, userID, groupID)
	if !ok {
		return false
	}

	// The timer is armed under the shard lock so expire always finds the
	// record it was created for.
	t.records.Upsert(typingKey(userID, groupID), nil, func(exist bool, old, _ *typingRecord) *typingRecord {
		if exist && old.timer != nil {
			old.timer.Stop()
		}
		rec := &typingRecord{userID: userID, groupID: groupID}
		if t.ttl > 0 {
			rec.timer = time.AfterFunc(t.ttl, func() { t.expire(rec) })
		}
		return rec
	})

	t.broadcast(members, userID, groupID, true)
	return true
}

// StopTyping clears the record whether or not one existed and tells the same
// audience StartTyping would have.
func (t *Typing) StopTyping(ctx context.Context, userID, groupID string) bool {
	t.forget(userID, groupID)

	members, ok := t.memberAudience(ctx, userID, groupID)
	if !ok {
		return false
	}
	t.broadcast(members, userID, groupID, false)
	return true
}

// MessageSent ends the sender's typing indicator in the group, if any.
func (t *Typing) MessageSent(ctx context.Context, userID, groupID string) {
	if t.records.Has(typingKey(userID, groupID)) {
		t.StopTyping(ctx, userID, groupID)
	}
}

// ClearUser stops every typing indicator the user holds.
func (t *Typing) ClearUser(ctx context.Context, userID string) {
	for _, rec := range t.records.Items() {
		if rec.userID == userID {
			t.StopTyping(ctx, userID, rec.groupID)
		}
	}
}

func (t *Typing) IsTyping(userID, groupID string) bool {
	return t.records.Has(typingKey(userID, groupID))
}

// TypingUsers lists who is typing in a group, sorted.
func (t *Typing) TypingUsers(groupID string) []string {
	var users []string
	for _, rec := range t.records.Items() {
		if rec.groupID == groupID {
			users = append(users, rec.userID)
		}
	}
	sort.Strings(users)
	return users
}

// Close stops all pending expiry timers.
func (t *Typing) Close() {
	for item := range t.records.IterBuffered() {
		if item.Val.timer != nil {
			item.Val.timer.Stop()
		}
	}
	t.records.Clear()
}

func (t *Typing) forget(userID, groupID string) bool {
	rec, ok := t.records.Pop(typingKey(userID, groupID))
	if ok && rec.timer != nil {
		rec.timer.Stop()
	}
	return ok
}

func (t *Typing) expire(rec *typingRecord) {
	removed := t.records.RemoveCb(typingKey(rec.userID, rec.groupID), func(_ string, current *typingRecord, exists bool) bool {
		return exists && current == rec
	})
	if !removed {
		return
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  rec.userID,
		"group_id": rec.groupID,
	}).Debug("Typing indicator expired")

	members, ok := t.memberAudience(context.Background(), rec.userID, rec.groupID)
	if !ok {
		return
	}
	t.broadcast(members, rec.userID, rec.groupID, false)
}

func (t *Typing) memberAudience(ctx context.Context, userID, groupID string) ([]string, bool) {
	log := logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"group_id": groupID,
	})

	members, err := t.membership.GroupMembers(ctx, groupID)
	if err != nil {
		log.WithError(err).Warn("Failed to load group members for typing event")
		return nil, false
	}
	for _, member := range members {
		if member == userID {
			return members, true
		}
	}
	log.Debug("Dropping typing event from non-member")
	return nil, false
}

func (t *Typing) broadcast(members []string, userID, groupID string, isTyping bool) {
	t.dispatcher.ToUsers(members, userID, EventUserTyping, TypingChanged{
		GroupID:  groupID,
		UserID:   userID,
		IsTyping: isTyping,
	})
}
