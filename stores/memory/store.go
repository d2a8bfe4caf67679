package memory

import (
	"context"
	"fmt"
	"groupchat-server/core"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type store struct {
	mu       sync.RWMutex
	users    map[string]*core.User
	groups   map[string]*core.Group
	messages map[string]*core.Message
}

// NewStore creates an in-memory store. Everything is lost on restart.
func NewStore() *store {
	return &store{
		users:    make(map[string]*core.User),
		groups:   make(map[string]*core.Group),
		messages: make(map[string]*core.Message),
	}
}

func (s *store) CreateUser(ctx context.Context, user *core.User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, user.Username) {
			return "", fmt.Errorf("username %s: %w", user.Username, core.ErrConflict)
		}
	}

	now := time.Now().UTC()
	u := *user
	u.ID = ulid.Make().String()
	if u.Status == "" {
		u.Status = core.StatusOffline
	}
	u.Friends = nil
	u.LastActive = now
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = &u

	logrus.WithFields(logrus.Fields{
		"user_id":  u.ID,
		"username": u.Username,
	}).Info("User created successfully")
	return u.ID, nil
}

func (s *store) GetUser(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user with id %s: %w", id, core.ErrNotFound)
	}
	return copyUser(u), nil
}

func (s *store) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return copyUser(u), nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, core.ErrNotFound)
}

func (s *store) UpdateProfile(ctx context.Context, id, username, profilePic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user with id %s: %w", id, core.ErrNotFound)
	}
	if username != "" && !strings.EqualFold(username, u.Username) {
		for _, other := range s.users {
			if strings.EqualFold(other.Username, username) {
				return fmt.Errorf("username %s: %w", username, core.ErrConflict)
			}
		}
		u.Username = username
	}
	if profilePic != "" {
		u.ProfilePic = profilePic
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *store) SetStatus(ctx context.Context, userID string, status core.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user with id %s: %w", userID, core.ErrNotFound)
	}
	u.Status = status
	u.LastActive = at.UTC()
	return nil
}

func (s *store) SearchUsers(ctx context.Context, query string, limit int) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []core.User
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, *copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *store) ListOnline(ctx context.Context) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.User
	for _, u := range s.users {
		if u.Status == core.StatusOnline {
			out = append(out, *copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// AddFriend writes both sides under one lock, so the edge is never partial.
func (s *store) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return fmt.Errorf("cannot befriend yourself: %w", core.ErrForbidden)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user with id %s: %w", userID, core.ErrNotFound)
	}
	f, ok := s.users[friendID]
	if !ok {
		return fmt.Errorf("user with id %s: %w", friendID, core.ErrNotFound)
	}
	u.Friends = addUnique(u.Friends, friendID)
	f.Friends = addUnique(f.Friends, userID)
	return nil
}

func (s *store) RemoveFriend(ctx context.Context, userID, friendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user with id %s: %w", userID, core.ErrNotFound)
	}
	u.Friends = remove(u.Friends, friendID)
	if f, ok := s.users[friendID]; ok {
		f.Friends = remove(f.Friends, userID)
	}
	return nil
}

func (s *store) Friends(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user with id %s: %w", userID, core.ErrNotFound)
	}
	return append([]string(nil), u.Friends...), nil
}

func (s *store) CreateGroup(ctx context.Context, group *core.Group) (string, error) {
	now := time.Now().UTC()
	g := *group
	g.ID = ulid.Make().String()
	g.Members = addUnique(append([]string(nil), group.Members...), group.CreatorID)
	g.Admins = addUnique(append([]string(nil), group.Admins...), group.CreatorID)
	g.LastActivity = now
	g.CreatedAt = now
	g.UpdatedAt = now

	s.mu.Lock()
	s.groups[g.ID] = &g
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"group_id":   g.ID,
		"creator_id": g.CreatorID,
	}).Info("Group created successfully")
	return g.ID, nil
}

func (s *store) GetGroup(ctx context.Context, id string) (*core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group with id %s: %w", id, core.ErrNotFound)
	}
	return copyGroup(g), nil
}

func (s *store) UpdateGroup(ctx context.Context, id string, update core.GroupUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return fmt.Errorf("group with id %s: %w", id, core.ErrNotFound)
	}
	if update.Name != nil {
		g.Name = *update.Name
	}
	if update.Description != nil {
		g.Description = *update.Description
	}
	if update.IsPrivate != nil {
		g.IsPrivate = *update.IsPrivate
	}
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *store) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return fmt.Errorf("group with id %s: %w", id, core.ErrNotFound)
	}
	delete(s.groups, id)
	for msgID, m := range s.messages {
		if m.GroupID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *store) ListUserGroups(ctx context.Context, userID string) ([]core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Group
	for _, g := range s.groups {
		if g.IsMember(userID) {
			out = append(out, *copyGroup(g))
		}
	}
	sortByActivity(out)
	return out, nil
}

func (s *store) SearchPublicGroups(ctx context.Context, query string, limit int) ([]core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []core.Group
	for _, g := range s.groups {
		if !g.IsPrivate && strings.Contains(strings.ToLower(g.Name), q) {
			out = append(out, *copyGroup(g))
		}
	}
	sortByActivity(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *store) AddMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group with id %s: %w", groupID, core.ErrNotFound)
	}
	g.Members = addUnique(g.Members, userID)
	return nil
}

func (s *store) RemoveMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group with id %s: %w", groupID, core.ErrNotFound)
	}
	g.Members = remove(g.Members, userID)
	g.Admins = remove(g.Admins, userID)
	return nil
}

func (s *store) AddAdmin(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group with id %s: %w", groupID, core.ErrNotFound)
	}
	if !g.IsMember(userID) {
		return fmt.Errorf("user %s is not a member: %w", userID, core.ErrForbidden)
	}
	g.Admins = addUnique(g.Admins, userID)
	return nil
}

func (s *store) RemoveAdmin(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group with id %s: %w", groupID, core.ErrNotFound)
	}
	g.Admins = remove(g.Admins, userID)
	return nil
}

func (s *store) TouchGroup(ctx context.Context, groupID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group with id %s: %w", groupID, core.ErrNotFound)
	}
	g.LastActivity = at.UTC()
	return nil
}

func (s *store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group with id %s: %w", groupID, core.ErrNotFound)
	}
	return append([]string(nil), g.Members...), nil
}

func (s *store) UserGroups(ctx context.Context, userID string) ([]string, error) {
	groups, err := s.ListUserGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (s *store) CreateMessage(ctx context.Context, message *core.Message) (string, error) {
	now := time.Now().UTC()
	m := *message
	m.ID = ulid.Make().String()
	if m.Type == "" {
		m.Type = core.MessageTypeText
	}
	m.ReadBy = []string{m.SenderID}
	m.CreatedAt = now
	m.UpdatedAt = now

	s.mu.Lock()
	s.messages[m.ID] = &m
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"message_id": m.ID,
		"group_id":   m.GroupID,
	}).Debug("Message created")
	return m.ID, nil
}

func (s *store) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message with id %s: %w", id, core.ErrNotFound)
	}
	return copyMessage(m), nil
}

func (s *store) GroupMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Message
	for _, m := range s.messages {
		if m.GroupID != groupID {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, *copyMessage(m))
	}
	// ULIDs sort by creation time, which breaks ties within one millisecond.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *store) EditMessage(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message with id %s: %w", id, core.ErrNotFound)
	}
	m.Content = content
	m.Edited = true
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message with id %s: %w", id, core.ErrNotFound)
	}
	delete(s.messages, id)
	return nil
}

func (s *store) MarkGroupRead(ctx context.Context, groupID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, m := range s.messages {
		if m.GroupID != groupID {
			continue
		}
		before := len(m.ReadBy)
		m.ReadBy = addUnique(m.ReadBy, userID)
		if len(m.ReadBy) != before {
			marked++
		}
	}
	return marked, nil
}

func copyUser(u *core.User) *core.User {
	c := *u
	c.Friends = append([]string(nil), u.Friends...)
	return &c
}

func copyGroup(g *core.Group) *core.Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	c.Admins = append([]string(nil), g.Admins...)
	return &c
}

func copyMessage(m *core.Message) *core.Message {
	c := *m
	c.ReadBy = append([]string(nil), m.ReadBy...)
	return &c
}

func sortByActivity(groups []core.Group) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].LastActivity.Equal(groups[j].LastActivity) {
			return groups[i].ID < groups[j].ID
		}
		return groups[i].LastActivity.After(groups[j].LastActivity)
	})
}

func addUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
