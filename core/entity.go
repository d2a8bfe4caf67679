package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already exists")
	ErrForbidden = errors.New("forbidden")
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

type (
	User struct {
		ID           string    `json:"id"`
		Username     string    `json:"username"`
		PasswordHash string    `json:"-"`
		ProfilePic   string    `json:"profile_pic"`
		Status       Status    `json:"status"`
		Friends      []string  `json:"friends"`
		LastActive   time.Time `json:"last_active"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}

	Group struct {
		ID           string    `json:"id"`
		Name         string    `json:"name"`
		Description  string    `json:"description"`
		CreatorID    string    `json:"creator_id"`
		IsPrivate    bool      `json:"is_private"`
		Members      []string  `json:"members"`
		Admins       []string  `json:"admins"`
		LastActivity time.Time `json:"last_activity"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}

	// GroupUpdate carries the editable group fields. Nil fields are left untouched.
	GroupUpdate struct {
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
		IsPrivate   *bool   `json:"is_private,omitempty"`
	}

	Message struct {
		ID        string    `json:"id"`
		GroupID   string    `json:"group_id"`
		SenderID  string    `json:"sender_id"`
		Content   string    `json:"content"`
		Type      string    `json:"type"`
		ReadBy    []string  `json:"read_by"`
		Edited    bool      `json:"edited"`
		ReplyTo   string    `json:"reply_to,omitempty"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	UserStore interface {
		// CreateUser returns ErrConflict when the username is taken.
		CreateUser(ctx context.Context, user *User) (string, error)
		GetUser(ctx context.Context, id string) (*User, error)
		GetUserByUsername(ctx context.Context, username string) (*User, error)
		UpdateProfile(ctx context.Context, id, username, profilePic string) error
		SearchUsers(ctx context.Context, query string, limit int) ([]User, error)
		ListOnline(ctx context.Context) ([]User, error)
		StatusStore
	}

	StatusStore interface {
		SetStatus(ctx context.Context, userID string, status Status, at time.Time) error
	}

	// FriendStore keeps the friend relation symmetric. A write that lands on only
	// one side is reported as *PartialFriendError.
	FriendStore interface {
		AddFriend(ctx context.Context, userID, friendID string) error
		RemoveFriend(ctx context.Context, userID, friendID string) error
	}

	GroupStore interface {
		CreateGroup(ctx context.Context, group *Group) (string, error)
		GetGroup(ctx context.Context, id string) (*Group, error)
		UpdateGroup(ctx context.Context, id string, update GroupUpdate) error
		DeleteGroup(ctx context.Context, id string) error
		ListUserGroups(ctx context.Context, userID string) ([]Group, error)
		SearchPublicGroups(ctx context.Context, query string, limit int) ([]Group, error)
		AddMember(ctx context.Context, groupID, userID string) error
		// RemoveMember drops the user from both members and admins.
		RemoveMember(ctx context.Context, groupID, userID string) error
		AddAdmin(ctx context.Context, groupID, userID string) error
		RemoveAdmin(ctx context.Context, groupID, userID string) error
		TouchGroup(ctx context.Context, groupID string, at time.Time) error
	}

	MessageStore interface {
		CreateMessage(ctx context.Context, message *Message) (string, error)
		GetMessage(ctx context.Context, id string) (*Message, error)
		// GroupMessages returns up to limit messages older than before (zero means
		// now), oldest first.
		GroupMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]Message, error)
		EditMessage(ctx context.Context, id, content string) error
		DeleteMessage(ctx context.Context, id string) error
		MarkGroupRead(ctx context.Context, groupID, userID string) (int, error)
	}

	// MembershipStore is the read side the presence layer consumes.
	MembershipStore interface {
		GroupMembers(ctx context.Context, groupID string) ([]string, error)
		UserGroups(ctx context.Context, userID string) ([]string, error)
		Friends(ctx context.Context, userID string) ([]string, error)
	}

	BlobStore interface {
		PutBlob(ctx context.Context, key, contentType string, data []byte) error
		GetBlob(ctx context.Context, key string) ([]byte, string, error)
	}

	Store interface {
		UserStore
		FriendStore
		GroupStore
		MessageStore
		MembershipStore
	}
)

// PartialFriendError reports a friend edge written on the first endpoint only.
type PartialFriendError struct {
	Op       string
	UserID   string
	FriendID string
	Err      error
}

func (e *PartialFriendError) Error() string {
	return fmt.Sprintf("%s friend %s<->%s applied on one side only: %v", e.Op, e.UserID, e.FriendID, e.Err)
}

func (e *PartialFriendError) Unwrap() error { return e.Err }

func (g *Group) IsMember(userID string) bool {
	return contains(g.Members, userID)
}

func (g *Group) IsAdmin(userID string) bool {
	return contains(g.Admins, userID)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
