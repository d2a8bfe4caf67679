package mongo

import (
	"context"
	"errors"
	"groupchat-server/core"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func setupTestStore(t *testing.T) *store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	dbName := "groupchat_test_" + ulid.Make().String()
	s, err := NewStore(ctx, uri, dbName)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	t.Cleanup(func() {
		s.client.Database(dbName).Drop(ctx)
		s.Close()
	})
	return s
}

func TestUsersAndFriends(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, &core.User{Username: "alice", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	bob, _ := s.CreateUser(ctx, &core.User{Username: "bob", PasswordHash: "x"})
	if _, err := s.CreateUser(ctx, &core.User{Username: "Alice"}); !errors.Is(err, core.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	if err := s.AddFriend(ctx, alice, bob); err != nil {
		t.Fatalf("AddFriend() failed: %v", err)
	}
	friends, _ := s.Friends(ctx, bob)
	if len(friends) != 1 || friends[0] != alice {
		t.Errorf("Friends(bob) = %v", friends)
	}
	if err := s.AddFriend(ctx, alice, "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := s.SetStatus(ctx, alice, core.StatusOnline, time.Now()); err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}
	online, _ := s.ListOnline(ctx)
	if len(online) != 1 || online[0].ID != alice {
		t.Errorf("ListOnline() = %+v", online)
	}
}

func TestGroupsAndMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	gid, err := s.CreateGroup(ctx, &core.Group{Name: "devs", CreatorID: "alice"})
	if err != nil {
		t.Fatalf("CreateGroup() failed: %v", err)
	}
	s.AddMember(ctx, gid, "bob")
	if err := s.AddAdmin(ctx, gid, "carol"); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}

	members, _ := s.GroupMembers(ctx, gid)
	if len(members) != 2 {
		t.Errorf("GroupMembers() = %v", members)
	}

	for _, c := range []string{"a", "b", "c"} {
		s.CreateMessage(ctx, &core.Message{GroupID: gid, SenderID: "alice", Content: c})
		time.Sleep(2 * time.Millisecond)
	}
	msgs, _ := s.GroupMessages(ctx, gid, 2, time.Time{})
	if len(msgs) != 2 || msgs[0].Content != "b" || msgs[1].Content != "c" {
		t.Errorf("GroupMessages() = %+v", msgs)
	}
	n, _ := s.MarkGroupRead(ctx, gid, "bob")
	if n != 3 {
		t.Errorf("MarkGroupRead() = %d", n)
	}
}
