package mongo

import (
	"context"
	"errors"
	"fmt"
	"groupchat-server/core"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	userDoc struct {
		ID            string    `bson:"_id"`
		Username      string    `bson:"username"`
		UsernameLower string    `bson:"username_lower"`
		PasswordHash  string    `bson:"password_hash"`
		ProfilePic    string    `bson:"profile_pic"`
		Status        string    `bson:"status"`
		Friends       []string  `bson:"friends"`
		LastActive    time.Time `bson:"last_active"`
		CreatedAt     time.Time `bson:"created_at"`
		UpdatedAt     time.Time `bson:"updated_at"`
	}

	groupDoc struct {
		ID           string    `bson:"_id"`
		Name         string    `bson:"name"`
		Description  string    `bson:"description"`
		CreatorID    string    `bson:"creator_id"`
		IsPrivate    bool      `bson:"is_private"`
		Members      []string  `bson:"members"`
		Admins       []string  `bson:"admins"`
		LastActivity time.Time `bson:"last_activity"`
		CreatedAt    time.Time `bson:"created_at"`
		UpdatedAt    time.Time `bson:"updated_at"`
	}

	messageDoc struct {
		ID        string    `bson:"_id"`
		GroupID   string    `bson:"group_id"`
		SenderID  string    `bson:"sender_id"`
		Content   string    `bson:"content"`
		Type      string    `bson:"type"`
		ReadBy    []string  `bson:"read_by"`
		Edited    bool      `bson:"edited"`
		ReplyTo   string    `bson:"reply_to,omitempty"`
		CreatedAt time.Time `bson:"created_at"`
		UpdatedAt time.Time `bson:"updated_at"`
	}
)

type store struct {
	client   *mongo.Client
	users    *mongo.Collection
	groups   *mongo.Collection
	messages *mongo.Collection
}

// NewStore connects to MongoDB and makes sure the indexes exist.
func NewStore(ctx context.Context, uri, database string) (*store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &store{
		client:   client,
		users:    db.Collection("users"),
		groups:   db.Collection("groups"),
		messages: db.Collection("messages"),
	}

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "username_lower", Value: 1}}, Options: options.Index().SetUnique(true)}},
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}}}},
		{s.groups, mongo.IndexModel{Keys: bson.D{{Key: "members", Value: 1}}}},
		{s.messages, mongo.IndexModel{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	logrus.WithField("database", database).Debug("Mongo store ready")
	return s, nil
}

func (s *store) Close() error {
	return s.client.Disconnect(context.Background())
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s with id %s: %w", kind, id, core.ErrNotFound)
}

func requireMatch(result *mongo.UpdateResult, kind, id string) error {
	if result.MatchedCount == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (d *userDoc) toCore() *core.User {
	return &core.User{
		ID:           d.ID,
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		ProfilePic:   d.ProfilePic,
		Status:       core.Status(d.Status),
		Friends:      d.Friends,
		LastActive:   d.LastActive.UTC(),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (d *groupDoc) toCore() *core.Group {
	return &core.Group{
		ID:           d.ID,
		Name:         d.Name,
		Description:  d.Description,
		CreatorID:    d.CreatorID,
		IsPrivate:    d.IsPrivate,
		Members:      d.Members,
		Admins:       d.Admins,
		LastActivity: d.LastActivity.UTC(),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (d *messageDoc) toCore() *core.Message {
	return &core.Message{
		ID:        d.ID,
		GroupID:   d.GroupID,
		SenderID:  d.SenderID,
		Content:   d.Content,
		Type:      d.Type,
		ReadBy:    d.ReadBy,
		Edited:    d.Edited,
		ReplyTo:   d.ReplyTo,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func (s *store) CreateUser(ctx context.Context, user *core.User) (string, error) {
	now := time.Now().UTC()
	status := user.Status
	if status == "" {
		status = core.StatusOffline
	}
	doc := userDoc{
		ID:            ulid.Make().String(),
		Username:      user.Username,
		UsernameLower: strings.ToLower(user.Username),
		PasswordHash:  user.PasswordHash,
		ProfilePic:    user.ProfilePic,
		Status:        string(status),
		Friends:       []string{},
		LastActive:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("username %s: %w", user.Username, core.ErrConflict)
		}
		logrus.WithField("error", err).Error("Failed to create user")
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  doc.ID,
		"username": doc.Username,
	}).Info("User created successfully")
	return doc.ID, nil
}

func (s *store) findUser(ctx context.Context, filter bson.M, label string) (*core.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", label, core.ErrNotFound)
		}
		return nil, err
	}
	return doc.toCore(), nil
}

func (s *store) GetUser(ctx context.Context, id string) (*core.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, id)
}

func (s *store) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	return s.findUser(ctx, bson.M{"username_lower": strings.ToLower(username)}, username)
}

func (s *store) UpdateProfile(ctx context.Context, id, username, profilePic string) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if username != "" {
		set["username"] = username
		set["username_lower"] = strings.ToLower(username)
	}
	if profilePic != "" {
		set["profile_pic"] = profilePic
	}

	result, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("username %s: %w", username, core.ErrConflict)
		}
		return err
	}
	return requireMatch(result, "user", id)
}

func (s *store) SetStatus(ctx context.Context, userID string, status core.Status, at time.Time) error {
	result, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"status":      string(status),
		"last_active": at.UTC(),
	}})
	if err != nil {
		return err
	}
	return requireMatch(result, "user", userID)
}

func (s *store) findUsers(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]core.User, error) {
	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]core.User, 0, len(docs))
	for i := range docs {
		users = append(users, *docs[i].toCore())
	}
	return users, nil
}

func (s *store) SearchUsers(ctx context.Context, query string, limit int) ([]core.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "username_lower", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findUsers(ctx, bson.M{"username": bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}}, opts)
}

func (s *store) ListOnline(ctx context.Context) ([]core.User, error) {
	return s.findUsers(ctx, bson.M{"status": string(core.StatusOnline)}, options.Find().SetSort(bson.D{{Key: "username_lower", Value: 1}}))
}

// AddFriend writes the two sides separately; see core.ApplyFriendEdge.
func (s *store) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return fmt.Errorf("cannot befriend yourself: %w", core.ErrForbidden)
	}
	for _, id := range []string{userID, friendID} {
		n, err := s.users.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound("user", id)
		}
	}
	return core.ApplyFriendEdge(ctx, "add", userID, friendID, s.pushFriend, s.pullFriend)
}

func (s *store) RemoveFriend(ctx context.Context, userID, friendID string) error {
	return core.ApplyFriendEdge(ctx, "remove", userID, friendID, s.pullFriend, s.pushFriend)
}

func (s *store) pushFriend(ctx context.Context, owner, other string) error {
	result, err := s.users.UpdateOne(ctx, bson.M{"_id": owner}, bson.M{"$addToSet": bson.M{"friends": other}})
	if err != nil {
		return err
	}
	return requireMatch(result, "user", owner)
}

func (s *store) pullFriend(ctx context.Context, owner, other string) error {
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": owner}, bson.M{"$pull": bson.M{"friends": other}})
	return err
}

func (s *store) Friends(ctx context.Context, userID string) ([]string, error) {
	var doc struct {
		Friends []string `bson:"friends"`
	}
	err := s.users.FindOne(ctx, bson.M{"_id": userID}, options.FindOne().SetProjection(bson.M{"friends": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("user", userID)
		}
		return nil, err
	}
	return doc.Friends, nil
}

func (s *store) CreateGroup(ctx context.Context, group *core.Group) (string, error) {
	now := time.Now().UTC()
	doc := groupDoc{
		ID:           ulid.Make().String(),
		Name:         group.Name,
		Description:  group.Description,
		CreatorID:    group.CreatorID,
		IsPrivate:    group.IsPrivate,
		Members:      addUnique(append([]string{group.CreatorID}, group.Members...)),
		Admins:       addUnique(append([]string{group.CreatorID}, group.Admins...)),
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.groups.InsertOne(ctx, doc); err != nil {
		logrus.WithField("error", err).Error("Failed to create group")
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"group_id":   doc.ID,
		"creator_id": doc.CreatorID,
	}).Info("Group created successfully")
	return doc.ID, nil
}

func (s *store) GetGroup(ctx context.Context, id string) (*core.Group, error) {
	var doc groupDoc
	if err := s.groups.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("group", id)
		}
		return nil, err
	}
	return doc.toCore(), nil
}

func (s *store) UpdateGroup(ctx context.Context, id string, update core.GroupUpdate) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.IsPrivate != nil {
		set["is_private"] = *update.IsPrivate
	}
	result, err := s.groups.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	return requireMatch(result, "group", id)
}

func (s *store) DeleteGroup(ctx context.Context, id string) error {
	result, err := s.groups.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return notFound("group", id)
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"group_id": id}); err != nil {
		logrus.WithField("group_id", id).WithError(err).Warn("Failed to delete messages of removed group")
	}
	return nil
}

func (s *store) findGroups(ctx context.Context, filter bson.M, limit int) ([]core.Group, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.groups.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []groupDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	groups := make([]core.Group, 0, len(docs))
	for i := range docs {
		groups = append(groups, *docs[i].toCore())
	}
	return groups, nil
}

func (s *store) ListUserGroups(ctx context.Context, userID string) ([]core.Group, error) {
	return s.findGroups(ctx, bson.M{"members": userID}, 0)
}

func (s *store) SearchPublicGroups(ctx context.Context, query string, limit int) ([]core.Group, error) {
	return s.findGroups(ctx, bson.M{
		"is_private": false,
		"name":       bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"},
	}, limit)
}

func (s *store) updateGroup(ctx context.Context, filter bson.M, groupID string, update bson.M) error {
	result, err := s.groups.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	return requireMatch(result, "group", groupID)
}

func (s *store) AddMember(ctx context.Context, groupID, userID string) error {
	return s.updateGroup(ctx, bson.M{"_id": groupID}, groupID, bson.M{"$addToSet": bson.M{"members": userID}})
}

func (s *store) RemoveMember(ctx context.Context, groupID, userID string) error {
	return s.updateGroup(ctx, bson.M{"_id": groupID}, groupID, bson.M{"$pull": bson.M{"members": userID, "admins": userID}})
}

func (s *store) AddAdmin(ctx context.Context, groupID, userID string) error {
	err := s.updateGroup(ctx, bson.M{"_id": groupID, "members": userID}, groupID, bson.M{"$addToSet": bson.M{"admins": userID}})
	if errors.Is(err, core.ErrNotFound) {
		if _, getErr := s.GetGroup(ctx, groupID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("user %s is not a member: %w", userID, core.ErrForbidden)
	}
	return err
}

func (s *store) RemoveAdmin(ctx context.Context, groupID, userID string) error {
	return s.updateGroup(ctx, bson.M{"_id": groupID}, groupID, bson.M{"$pull": bson.M{"admins": userID}})
}

func (s *store) TouchGroup(ctx context.Context, groupID string, at time.Time) error {
	return s.updateGroup(ctx, bson.M{"_id": groupID}, groupID, bson.M{"$set": bson.M{"last_activity": at.UTC()}})
}

func (s *store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var doc struct {
		Members []string `bson:"members"`
	}
	err := s.groups.FindOne(ctx, bson.M{"_id": groupID}, options.FindOne().SetProjection(bson.M{"members": 1})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("group", groupID)
		}
		return nil, err
	}
	return doc.Members, nil
}

func (s *store) UserGroups(ctx context.Context, userID string) ([]string, error) {
	cursor, err := s.groups.Find(ctx, bson.M{"members": userID}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *store) CreateMessage(ctx context.Context, message *core.Message) (string, error) {
	now := time.Now().UTC()
	msgType := message.Type
	if msgType == "" {
		msgType = core.MessageTypeText
	}
	doc := messageDoc{
		ID:        ulid.Make().String(),
		GroupID:   message.GroupID,
		SenderID:  message.SenderID,
		Content:   message.Content,
		Type:      msgType,
		ReadBy:    []string{message.SenderID},
		ReplyTo:   message.ReplyTo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		logrus.WithField("error", err).Error("Failed to create message")
		return "", err
	}
	return doc.ID, nil
}

func (s *store) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	var doc messageDoc
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("message", id)
		}
		return nil, err
	}
	return doc.toCore(), nil
}

func (s *store) GroupMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]core.Message, error) {
	filter := bson.M{"group_id": groupID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]core.Message, len(docs))
	for i := range docs {
		messages[len(docs)-1-i] = *docs[i].toCore()
	}
	return messages, nil
}

func (s *store) EditMessage(ctx context.Context, id, content string) error {
	result, err := s.messages.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"content":    content,
		"edited":     true,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	return requireMatch(result, "message", id)
}

func (s *store) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return notFound("message", id)
	}
	return nil
}

func (s *store) MarkGroupRead(ctx context.Context, groupID, userID string) (int, error) {
	result, err := s.messages.UpdateMany(ctx,
		bson.M{"group_id": groupID, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}})
	if err != nil {
		return 0, err
	}
	return int(result.ModifiedCount), nil
}

func addUnique(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
