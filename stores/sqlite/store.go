package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"groupchat-server/core"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		profile_pic TEXT,
		status TEXT NOT NULL DEFAULT 'offline',
		last_active INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS friends (
		user_id TEXT NOT NULL,
		friend_id TEXT NOT NULL,
		PRIMARY KEY (user_id, friend_id)
	)`,
	`CREATE TABLE IF NOT EXISTS chat_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		creator_id TEXT NOT NULL,
		is_private INTEGER NOT NULL DEFAULT 0,
		last_activity INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		edited INTEGER NOT NULL DEFAULT 0,
		reply_to TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS message_reads (
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (message_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at)`,
}

// NewStore opens (or creates) the database and applies the schema.
func NewStore(dataSourceName string) (*store, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"driver":         driverName,
		"dataSourceName": dataSourceName,
	}).Debug("SQLite store ready")
	return &store{db}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s with id %s: %w", kind, id, core.ErrNotFound)
}

func (s *store) CreateUser(ctx context.Context, user *core.User) (string, error) {
	id := ulid.Make().String()
	now := millis(time.Now())
	status := user.Status
	if status == "" {
		status = core.StatusOffline
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", user.Username).Scan(&exists)
	if err != nil {
		return "", err
	}
	if exists > 0 {
		return "", fmt.Errorf("username %s: %w", user.Username, core.ErrConflict)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, profile_pic, status, last_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, user.Username, user.PasswordHash, user.ProfilePic, string(status), now, now, now)
	if err != nil {
		logrus.WithField("error", err).Error("Failed to create user")
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  id,
		"username": user.Username,
	}).Info("User created successfully")
	return id, nil
}

const userColumns = "id, username, password_hash, profile_pic, status, last_active, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*core.User, error) {
	var (
		u                                core.User
		profilePic                       sql.NullString
		status                           string
		lastActive, createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &profilePic, &status, &lastActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.ProfilePic = profilePic.String
	u.Status = core.Status(status)
	u.LastActive = fromMillis(lastActive)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func (s *store) loadUser(ctx context.Context, query string, arg any) (*core.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	u.Friends, err = s.Friends(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *store) GetUser(ctx context.Context, id string) (*core.User, error) {
	u, err := s.loadUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	return u, err
}

func (s *store) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	u, err := s.loadUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, core.ErrNotFound)
	}
	return u, err
}

func (s *store) UpdateProfile(ctx context.Context, id, username, profilePic string) error {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if username == "" {
		username = current.Username
	} else if !strings.EqualFold(username, current.Username) {
		if _, err := s.GetUserByUsername(ctx, username); err == nil {
			return fmt.Errorf("username %s: %w", username, core.ErrConflict)
		}
	}
	if profilePic == "" {
		profilePic = current.ProfilePic
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE users SET username = ?, profile_pic = ?, updated_at = ? WHERE id = ?",
		username, profilePic, millis(time.Now()), id)
	return err
}

func (s *store) SetStatus(ctx context.Context, userID string, status core.Status, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET status = ?, last_active = ? WHERE id = ?",
		string(status), millis(at), userID)
	if err != nil {
		return err
	}
	return requireRow(result, "user", userID)
}

func (s *store) queryUsers(ctx context.Context, query string, args ...any) ([]core.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Friends, err = s.Friends(ctx, users[i].ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *store) SearchUsers(ctx context.Context, query string, limit int) ([]core.User, error) {
	return s.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users WHERE username LIKE ? ORDER BY username LIMIT ?",
		"%"+query+"%", sqlLimit(limit))
}

func (s *store) ListOnline(ctx context.Context) ([]core.User, error) {
	return s.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users WHERE status = ? ORDER BY username",
		string(core.StatusOnline))
}

// AddFriend writes both directions in one transaction.
func (s *store) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return fmt.Errorf("cannot befriend yourself: %w", core.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range []string{userID, friendID} {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", id).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return notFound("user", id)
		}
	}

	for _, pair := range [][2]string{{userID, friendID}, {friendID, userID}} {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)", pair[0], pair[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *store) RemoveFriend(ctx context.Context, userID, friendID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM friends WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)",
		userID, friendID, friendID, userID)
	return err
}

func (s *store) Friends(ctx context.Context, userID string) ([]string, error) {
	return s.queryStrings(ctx, "SELECT friend_id FROM friends WHERE user_id = ? ORDER BY rowid", userID)
}

func (s *store) CreateGroup(ctx context.Context, group *core.Group) (string, error) {
	id := ulid.Make().String()
	now := millis(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO chat_groups (id, name, description, creator_id, is_private, last_activity, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, group.Name, group.Description, group.CreatorID, group.IsPrivate, now, now, now)
	if err != nil {
		logrus.WithField("error", err).Error("Failed to create group")
		return "", err
	}

	members := append([]string{group.CreatorID}, group.Members...)
	for _, member := range members {
		isAdmin := member == group.CreatorID || contains(group.Admins, member)
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO group_members (group_id, user_id, is_admin) VALUES (?, ?, ?)",
			id, member, isAdmin); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"group_id":   id,
		"creator_id": group.CreatorID,
	}).Info("Group created successfully")
	return id, nil
}

const groupColumns = "id, name, description, creator_id, is_private, last_activity, created_at, updated_at"

func scanGroup(row interface{ Scan(...any) error }) (*core.Group, error) {
	var (
		g                                  core.Group
		description                        sql.NullString
		lastActivity, createdAt, updatedAt int64
	)
	if err := row.Scan(&g.ID, &g.Name, &description, &g.CreatorID, &g.IsPrivate, &lastActivity, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.Description = description.String
	g.LastActivity = fromMillis(lastActivity)
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updatedAt)
	return &g, nil
}

func (s *store) fillMembers(ctx context.Context, g *core.Group) error {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id, is_admin FROM group_members WHERE group_id = ? ORDER BY rowid", g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	g.Members, g.Admins = nil, nil
	for rows.Next() {
		var userID string
		var isAdmin bool
		if err := rows.Scan(&userID, &isAdmin); err != nil {
			return err
		}
		g.Members = append(g.Members, userID)
		if isAdmin {
			g.Admins = append(g.Admins, userID)
		}
	}
	return rows.Err()
}

func (s *store) GetGroup(ctx context.Context, id string) (*core.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM chat_groups WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("group", id)
		}
		return nil, err
	}
	if err := s.fillMembers(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *store) UpdateGroup(ctx context.Context, id string, update core.GroupUpdate) error {
	g, err := s.GetGroup(ctx, id)
	if err != nil {
		return err
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

	_, err = s.db.ExecContext(ctx,
		"UPDATE chat_groups SET name = ?, description = ?, is_private = ?, updated_at = ? WHERE id = ?",
		g.Name, g.Description, g.IsPrivate, millis(time.Now()), id)
	return err
}

func (s *store) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM chat_groups WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireRow(result, "group", id); err != nil {
		return err
	}
	stmts := []string{
		"DELETE FROM group_members WHERE group_id = ?",
		"DELETE FROM message_reads WHERE message_id IN (SELECT id FROM messages WHERE group_id = ?)",
		"DELETE FROM messages WHERE group_id = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *store) queryGroups(ctx context.Context, query string, args ...any) ([]core.Group, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []core.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		if err := s.fillMembers(ctx, &groups[i]); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (s *store) ListUserGroups(ctx context.Context, userID string) ([]core.Group, error) {
	return s.queryGroups(ctx,
		`SELECT g.id, g.name, g.description, g.creator_id, g.is_private, g.last_activity, g.created_at, g.updated_at
		FROM chat_groups g JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ? ORDER BY g.last_activity DESC, g.id`, userID)
}

func (s *store) SearchPublicGroups(ctx context.Context, query string, limit int) ([]core.Group, error) {
	return s.queryGroups(ctx,
		"SELECT "+groupColumns+" FROM chat_groups WHERE is_private = 0 AND name LIKE ? ORDER BY last_activity DESC, id LIMIT ?",
		"%"+query+"%", sqlLimit(limit))
}

func (s *store) groupExists(ctx context.Context, groupID string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_groups WHERE id = ?", groupID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return notFound("group", groupID)
	}
	return nil
}

func (s *store) AddMember(ctx context.Context, groupID, userID string) error {
	if err := s.groupExists(ctx, groupID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO group_members (group_id, user_id, is_admin) VALUES (?, ?, 0)", groupID, userID)
	return err
}

func (s *store) RemoveMember(ctx context.Context, groupID, userID string) error {
	if err := s.groupExists(ctx, groupID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
	return err
}

func (s *store) AddAdmin(ctx context.Context, groupID, userID string) error {
	if err := s.groupExists(ctx, groupID); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, "UPDATE group_members SET is_admin = 1 WHERE group_id = ? AND user_id = ?", groupID, userID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s is not a member: %w", userID, core.ErrForbidden)
	}
	return nil
}

func (s *store) RemoveAdmin(ctx context.Context, groupID, userID string) error {
	if err := s.groupExists(ctx, groupID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "UPDATE group_members SET is_admin = 0 WHERE group_id = ? AND user_id = ?", groupID, userID)
	return err
}

func (s *store) TouchGroup(ctx context.Context, groupID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, "UPDATE chat_groups SET last_activity = ? WHERE id = ?", millis(at), groupID)
	if err != nil {
		return err
	}
	return requireRow(result, "group", groupID)
}

func (s *store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	if err := s.groupExists(ctx, groupID); err != nil {
		return nil, err
	}
	return s.queryStrings(ctx, "SELECT user_id FROM group_members WHERE group_id = ? ORDER BY rowid", groupID)
}

func (s *store) UserGroups(ctx context.Context, userID string) ([]string, error) {
	return s.queryStrings(ctx, "SELECT group_id FROM group_members WHERE user_id = ? ORDER BY rowid", userID)
}

func (s *store) CreateMessage(ctx context.Context, message *core.Message) (string, error) {
	id := ulid.Make().String()
	now := millis(time.Now())
	msgType := message.Type
	if msgType == "" {
		msgType = core.MessageTypeText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, group_id, sender_id, content, type, edited, reply_to, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)",
		id, message.GroupID, message.SenderID, message.Content, msgType, message.ReplyTo, now, now)
	if err != nil {
		logrus.WithField("error", err).Error("Failed to create message")
		return "", err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO message_reads (message_id, user_id) VALUES (?, ?)", id, message.SenderID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

const messageColumns = "id, group_id, sender_id, content, type, edited, reply_to, created_at, updated_at"

func scanMessage(row interface{ Scan(...any) error }) (*core.Message, error) {
	var (
		m                    core.Message
		replyTo              sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &m.Type, &m.Edited, &replyTo, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.ReplyTo = replyTo.String
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}

func (s *store) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("message", id)
		}
		return nil, err
	}
	if m.ReadBy, err = s.readers(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *store) GroupMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]core.Message, error) {
	cutoff := int64(math.MaxInt64)
	if !before.IsZero() {
		cutoff = millis(before)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE group_id = ? AND created_at < ? ORDER BY created_at DESC, id DESC LIMIT ?",
		groupID, cutoff, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	for i := range messages {
		if messages[i].ReadBy, err = s.readers(ctx, messages[i].ID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *store) EditMessage(ctx context.Context, id, content string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE messages SET content = ?, edited = 1, updated_at = ? WHERE id = ?",
		content, millis(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(result, "message", id)
}

func (s *store) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireRow(result, "message", id); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM message_reads WHERE message_id = ?", id)
	return err
}

func (s *store) MarkGroupRead(ctx context.Context, groupID, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO message_reads (message_id, user_id) SELECT id, ? FROM messages WHERE group_id = ?",
		userID, groupID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *store) readers(ctx context.Context, messageID string) ([]string, error) {
	return s.queryStrings(ctx, "SELECT user_id FROM message_reads WHERE message_id = ? ORDER BY rowid", messageID)
}

func (s *store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
