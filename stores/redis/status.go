package redis

import (
	"context"
	"errors"
	"fmt"
	"groupchat-server/core"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	onlineSetKey = "presence:online"
	keyPrefix    = "presence:user:"
)

// StatusMirror persists status transitions to the primary store and mirrors
// them into Redis so other processes can read presence without hitting the
// database. Mirror failures are logged and never fail the transition.
type StatusMirror struct {
	primary core.StatusStore
	rdb     redis.Cmdable
}

func NewStatusMirror(primary core.StatusStore, rdb redis.Cmdable) *StatusMirror {
	return &StatusMirror{primary: primary, rdb: rdb}
}

// Connect opens a client for addr and checks it responds.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (m *StatusMirror) SetStatus(ctx context.Context, userID string, status core.Status, at time.Time) error {
	if m.primary != nil {
		if err := m.primary.SetStatus(ctx, userID, status, at); err != nil {
			return err
		}
	}

	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyPrefix+userID, "status", string(status), "last_active", at.UnixMilli())
		if status == core.StatusOnline {
			pipe.SAdd(ctx, onlineSetKey, userID)
		} else {
			pipe.SRem(ctx, onlineSetKey, userID)
		}
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"status":  status,
		}).WithError(err).Warn("Failed to mirror status to redis")
	}
	return nil
}

// Status reads the mirrored status of a user. ok is false when nothing was
// mirrored for that user yet.
func (m *StatusMirror) Status(ctx context.Context, userID string) (status core.Status, lastActive time.Time, ok bool, err error) {
	fields, err := m.rdb.HGetAll(ctx, keyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, err
	}
	if len(fields) == 0 {
		return "", time.Time{}, false, nil
	}
	ms, _ := strconv.ParseInt(fields["last_active"], 10, 64)
	return core.Status(fields["status"]), time.UnixMilli(ms).UTC(), true, nil
}

// Online lists users whose last mirrored status is online.
func (m *StatusMirror) Online(ctx context.Context) ([]string, error) {
	return m.rdb.SMembers(ctx, onlineSetKey).Result()
}
