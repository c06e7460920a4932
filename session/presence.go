package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLastSeen persists presence records as Redis hashes. Records are
// transient and derived; losing them only degrades last-seen display.
type RedisLastSeen struct {
	client *redis.Client
}

func NewRedisLastSeen(client *redis.Client) *RedisLastSeen {
	return &RedisLastSeen{client: client}
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("presence:%d", userID)
}

func (s *RedisLastSeen) SetOnline(userID uint, online bool, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return s.client.HSet(ctx, presenceKey(userID), map[string]any{
		"online":    strconv.FormatBool(online),
		"last_seen": at.UnixMilli(),
	}).Err()
}

func (s *RedisLastSeen) Get(userIDs []uint) (map[uint]PresenceRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := map[uint]PresenceRecord{}
	for _, id := range userIDs {
		fields, err := s.client.HGetAll(ctx, presenceKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		record := PresenceRecord{UserID: id}
		record.Online, _ = strconv.ParseBool(fields["online"])
		if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
			record.LastSeen = time.UnixMilli(ms)
		}
		out[id] = record
	}
	return out, nil
}
