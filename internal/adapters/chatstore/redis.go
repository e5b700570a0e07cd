// Package chatstore persists room chat lines for the history endpoint.
package chatstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore keeps one capped list of msgpack records per room.
type RedisStore struct {
	rdb       *redis.Client
	keyPrefix string
	limit     int64
}

// NewRedisStore builds a store backed by Redis. Prefix is optional.
func NewRedisStore(rdb *redis.Client, prefix string, limit int) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "peercall"
	}
	if limit <= 0 {
		limit = 100
	}
	return &RedisStore{
		rdb:       rdb,
		keyPrefix: fmt.Sprintf("%s:chat:", p),
		limit:     int64(limit),
	}
}

func (s *RedisStore) key(room domain.RoomID) string {
	return s.keyPrefix + string(room)
}

func (s *RedisStore) Append(ctx context.Context, msg domain.ChatMessage) error {
	b, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	key := s.key(msg.Room)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -s.limit, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat %s: %w", msg.Room, err)
	}
	return nil
}

// History returns up to limit of the newest messages, oldest first.
func (s *RedisStore) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 || int64(limit) > s.limit {
		limit = int(s.limit)
	}
	vals, err := s.rdb.LRange(ctx, s.key(room), -int64(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("chat history %s: %w", room, err)
	}
	out := make([]domain.ChatMessage, 0, len(vals))
	for _, v := range vals {
		msg, err := decodeMessage([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) Rooms(ctx context.Context) ([]domain.RoomID, error) {
	keys, err := s.rdb.Keys(ctx, s.keyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.RoomID, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.RoomID(strings.TrimPrefix(k, s.keyPrefix)))
	}
	return out, nil
}

func encodeMessage(msg domain.ChatMessage) ([]byte, error) {
	b, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode chat message: %w", err)
	}
	return b, nil
}

func decodeMessage(b []byte) (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	if err := msgpack.Unmarshal(b, &msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("decode chat message: %w", err)
	}
	return msg, nil
}
