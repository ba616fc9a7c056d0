package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix    = "studyroom:room:"
	messageKeyPrefix = "studyroom:messages:"

	maxWatchRetries = 5
)

// Redis keeps each room as a JSON document and its chat log as a list.
type Redis struct {
	client *redis.Client
}

// NewRedisFromURL connects to the redis server at url and pings it.
func NewRedisFromURL(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Redis{client: c}, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

var _ Store = (*Redis)(nil)

func roomKey(name string) string    { return roomKeyPrefix + name }
func messageKey(room string) string { return messageKeyPrefix + room }

func (r *Redis) GetRoom(ctx context.Context, name string) (*models.Room, error) {
	raw, err := r.client.Get(ctx, roomKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get room: %w", err)
	}
	var room models.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("redis: decode room: %w", err)
	}
	return &room, nil
}

func (r *Redis) SaveRoom(ctx context.Context, room *models.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis: encode room: %w", err)
	}
	if err := r.client.Set(ctx, roomKey(room.Name), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: save room: %w", err)
	}
	return nil
}

// UpdateMembers rewrites the room document under WATCH so a concurrent
// delete aborts the write instead of resurrecting the room.
func (r *Redis) UpdateMembers(ctx context.Context, name, hostID string, members []models.RoomMember, at time.Time) error {
	key := roomKey(name)
	update := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis: get room: %w", err)
		}
		var room models.Room
		if err := json.Unmarshal(raw, &room); err != nil {
			return fmt.Errorf("redis: decode room: %w", err)
		}
		room.HostID = hostID
		room.Members = members
		room.LastActive = at
		out, err := json.Marshal(&room)
		if err != nil {
			return fmt.Errorf("redis: encode room: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("redis: update members: %w", err)
		}
		return err
	}
	return fmt.Errorf("redis: update members: %w", redis.TxFailedErr)
}

func (r *Redis) DeleteRoom(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, roomKey(name)).Err(); err != nil {
		return fmt.Errorf("redis: delete room: %w", err)
	}
	return nil
}

func (r *Redis) GetMessages(ctx context.Context, room string, limit int) ([]models.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	items, err := r.client.LRange(ctx, messageKey(room), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list messages: %w", err)
	}
	out := make([]models.Message, 0, len(items))
	for _, item := range items {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("redis: decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Redis) SaveMessage(ctx context.Context, msg *models.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: encode message: %w", err)
	}
	if err := r.client.RPush(ctx, messageKey(msg.Room), raw).Err(); err != nil {
		return fmt.Errorf("redis: save message: %w", err)
	}
	return nil
}

func (r *Redis) DeleteMessages(ctx context.Context, room string) error {
	if err := r.client.Del(ctx, messageKey(room)).Err(); err != nil {
		return fmt.Errorf("redis: delete messages: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
