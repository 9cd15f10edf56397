package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/storage"
)

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client, ttl: ttl}, nil
}

func key(id domain.RoomID) string {
	return "room:" + string(id)
}

func (s *Store) Create(ctx context.Context, room domain.RoomMeta) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key(room.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store room: %w", err)
	}
	if !ok {
		return storage.ErrRoomExists
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.RoomID) (*domain.RoomMeta, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch room: %w", err)
	}
	var room domain.RoomMeta
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("unmarshal room: %w", err)
	}
	return &room, nil
}

func (s *Store) Delete(ctx context.Context, id domain.RoomID) error {
	n, err := s.client.Del(ctx, key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n == 0 {
		return storage.ErrRoomNotFound
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
