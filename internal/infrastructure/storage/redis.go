package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

const defaultRedisPrefix = "pinbar:"

// RedisStore keeps every instance as one field of a hash, so a save is a single HSET.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), prefix)
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key() string {
	return s.prefix + "instances"
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) SaveInstance(ctx context.Context, rec *domain.InstanceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", rec.ID, err)
	}
	return s.client.HSet(ctx, s.key(), rec.ID, data).Err()
}

func (s *RedisStore) DeleteInstance(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.key(), id).Err()
}

func (s *RedisStore) ListInstances(ctx context.Context) ([]*domain.InstanceRecord, error) {
	all, err := s.client.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.InstanceRecord, 0, len(all))
	for id, data := range all {
		var rec domain.InstanceRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode instance %s: %w", id, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Publish sends an event to the events channel; it is a domain.Notifier for the dispatcher.
func (s *RedisStore) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.prefix+"events", data).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
