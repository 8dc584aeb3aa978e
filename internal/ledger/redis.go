package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps every record in a list and the first record per key in a
// hash, so lookups are a single HGET while history stays append-only.
type RedisStore struct {
	client   *redis.Client
	listKey  string
	indexKey string
	now      func() time.Time
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(client, opts.Prefix)
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "reelsmith:ledger"
	}
	return &RedisStore{
		client:   client,
		listKey:  prefix + ":records",
		indexKey: prefix + ":index",
		now:      time.Now,
	}
}

func (s *RedisStore) Check(ctx context.Context, key string) (*Record, error) {
	key = Normalize(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	raw, err := s.client.HGet(ctx, s.indexKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Add(ctx context.Context, entry Entry) (Record, error) {
	rec, err := newRecord(entry, s.now())
	if err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.listKey, payload)
	pipe.HSetNX(ctx, s.indexKey, rec.Key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, fmt.Errorf("ledger append: %w", err)
	}
	return rec, nil
}

// Count returns the number of records ever appended.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.listKey).Result()
}

func (s *RedisStore) Close() error { return s.client.Close() }
