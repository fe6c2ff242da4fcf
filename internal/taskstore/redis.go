package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultRedisPrefix namespaces task keys (task:{taskId}).
const DefaultRedisPrefix = "task:"

// RedisStore implements Store on Redis. Each record is one JSON string
// written with SET ... EX, so Redis itself performs the sweep.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// DialRedis parses a redis:// or rediss:// URL and returns a connected client.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, opts.Addr, err)
	}
	log.Debug().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis connected")
	return client, nil
}

func (s *RedisStore) key(taskID string) string {
	return s.prefix + taskID
}

func (s *RedisStore) Put(ctx context.Context, taskID string, rec *Record) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	if rec == nil {
		return ErrNilRecord
	}
	rec.TaskID = taskID
	rec.RecordedAt = s.now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", taskID, err)
	}
	if err := s.client.Set(ctx, s.key(taskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: SET %s: %v", ErrStoreUnavailable, s.key(taskID), err)
	}

	log.Debug().Str("taskId", taskID).Int("code", rec.Code).Dur("ttl", s.ttl).Msg("Task result stored in Redis")
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrStoreUnavailable, s.key(taskID), err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A value we cannot decode is unusable; report it rather than
		// pretending the task is still processing.
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, s.key(taskID), err)
	}
	if expired(rec.RecordedAt, s.ttl, s.now()) {
		log.Debug().Str("taskId", taskID).Msg("Task result past TTL, treating as absent")
		return nil, nil
	}
	rec.TaskID = taskID
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.key(taskID)).Err(); err != nil {
		return fmt.Errorf("%w: DEL %s: %v", ErrStoreUnavailable, s.key(taskID), err)
	}
	log.Debug().Str("taskId", taskID).Msg("Task result deleted from Redis")
	return nil
}
