package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "voyager:checkpoint:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all checkpoint keys.
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// redisRow is the JSON value stored per session key.
type redisRow struct {
	Checkpoint []byte          `json:"checkpoint"`
	Type       string          `json:"checkpoint_type"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// RedisStore implements Store on Redis, one value per SessionKey. It
// suits multi-node deployments that don't need DynamoDB durability.
type RedisStore struct {
	client *redis.Client
	prefix string
	codec  Codec
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore creates a Redis checkpoint store and verifies the
// connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", errors.Join(ErrUnavailable, err))
	}

	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		codec:  JSONCodec{},
	}
}

func (s *RedisStore) recordKey(key SessionKey) string {
	return s.prefix + key.UserID + ":" + key.SessionID
}

// Get returns the record for key, or (nil, nil) when absent.
func (s *RedisStore) Get(ctx context.Context, key SessionKey) (*Record, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint: %w", errors.Join(ErrUnavailable, err))
	}

	var row redisRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, &DecodeError{Tag: "", Err: err}
	}

	state, err := s.codec.Decode(row.Type, row.Checkpoint)
	if err != nil {
		return nil, err
	}

	metadata, err := decodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}

	return &Record{Key: key, State: state, Type: row.Type, Metadata: metadata}, nil
}

// Put overwrites the record for key in a single SET.
func (s *RedisStore) Put(ctx context.Context, key SessionKey, payload any, metadata map[string]any) error {
	if err := s.ensureOpen(); err != nil {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, err))
	}

	typeTag, data, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, err))
	}

	var metaBytes json.RawMessage
	if metadata != nil {
		metaBytes, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("put checkpoint metadata: %w", errors.Join(ErrWriteFailed, err))
		}
	}

	value, err := json.Marshal(redisRow{Checkpoint: data, Type: typeTag, Metadata: metaBytes})
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, err))
	}

	if err := s.client.Set(ctx, s.recordKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, err))
	}
	return nil
}

// PutWrites is a no-op; the full checkpoint is the durability boundary.
func (s *RedisStore) PutWrites(ctx context.Context, key SessionKey, writes []PendingWrite, taskID string) error {
	return nil
}

// Delete removes the record for key. Absent keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key SessionKey) error {
	if err := s.ensureOpen(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if err := s.client.Del(ctx, s.recordKey(key)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", errors.Join(ErrUnavailable, err))
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
