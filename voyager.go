// Package voyager assembles the travel assistant: an agent capability,
// the in-memory session cache, a checkpoint store, and the coordinator
// that ties a conversation turn together.
package voyager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyager-travel/voyager/agent"
	"github.com/voyager-travel/voyager/pkg/checkpoint"
	"github.com/voyager-travel/voyager/pkg/config"
	"github.com/voyager-travel/voyager/pkg/observability"
	"github.com/voyager-travel/voyager/pkg/session"
)

// Assistant is the top-level entry point. It owns the checkpoint store
// and delegates turns to the session coordinator.
type Assistant struct {
	coord  *session.Coordinator
	cache  *session.Cache
	store  checkpoint.Store
	health *observability.HealthChecker
	log    logrus.FieldLogger
}

// New builds an Assistant from configuration. The checkpoint backend is
// selected by cfg.Storage.Backend: memory, redis, or dynamodb.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Assistant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	store, ping, err := newStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	log.WithField("backend", cfg.Storage.Backend).Info("checkpoint store ready")

	capability, err := agent.NewOpenAICapability(agent.OpenAIConfig{
		APIKey:      cfg.OpenAIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.Model,
		Temperature: float32(cfg.Temperature),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cache := session.NewCache(session.CacheConfig{
		TTL:     cfg.SessionTTL(),
		Logger:  log,
		OnEvict: observability.RecordCacheEvictions,
	})

	coord, err := session.NewCoordinator(session.Config{
		Cache:      cache,
		Store:      instrumentedStore{store},
		Capability: capability,
		Logger:     log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	health := observability.NewHealthChecker()
	if ping != nil {
		health.RegisterCheck(observability.CheckpointStoreCheck(ping))
	}

	return &Assistant{
		coord:  coord,
		cache:  cache,
		store:  store,
		health: health,
		log:    log,
	}, nil
}

// instrumentedStore wraps a checkpoint store with operation metrics.
type instrumentedStore struct {
	checkpoint.Store
}

func (s instrumentedStore) Get(ctx context.Context, key checkpoint.SessionKey) (*checkpoint.Record, error) {
	start := time.Now()
	rec, err := s.Store.Get(ctx, key)
	observability.RecordCheckpointOp("get", opStatus(err), time.Since(start))
	return rec, err
}

func (s instrumentedStore) Put(ctx context.Context, key checkpoint.SessionKey, payload any, metadata map[string]any) error {
	start := time.Now()
	err := s.Store.Put(ctx, key, payload, metadata)
	observability.RecordCheckpointOp("put", opStatus(err), time.Since(start))
	return err
}

func (s instrumentedStore) Delete(ctx context.Context, key checkpoint.SessionKey) error {
	start := time.Now()
	err := s.Store.Delete(ctx, key)
	observability.RecordCheckpointOp("delete", opStatus(err), time.Since(start))
	return err
}

func opStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// newStore builds the configured checkpoint backend and, when the
// backend is remote, a ping function for health checks.
func newStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, func(context.Context) error, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(), nil, nil
	case "redis":
		store, err := checkpoint.NewRedisStore(checkpoint.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Ping, nil
	case "dynamodb":
		store, err := checkpoint.NewDynamoStore(ctx, checkpoint.DynamoConfig{
			Table:           cfg.Storage.DynamoDB.Table,
			Region:          cfg.Storage.DynamoDB.Region,
			Endpoint:        cfg.Storage.DynamoDB.Endpoint,
			AccessKeyID:     cfg.Storage.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.Storage.DynamoDB.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, errors.New("unknown storage backend " + cfg.Storage.Backend)
	}
}

// FullResponse runs one blocking conversation turn.
func (a *Assistant) FullResponse(ctx context.Context, userInput, sessionID string, opts ...session.TurnOption) (string, error) {
	reply, err := a.coord.FullResponse(ctx, userInput, sessionID, opts...)
	observability.SetCachedSessions(a.cache.Len())
	return reply, err
}

// StreamResponse runs one streaming conversation turn.
func (a *Assistant) StreamResponse(ctx context.Context, userInput, sessionID string, opts ...session.TurnOption) (*session.ResponseStream, error) {
	return a.coord.StreamResponse(ctx, userInput, sessionID, opts...)
}

// DeleteSession removes a session's cached history and checkpoint.
func (a *Assistant) DeleteSession(ctx context.Context, sessionID, userID string) error {
	return a.coord.DeleteSession(ctx, sessionID, userID)
}

// Health exposes the assistant's health checker for HTTP wiring.
func (a *Assistant) Health() *observability.HealthChecker {
	return a.health
}

// Close releases the checkpoint store.
func (a *Assistant) Close() error {
	return a.store.Close()
}
