package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	store := NewRedisStoreFromClient(client, "test:")

	t.Cleanup(func() {
		_ = store.Close()
	})

	return mr, store
}

func TestRedisStore_PutAndGet(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()
	key := SessionKey{UserID: "alice", SessionID: "trip42"}

	payload := map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		"step":     int64(1),
	}
	meta := map[string]any{"message_count": int64(1), "score": 0.5}

	if err := store.Put(ctx, key, payload, meta); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Get returned nil record")
	}
	if rec.Type != JSONType {
		t.Errorf("Type = %q, want %q", rec.Type, JSONType)
	}
	state := rec.State.(map[string]any)
	if state["step"] != int64(1) {
		t.Errorf("state.step = %v (%T), want int64(1)", state["step"], state["step"])
	}
	if rec.Metadata["message_count"] != int64(1) {
		t.Errorf("metadata.message_count = %v, want 1", rec.Metadata["message_count"])
	}
	if rec.Metadata["score"] != 0.5 {
		t.Errorf("metadata.score = %v, want 0.5", rec.Metadata["score"])
	}
}

func TestRedisStore_GetAbsent(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	rec, err := store.Get(ctx, SessionKey{UserID: "nobody", SessionID: "none"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Get on absent key = %+v, want nil", rec)
	}
}

func TestRedisStore_Overwrite(t *testing.T) {
	mr, store := setupMiniredis(t)
	ctx := context.Background()
	key := SessionKey{UserID: "alice", SessionID: "s"}

	for i := 0; i < 3; i++ {
		if err := store.Put(ctx, key, map[string]any{"turn": int64(i)}, nil); err != nil {
			t.Fatalf("Put #%d failed: %v", i, err)
		}
	}

	// one key in redis for the session
	if keys := mr.Keys(); len(keys) != 1 {
		t.Errorf("redis holds %d keys, want 1: %v", len(keys), keys)
	}

	rec, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State.(map[string]any)["turn"] != int64(2) {
		t.Errorf("state.turn = %v, want 2", rec.State.(map[string]any)["turn"])
	}
}

func TestRedisStore_DeleteIdempotent(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()
	key := SessionKey{UserID: "bob", SessionID: "x"}

	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("Delete on absent key failed: %v", err)
	}

	if err := store.Put(ctx, key, map[string]any{}, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	rec, err := store.Get(ctx, key)
	if err != nil || rec != nil {
		t.Errorf("Get after delete = %v, %v; want nil, nil", rec, err)
	}
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr, store := setupMiniredis(t)
	ctx := context.Background()
	key := SessionKey{UserID: "alice", SessionID: "s"}

	mr.Set("test:alice:s", "{not json")

	_, err := store.Get(ctx, key)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("Get on corrupt value = %v, want *DecodeError", err)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, store := setupMiniredis(t)
	ctx := context.Background()
	key := SessionKey{UserID: "alice", SessionID: "s"}

	mr.Close()

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get with dead backend = %v, want ErrUnavailable", err)
	}
	if err := store.Put(ctx, key, map[string]any{}, nil); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Put with dead backend = %v, want ErrWriteFailed", err)
	}
}

func TestRedisStore_Closed(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := store.Get(ctx, SessionKey{UserID: "a", SessionID: "b"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Get after close = %v, want ErrStoreClosed", err)
	}
}
