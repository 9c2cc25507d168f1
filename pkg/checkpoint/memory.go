package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// storedRow is the serialized form kept per key, mirroring what a real
// backend would hold so reads exercise the same decode path.
type storedRow struct {
	typeTag  string
	payload  []byte
	metadata []byte
}

// MemoryStore is a process-local Store for anonymous sessions and tests.
// It is safe for concurrent use. Data does not survive a restart.
type MemoryStore struct {
	codec  Codec
	mu     sync.RWMutex
	rows   map[SessionKey]storedRow
	closed bool
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codec: JSONCodec{},
		rows:  make(map[SessionKey]storedRow),
	}
}

// Get returns the record for key, or (nil, nil) when absent.
func (s *MemoryStore) Get(ctx context.Context, key SessionKey) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("get checkpoint: %w", ErrStoreClosed)
	}

	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}

	state, err := s.codec.Decode(row.typeTag, row.payload)
	if err != nil {
		return nil, err
	}

	metadata, err := decodeMetadata(row.metadata)
	if err != nil {
		return nil, err
	}

	return &Record{Key: key, State: state, Type: row.typeTag, Metadata: metadata}, nil
}

// Put overwrites the record for key.
func (s *MemoryStore) Put(ctx context.Context, key SessionKey, payload any, metadata map[string]any) error {
	typeTag, data, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, err))
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("put checkpoint metadata: %w", errors.Join(ErrWriteFailed, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("put checkpoint: %w", errors.Join(ErrWriteFailed, ErrStoreClosed))
	}
	s.rows[key] = storedRow{typeTag: typeTag, payload: data, metadata: metaBytes}
	return nil
}

// PutWrites is a no-op; the full checkpoint is the durability boundary.
func (s *MemoryStore) PutWrites(ctx context.Context, key SessionKey, writes []PendingWrite, taskID string) error {
	return nil
}

// Delete removes the record for key. Absent keys are not an error.
func (s *MemoryStore) Delete(ctx context.Context, key SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("delete checkpoint: %w", ErrStoreClosed)
	}
	delete(s.rows, key)
	return nil
}

// Close marks the store closed. Subsequent operations fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// decodeMetadata parses stored metadata with numeric normalization.
func decodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v, err := (JSONCodec{}).Decode(JSONType, data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &DecodeError{Tag: JSONType, Err: fmt.Errorf("metadata is %T, not a map", v)}
	}
	return m, nil
}
