package agent

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Fragment origin tags. Only assistant-origin text is surfaced to end
// users; tool-origin fragments are internal orchestration chatter.
const (
	OriginAssistant = "assistant"
	OriginTool      = "tool"
)

// Request carries one invocation of the capability: the thread identity,
// the full accumulated message history, and the prior opaque checkpoint
// payload for the capability's own resume mechanism. Checkpoint is set
// only when the caller had to rehydrate the thread from durable storage;
// on a fresh session, or when the history was already live in memory, it
// is nil and Messages alone carry the conversation.
type Request struct {
	ThreadID   string
	Messages   []Message
	Checkpoint any
}

// Result is the outcome of a completed invocation: the full final message
// set (including any intermediate tool traffic) and the opaque state the
// capability needs persisted to resume exactly where it left off.
type Result struct {
	Messages []Message
	State    any
}

// Fragment is an incremental piece of streamed output.
type Fragment struct {
	Text   string
	Origin string
}

// Stream yields incremental output fragments. Recv returns io.EOF once
// fragment emission ends; Result is valid only after that point. If the
// stream fails or is cancelled mid-flight, Result returns the error and
// callers must not persist anything from the turn.
type Stream interface {
	Recv() (*Fragment, error)
	Result() (*Result, error)
	Close() error
}

// Capability is the external agent boundary. Invoke blocks until the full
// final message set is available; Stream yields fragments as they are
// produced while still terminating with the same final result.
type Capability interface {
	Invoke(ctx context.Context, req *Request) (*Result, error)
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// ErrStreamIncomplete is returned by FragmentStream.Result when the
// producer never finished the stream.
var ErrStreamIncomplete = errors.New("stream ended without a final result")

// FragmentStream is a channel-backed Stream implementation for capability
// authors. The producing goroutine calls Send for each fragment and then
// either Finish with the final result or Fail with an error.
type FragmentStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	fragments chan *Fragment

	mu     sync.Mutex
	result *Result
	err    error
	closed bool

	closeOnce sync.Once
}

// NewFragmentStream creates a stream bound to ctx. Cancelling ctx
// terminates both producer and consumer.
func NewFragmentStream(ctx context.Context) *FragmentStream {
	ctx, cancel := context.WithCancel(ctx)
	return &FragmentStream{
		ctx:       ctx,
		cancel:    cancel,
		fragments: make(chan *Fragment, 64),
	}
}

// Recv returns the next fragment, io.EOF when the producer finished, or
// the terminal error.
func (s *FragmentStream) Recv() (*Fragment, error) {
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case frag, ok := <-s.fragments:
		if !ok {
			s.mu.Lock()
			err := s.err
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return frag, nil
	}
}

// Result returns the final result after the stream has been drained.
func (s *FragmentStream) Result() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return nil, ErrStreamIncomplete
	}
	return s.result, nil
}

// Close cancels the stream. Safe to call multiple times.
func (s *FragmentStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
	})
	return nil
}

// Send delivers a fragment to the consumer. It fails once the stream is
// closed or its context cancelled.
func (s *FragmentStream) Send(frag *Fragment) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("stream closed")
	}
	s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.fragments <- frag:
		return nil
	}
}

// Finish records the final result and ends fragment emission.
func (s *FragmentStream) Finish(res *Result) {
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	close(s.fragments)
}

// Fail records a terminal error and ends fragment emission.
func (s *FragmentStream) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.fragments)
}
