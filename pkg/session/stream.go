package session

import (
	"context"
	"io"
	"sync"
)

// ResponseStream delivers the text fragments of a streaming turn. Recv
// blocks for the next fragment and returns io.EOF once the turn has
// completed and its result has been persisted. A non-EOF error means the
// turn failed and nothing was written.
type ResponseStream struct {
	ch chan string

	mu   sync.Mutex
	err  error
	done bool
}

func newResponseStream() *ResponseStream {
	return &ResponseStream{ch: make(chan string, 16)}
}

// Recv returns the next fragment of response text.
func (s *ResponseStream) Recv() (string, error) {
	text, ok := <-s.ch
	if ok {
		return text, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

// send delivers one fragment, respecting context cancellation. It
// reports false when the caller's context expired before the fragment
// could be handed off.
func (s *ResponseStream) send(ctx context.Context, text string) bool {
	select {
	case s.ch <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// ScriptedResponseStream returns a stream that replays the given
// fragments and then terminates with err, or io.EOF when err is nil.
// It exists so consumers of the coordinator can fake streaming turns in
// their tests.
func ScriptedResponseStream(fragments []string, err error) *ResponseStream {
	rs := newResponseStream()
	go func() {
		for _, text := range fragments {
			rs.ch <- text
		}
		if err != nil {
			rs.fail(err)
		}
		rs.finish()
	}()
	return rs
}

// fail records the terminal error surfaced by Recv after the buffered
// fragments drain.
func (s *ResponseStream) fail(err error) {
	s.mu.Lock()
	if !s.done && s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// finish closes the fragment channel exactly once.
func (s *ResponseStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
