package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyager-travel/voyager/agent"
	"github.com/voyager-travel/voyager/pkg/checkpoint"
)

// DefaultSessionID is used for anonymous callers that don't supply a
// session identifier.
const DefaultSessionID = "default_session"

// ErrAgentInvocation marks a failure of the external agent capability.
// The turn is aborted and nothing is persisted; retries are the caller's
// responsibility.
var ErrAgentInvocation = errors.New("agent invocation failed")

// TurnOption customizes a single turn.
type TurnOption func(*turnOptions)

type turnOptions struct {
	userID         string
	imageData      []byte
	imageMediaType string
}

// WithUser attributes the turn to an authenticated user. Without it the
// session is anonymous and keyed by session ID alone.
func WithUser(userID string) TurnOption {
	return func(o *turnOptions) { o.userID = userID }
}

// WithImage attaches an image to the user message.
func WithImage(data []byte, mediaType string) TurnOption {
	return func(o *turnOptions) {
		o.imageData = data
		o.imageMediaType = mediaType
	}
}

// Config wires a Coordinator.
type Config struct {
	Cache      *Cache
	Store      checkpoint.Store
	Capability agent.Capability
	Logger     logrus.FieldLogger
	// Clock overrides time.Now for checkpoint metadata, for tests.
	Clock func() time.Time
}

// Coordinator orchestrates a conversation turn per session: it pulls
// cached or stored history, appends the inbound user message, hands off
// to the agent capability, then filters and persists the result.
//
// Turns for different sessions are fully independent. Concurrent turns
// for the same session are not serialized; the last write wins on the
// single checkpoint record.
type Coordinator struct {
	cache      *Cache
	store      checkpoint.Store
	capability agent.Capability
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewCoordinator creates a coordinator over the given cache, store and
// capability.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Cache == nil {
		return nil, errors.New("session: cache is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: checkpoint store is required")
	}
	if cfg.Capability == nil {
		return nil, errors.New("session: agent capability is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		cache:      cfg.Cache,
		store:      cfg.Store,
		capability: cfg.Capability,
		log:        log,
		now:        now,
	}, nil
}

// FullResponse runs one blocking turn and returns the complete response
// text: the content of the last final assistant message.
func (c *Coordinator) FullResponse(ctx context.Context, userInput, sessionID string, opts ...TurnOption) (string, error) {
	sessionID, key, req, err := c.prepare(ctx, userInput, sessionID, opts)
	if err != nil {
		return "", err
	}

	res, err := c.capability.Invoke(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAgentInvocation, err)
	}

	if err := c.persist(ctx, sessionID, key, res); err != nil {
		return "", err
	}
	return finalText(res.Messages), nil
}

// StreamResponse runs one streaming turn. Fragments are delivered via the
// returned stream's Recv, which ends with io.EOF once the turn has been
// filtered and persisted. If the capability fails or the context is
// cancelled mid-stream, nothing is persisted and Recv surfaces the error
// instead of io.EOF.
func (c *Coordinator) StreamResponse(ctx context.Context, userInput, sessionID string, opts ...TurnOption) (*ResponseStream, error) {
	sessionID, key, req, err := c.prepare(ctx, userInput, sessionID, opts)
	if err != nil {
		return nil, err
	}

	upstream, err := c.capability.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAgentInvocation, err)
	}

	rs := newResponseStream()
	go c.pumpStream(ctx, rs, upstream, sessionID, key)
	return rs, nil
}

// pumpStream forwards assistant-origin fragments, then performs the same
// filter+persist step as a blocking turn once the upstream finishes.
func (c *Coordinator) pumpStream(ctx context.Context, rs *ResponseStream, upstream agent.Stream, sessionID string, key checkpoint.SessionKey) {
	defer func() { _ = upstream.Close() }()
	defer rs.finish()

	for {
		frag, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rs.fail(fmt.Errorf("%w: %w", ErrAgentInvocation, err))
			return
		}
		if frag.Origin != agent.OriginAssistant {
			continue
		}
		if !rs.send(ctx, frag.Text) {
			rs.fail(ctx.Err())
			return
		}
	}

	res, err := upstream.Result()
	if err != nil {
		rs.fail(fmt.Errorf("%w: %w", ErrAgentInvocation, err))
		return
	}

	if err := c.persist(ctx, sessionID, key, res); err != nil {
		rs.fail(err)
	}
}

// DeleteSession removes a session's cache entry and its stored
// checkpoint. Deleting an unknown session is not an error.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	c.cache.Remove(sessionID)
	return c.store.Delete(ctx, sessionKeyFor(userID, sessionID))
}

// prepare loads history, rehydrating from the checkpoint store when the
// cache has nothing for the session, and appends the new user message.
// The stored checkpoint state rides along in Request.Checkpoint only on
// that rehydration path; while the session is live in the cache, the
// message history is the resume state and no store read happens.
func (c *Coordinator) prepare(ctx context.Context, userInput, sessionID string, opts []TurnOption) (string, checkpoint.SessionKey, *agent.Request, error) {
	var options turnOptions
	for _, opt := range opts {
		opt(&options)
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	key := sessionKeyFor(options.userID, sessionID)

	history := c.cache.GetOrCreate(sessionID)

	var prior any
	if len(history) == 0 {
		rec, err := c.store.Get(ctx, key)
		var decodeErr *checkpoint.DecodeError
		switch {
		case errors.As(err, &decodeErr):
			// unreadable checkpoint is equivalent to absence
			c.log.WithFields(logrus.Fields{
				"thread_id": key.ThreadID(),
				"error":     err.Error(),
			}).Warn("stored checkpoint unreadable, starting fresh")
		case err != nil:
			return "", key, nil, fmt.Errorf("load checkpoint: %w", err)
		case rec != nil:
			prior = rec.State
			history = messagesFromState(rec.State)
		}
	}

	userMsg := agent.NewUserMessage(userInput)
	if len(options.imageData) > 0 {
		userMsg = agent.NewUserMessageWithImage(userInput, options.imageData, options.imageMediaType)
	}
	history = append(history, userMsg)

	req := &agent.Request{
		ThreadID:   key.ThreadID(),
		Messages:   history,
		Checkpoint: prior,
	}
	return sessionID, key, req, nil
}

// persist applies the transcript filter and writes both persistence
// paths: the clean message list into the cache, and the checkpoint
// payload into the store. The filter runs before either write.
func (c *Coordinator) persist(ctx context.Context, sessionID string, key checkpoint.SessionKey, res *agent.Result) error {
	filtered := agent.FilterTranscript(res.Messages)

	c.cache.Save(sessionID, filtered)

	payload := map[string]any{
		"messages": agent.EncodeMessages(filtered),
		"state":    res.State,
	}
	metadata := map[string]any{
		"source":        "turn",
		"message_count": len(filtered),
		"written_at":    c.now().UTC().Format(time.RFC3339),
	}
	if err := c.store.Put(ctx, key, payload, metadata); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	return nil
}

// sessionKeyFor maps caller identity onto a checkpoint key. Anonymous
// sessions use the session ID for both parts, matching the thread
// identifier convention.
func sessionKeyFor(userID, sessionID string) checkpoint.SessionKey {
	if userID == "" {
		return checkpoint.ParseThreadID(sessionID)
	}
	return checkpoint.SessionKey{UserID: userID, SessionID: sessionID}
}

// messagesFromState recovers the clean message history embedded in a
// checkpoint payload written by persist. Anything unexpected yields nil,
// which simply means the turn starts with an empty history.
func messagesFromState(state any) []agent.Message {
	m, ok := state.(map[string]any)
	if !ok {
		return nil
	}
	msgs, err := agent.DecodeMessages(m["messages"])
	if err != nil {
		return nil
	}
	return msgs
}

// finalText returns the content of the last final assistant message
// produced this turn, or "" when the capability yielded none.
func finalText(msgs []agent.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Final() {
			return msgs[i].Content
		}
	}
	return ""
}
