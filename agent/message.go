package agent

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks input from the end user.
	RoleUser Role = "user"
	// RoleAssistant marks output produced by the agent.
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of a tool invocation made by the agent.
	RoleTool Role = "tool"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image"
)

// ContentPart is one piece of structured message content. User messages
// may carry an image alongside their text.
type ContentPart struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	Data      []byte   `json:"data,omitempty"`
	MediaType string   `json:"mediaType,omitempty"`
}

// ToolCall records a pending tool invocation requested by the agent.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is a single entry in a conversation. The Role field is the
// discriminant: user messages carry Content and optional Parts, assistant
// messages carry Content and optional ToolCalls, tool messages carry the
// result of the call identified by ToolCallID.
//
// Messages are immutable once appended to a history; ordering within a
// session is conversation order.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"toolCalls,omitempty"`
	ToolCallID string        `json:"toolCallId,omitempty"`
}

// NewUserMessage creates a plain-text user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewUserMessageWithImage creates a user message carrying an image
// attachment tagged with its media type (e.g. "image/png").
func NewUserMessageWithImage(content string, data []byte, mediaType string) Message {
	return Message{
		Role:    RoleUser,
		Content: content,
		Parts: []ContentPart{
			{Type: PartTypeText, Text: content},
			{Type: PartTypeImage, Data: data, MediaType: mediaType},
		},
	}
}

// NewAssistantMessage creates a final assistant message with no pending
// tool calls.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolResultMessage creates a tool result message for the given call.
func NewToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Final reports whether the message is a user-facing assistant turn,
// i.e. an assistant message with no pending tool invocations.
func (m Message) Final() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) == 0
}

// String returns a short representation for debugging.
func (m Message) String() string {
	return fmt.Sprintf("Message{Role:%s, Content:%.40q}", m.Role, m.Content)
}

// EncodeMessages converts messages to a generic []any of maps suitable for
// embedding in a checkpoint payload. Binary part data is carried as
// base64 per encoding/json convention.
func EncodeMessages(msgs []Message) []any {
	encoded := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		encoded = append(encoded, v)
	}
	return encoded
}

// DecodeMessages converts a generic value produced by EncodeMessages (or
// read back from a checkpoint store) into messages. Entries that do not
// look like messages are dropped rather than failing the whole history.
func DecodeMessages(v any) ([]Message, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message history: %w", err)
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal message history: %w", err)
	}
	kept := msgs[:0]
	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleTool:
			kept = append(kept, m)
		}
	}
	return kept, nil
}
