package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible capability. BaseURL may
// point at any OpenAI-compatible endpoint (e.g. a Groq deployment).
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// OpenAICapability invokes a chat-completion model over the capability
// contract. It performs no tool orchestration of its own; tool traffic in
// the history is forwarded verbatim so an upstream orchestrator can layer
// on top.
type OpenAICapability struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAICapability creates a capability backed by an OpenAI-compatible
// chat-completion API.
func NewOpenAICapability(cfg OpenAIConfig) (*OpenAICapability, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAICapability{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Invoke sends the full history and blocks for the final response.
func (c *OpenAICapability) Invoke(ctx context.Context, req *Request) (*Result, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.completionRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: empty response")
	}

	reply := NewAssistantMessage(resp.Choices[0].Message.Content)
	messages := append(append([]Message{}, req.Messages...), reply)

	return &Result{
		Messages: messages,
		State:    c.capabilityState(req.ThreadID),
	}, nil
}

// Stream sends the full history and yields response fragments as the
// model produces them.
func (c *OpenAICapability) Stream(ctx context.Context, req *Request) (Stream, error) {
	upstream, err := c.client.CreateChatCompletionStream(ctx, c.completionRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	stream := NewFragmentStream(ctx)
	go func() {
		defer func() { _ = upstream.Close() }()

		var reply strings.Builder
		for {
			resp, err := upstream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				stream.Fail(fmt.Errorf("chat completion stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			reply.WriteString(delta)
			if err := stream.Send(&Fragment{Text: delta, Origin: OriginAssistant}); err != nil {
				return
			}
		}

		messages := append(append([]Message{}, req.Messages...), NewAssistantMessage(reply.String()))
		stream.Finish(&Result{
			Messages: messages,
			State:    c.capabilityState(req.ThreadID),
		})
	}()

	return stream, nil
}

func (c *OpenAICapability) capabilityState(threadID string) map[string]any {
	return map[string]any{
		"provider":  "openai",
		"model":     c.model,
		"thread_id": threadID,
	}
}

func (c *OpenAICapability) completionRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Stream:      stream,
		Messages:    toChatMessages(req.Messages),
	}
}

// toChatMessages maps the message union onto the OpenAI wire format.
func toChatMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, userChatMessage(m))
		case RoleAssistant:
			cm := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, cm)
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func userChatMessage(m Message) openai.ChatCompletionMessage {
	image := imagePart(m)
	if image == nil {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: m.Content,
		}
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s",
		image.MediaType, base64.StdEncoding.EncodeToString(image.Data))

	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: m.Content},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
			},
		},
	}
}

func imagePart(m Message) *ContentPart {
	for i := range m.Parts {
		if m.Parts[i].Type == PartTypeImage && len(m.Parts[i].Data) > 0 {
			return &m.Parts[i]
		}
	}
	return nil
}
