package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
)

var (
	ErrEmptyContext = errors.New("inference context is empty")
	ErrEmptyReply   = errors.New("model returned an empty reply")
)

// Client turns an ordered role/content list into a reply using an eino chat model.
type Client struct {
	chatModel model.BaseChatModel
	timeout   time.Duration
}

// NewClient wraps chatModel. A positive timeout bounds every Complete call.
func NewClient(chatModel model.BaseChatModel, timeout time.Duration) (*Client, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	return &Client{chatModel: chatModel, timeout: timeout}, nil
}

// Complete sends messages to the model and returns the reply text. Every
// failure is reported as a *chat.InferenceError.
func (c *Client) Complete(ctx context.Context, messages []chat.ContextMessage) (string, error) {
	if len(messages) == 0 {
		return "", &chat.InferenceError{Err: ErrEmptyContext}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	input, err := toSchemaMessages(messages)
	if err != nil {
		return "", &chat.InferenceError{Err: err}
	}

	started := time.Now()
	response, err := c.chatModel.Generate(ctx, input)
	if err != nil {
		return "", &chat.InferenceError{Err: fmt.Errorf("generate: %w", err)}
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", &chat.InferenceError{Err: ErrEmptyReply}
	}

	log.Printf("[ai] generated reply, context=%d length=%d elapsed=%s", len(messages), len(response.Content), time.Since(started).Round(time.Millisecond))
	return response.Content, nil
}

func toSchemaMessages(messages []chat.ContextMessage) ([]*schema.Message, error) {
	out := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			out = append(out, schema.SystemMessage(msg.Content))
		case chat.RoleUser:
			out = append(out, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			out = append(out, schema.AssistantMessage(msg.Content, nil))
		default:
			return nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	return out, nil
}
