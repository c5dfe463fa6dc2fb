package ai

import (
	"context"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
)

// EchoClient answers without a model by repeating the latest user message.
// It keeps the API usable when no provider credentials are configured.
type EchoClient struct{}

// Complete replies "You said: <last user message>".
func (EchoClient) Complete(_ context.Context, messages []chat.ContextMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser {
			return "You said: " + messages[i].Content, nil
		}
	}
	return "", &chat.InferenceError{Err: ErrEmptyContext}
}
