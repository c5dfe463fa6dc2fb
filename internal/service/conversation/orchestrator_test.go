package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/ragbot/backend/internal/service/chat"
	"github.com/zhouzirui/ragbot/backend/internal/service/conversation"
)

const systemPrompt = "You are a test assistant."

type stubInference struct {
	mu       sync.Mutex
	reply    func(messages []chat.ContextMessage) (string, error)
	contexts [][]chat.ContextMessage
}

func (s *stubInference) Complete(_ context.Context, messages []chat.ContextMessage) (string, error) {
	s.mu.Lock()
	s.contexts = append(s.contexts, append([]chat.ContextMessage(nil), messages...))
	s.mu.Unlock()
	return s.reply(messages)
}

func fixedReply(text string) *stubInference {
	return &stubInference{reply: func([]chat.ContextMessage) (string, error) { return text, nil }}
}

func setup(t *testing.T, inference conversation.InferenceClient) (*conversation.Orchestrator, *chatservice.Store) {
	t.Helper()
	store := chatservice.NewStore()
	orch, err := conversation.New(store, inference, systemPrompt)
	require.NoError(t, err)
	return orch, store
}

func TestHandleTurnHelloScenario(t *testing.T) {
	orch, _ := setup(t, fixedReply("Hi there"))

	history, err := orch.HandleTurn(context.Background(), "s1", "Hello")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, chat.RoleUser, history[0].Role)
	require.Equal(t, "Hello", history[0].Content)
	require.Equal(t, chat.RoleAssistant, history[1].Role)
	require.Equal(t, "Hi there", history[1].Content)
	require.False(t, history[1].Timestamp.Before(history[0].Timestamp))
}

func TestHandleTurnSequentialOrdering(t *testing.T) {
	inference := &stubInference{reply: func(messages []chat.ContextMessage) (string, error) {
		return "re: " + messages[len(messages)-1].Content, nil
	}}
	orch, _ := setup(t, inference)
	ctx := context.Background()

	const turns = 5
	var history chat.History
	var err error
	for i := 1; i <= turns; i++ {
		history, err = orch.HandleTurn(ctx, "s1", fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}

	require.Len(t, history, 2*turns)
	for i := 0; i < turns; i++ {
		q := fmt.Sprintf("q%d", i+1)
		require.Equal(t, chat.RoleUser, history[2*i].Role)
		require.Equal(t, q, history[2*i].Content)
		require.Equal(t, chat.RoleAssistant, history[2*i+1].Role)
		require.Equal(t, "re: "+q, history[2*i+1].Content)
	}
}

func TestHandleTurnBuildsContextWithSystemPromptFirst(t *testing.T) {
	inference := fixedReply("ok")
	orch, store := setup(t, inference)
	ctx := context.Background()

	_, err := store.Append(ctx, "s1", chat.Message{Role: chat.RoleSystem, Content: "earlier system note"})
	require.NoError(t, err)

	_, err = orch.HandleTurn(ctx, "s1", "first")
	require.NoError(t, err)
	_, err = orch.HandleTurn(ctx, "s1", "second")
	require.NoError(t, err)

	require.Len(t, inference.contexts, 2)
	first := inference.contexts[0]
	require.Equal(t, []chat.ContextMessage{
		{Role: chat.RoleSystem, Content: systemPrompt},
		{Role: chat.RoleSystem, Content: "earlier system note"},
		{Role: chat.RoleUser, Content: "first"},
	}, first)

	second := inference.contexts[1]
	require.Len(t, second, 5)
	require.Equal(t, chat.ContextMessage{Role: chat.RoleSystem, Content: systemPrompt}, second[0])
	require.Equal(t, chat.ContextMessage{Role: chat.RoleUser, Content: "second"}, second[4])
}

func TestHandleTurnRejectsEmptyText(t *testing.T) {
	inference := fixedReply("unused")
	orch, store := setup(t, inference)

	_, err := orch.HandleTurn(context.Background(), "s1", "")
	require.Error(t, err)
	require.True(t, chat.IsValidation(err))
	require.Zero(t, store.Len("s1"))
	require.Empty(t, store.Keys())
	require.Empty(t, inference.contexts)
}

func TestHandleTurnInferenceFailureKeepsUserMessage(t *testing.T) {
	failing := true
	inference := &stubInference{reply: func([]chat.ContextMessage) (string, error) {
		if failing {
			return "", errors.New("model unavailable")
		}
		return "recovered", nil
	}}
	orch, store := setup(t, inference)
	ctx := context.Background()

	_, err := orch.HandleTurn(ctx, "s1", "Hello")
	require.Error(t, err)
	require.True(t, chat.IsInference(err))

	history, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, chat.RoleUser, history[0].Role)

	failing = false
	history, err = orch.HandleTurn(ctx, "s1", "Hello again")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "Hello", history[0].Content)
	require.Equal(t, "Hello again", history[1].Content)
	require.Equal(t, "recovered", history[2].Content)
}

func TestHandleTurnEmptyReplyIsInferenceFailure(t *testing.T) {
	orch, store := setup(t, fixedReply(""))

	_, err := orch.HandleTurn(context.Background(), "s1", "Hello")
	require.True(t, chat.IsInference(err))
	require.Equal(t, 1, store.Len("s1"))
}

func TestHandleTurnIsolatesKeys(t *testing.T) {
	inference := &stubInference{reply: func(messages []chat.ContextMessage) (string, error) {
		return "echo " + messages[len(messages)-1].Content, nil
	}}
	orch, store := setup(t, inference)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, key := range []string{"A", "B"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := orch.HandleTurn(ctx, key, key)
				assert.NoError(t, err)
			}
		}(key)
	}
	wg.Wait()

	for _, key := range []string{"A", "B"} {
		history, err := store.History(ctx, key)
		require.NoError(t, err)
		require.Len(t, history, 20)
		for _, msg := range history {
			require.Contains(t, msg.Content, key)
			other := "B"
			if key == "B" {
				other = "A"
			}
			require.NotContains(t, msg.Content, other)
		}
	}

	for _, messages := range inference.contexts {
		last := messages[len(messages)-1].Content
		for _, msg := range messages[1:] {
			require.Contains(t, msg.Content, last)
		}
	}
}

func TestHandleTurnSerializesConcurrentTurnsOnSameKey(t *testing.T) {
	entered := make(chan string, 2)
	unblock := make(chan struct{})
	inference := &stubInference{reply: func(messages []chat.ContextMessage) (string, error) {
		last := messages[len(messages)-1].Content
		entered <- last
		<-unblock
		return "reply to " + last, nil
	}}
	orch, store := setup(t, inference)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, text := range []string{"one", "two"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := orch.HandleTurn(ctx, "shared", text)
			assert.NoError(t, err)
		}(text)
	}

	first := <-entered
	// The second turn must not reach the store while the first is in flight.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, store.Len("shared"))

	history, err := orch.History(ctx, "shared")
	require.NoError(t, err, "reads must not wait for in-flight inference")
	require.Len(t, history, 1)
	require.Equal(t, first, history[0].Content)

	close(unblock)
	wg.Wait()

	history, err = store.History(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, chat.RoleUser, history[0].Role)
	require.Equal(t, chat.RoleAssistant, history[1].Role)
	require.Equal(t, "reply to "+history[0].Content, history[1].Content)
	require.Equal(t, chat.RoleUser, history[2].Role)
	require.Equal(t, chat.RoleAssistant, history[3].Role)
	require.Equal(t, "reply to "+history[2].Content, history[3].Content)
	require.NotEqual(t, history[0].Content, history[2].Content)
}

func TestHandleTurnGateWaitHonoursCancellation(t *testing.T) {
	unblock := make(chan struct{})
	inference := &stubInference{reply: func([]chat.ContextMessage) (string, error) {
		<-unblock
		return "done", nil
	}}
	orch, store := setup(t, inference)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := orch.HandleTurn(context.Background(), "s1", "first")
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return store.Len("s1") == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := orch.HandleTurn(ctx, "s1", "second")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, store.Len("s1"))

	close(unblock)
	<-done
	require.Equal(t, 2, store.Len("s1"))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := conversation.New(nil, fixedReply("x"), systemPrompt)
	require.Error(t, err)

	_, err = conversation.New(chatservice.NewStore(), nil, systemPrompt)
	require.Error(t, err)
}
