package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
)

// SessionStore is the append/read contract the orchestrator drives.
type SessionStore interface {
	Append(ctx context.Context, sessionKey string, message chat.Message) (chat.History, error)
	History(ctx context.Context, sessionKey string) (chat.History, error)
}

// InferenceClient maps a context to generated reply text.
type InferenceClient interface {
	Complete(ctx context.Context, messages []chat.ContextMessage) (string, error)
}

// Orchestrator runs one user turn at a time per session key:
// append user, build context, call the model, append the reply.
type Orchestrator struct {
	store        SessionStore
	inference    InferenceClient
	systemPrompt string

	mu    sync.Mutex
	gates map[string]chan struct{}
}

// New creates an orchestrator. systemPrompt is prepended to every context.
func New(store SessionStore, inference InferenceClient, systemPrompt string) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if inference == nil {
		return nil, errors.New("inference client is required")
	}
	return &Orchestrator{
		store:        store,
		inference:    inference,
		systemPrompt: systemPrompt,
		gates:        make(map[string]chan struct{}),
	}, nil
}

// HandleTurn appends userText to the session, asks the model for a reply and
// appends it. On inference failure the user message stays in the session and
// a *chat.InferenceError is returned.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionKey, userText string) (chat.History, error) {
	if userText == "" {
		return nil, &chat.ValidationError{Field: "message", Reason: "is required and must be a non-empty string"}
	}

	release, err := o.acquire(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", sessionKey, err)
	}
	defer release()

	turnID := uuid.NewString()
	started := time.Now()

	history, err := o.store.Append(ctx, sessionKey, chat.Message{Role: chat.RoleUser, Content: userText})
	if err != nil {
		return nil, err
	}

	reply, err := o.inference.Complete(ctx, o.buildContext(history))
	if err != nil {
		log.Printf("[turn] %s session=%s inference failed after %s: %v", turnID, sessionKey, time.Since(started).Round(time.Millisecond), err)
		if !chat.IsInference(err) {
			err = &chat.InferenceError{Err: err}
		}
		return nil, err
	}

	history, err = o.store.Append(ctx, sessionKey, chat.Message{Role: chat.RoleAssistant, Content: reply})
	if err != nil {
		// An empty reply fails store validation; it is still a model failure.
		return nil, &chat.InferenceError{Err: err}
	}

	log.Printf("[turn] %s session=%s completed, messages=%d elapsed=%s", turnID, sessionKey, len(history), time.Since(started).Round(time.Millisecond))
	return history, nil
}

// History returns the stored log for sessionKey without waiting for turns in flight.
func (o *Orchestrator) History(ctx context.Context, sessionKey string) (chat.History, error) {
	return o.store.History(ctx, sessionKey)
}

// buildContext prepends the system prompt to the full history. System
// messages already in history are kept as-is and nothing is truncated.
func (o *Orchestrator) buildContext(history chat.History) []chat.ContextMessage {
	messages := make([]chat.ContextMessage, 0, len(history)+1)
	messages = append(messages, chat.ContextMessage{Role: chat.RoleSystem, Content: o.systemPrompt})
	return append(messages, history.Context()...)
}

// acquire takes the turn gate for sessionKey, giving up when ctx ends.
func (o *Orchestrator) acquire(ctx context.Context, sessionKey string) (func(), error) {
	o.mu.Lock()
	gate, ok := o.gates[sessionKey]
	if !ok {
		gate = make(chan struct{}, 1)
		o.gates[sessionKey] = gate
	}
	o.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
