package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
)

// Observer is notified of every successful append. It runs while the
// session lock is held, so implementations must return quickly.
type Observer interface {
	MessageAppended(sessionKey string, index int, message chat.Message)
}

// Option configures a Store.
type Option func(*Store)

// WithObserver registers an append observer.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// session owns one conversation log. Its mutex linearizes all access to messages.
type session struct {
	mu       sync.Mutex
	messages []chat.Message
}

// Store keeps one ordered message log per session key in memory.
// Sessions are created on first append and live as long as the Store.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*session
	observers []Observer
	now       func() time.Time
}

// NewStore creates an empty in-memory session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*session),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append validates message, stamps it and appends it to the session log for
// sessionKey, returning the full history after the append.
func (s *Store) Append(_ context.Context, sessionKey string, message chat.Message) (chat.History, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}

	sess := s.getOrCreate(sessionKey)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ts := s.now()
	if n := len(sess.messages); n > 0 {
		if last := sess.messages[n-1].Timestamp; ts.Before(last) {
			ts = last
		}
	}
	message.Timestamp = ts
	sess.messages = append(sess.messages, message)

	index := len(sess.messages) - 1
	for _, o := range s.observers {
		o.MessageAppended(sessionKey, index, message)
	}

	return snapshot(sess.messages), nil
}

// History returns the current log for sessionKey. Unknown keys yield an
// empty history and do not create a session.
func (s *Store) History(_ context.Context, sessionKey string) (chat.History, error) {
	sess := s.lookup(sessionKey)
	if sess == nil {
		return chat.History{}, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return snapshot(sess.messages), nil
}

// Len returns the number of messages stored for sessionKey.
func (s *Store) Len(sessionKey string) int {
	sess := s.lookup(sessionKey)
	if sess == nil {
		return 0
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.messages)
}

// Keys lists the known session keys in lexical order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.sessions))
	for key := range s.sessions {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

func (s *Store) getOrCreate(sessionKey string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey]
	if !ok {
		sess = &session{messages: make([]chat.Message, 0, 16)}
		s.sessions[sessionKey] = sess
	}
	return sess
}

func (s *Store) lookup(sessionKey string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionKey]
}

func snapshot(messages []chat.Message) chat.History {
	copied := make(chat.History, len(messages))
	copy(copied, messages)
	return copied
}
