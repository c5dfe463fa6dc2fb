package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/ragbot/backend/internal/service/chat"
)

type memorySink struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	fail     bool
	closed   bool
	gate     chan struct{}
}

func (m *memorySink) Publish(_ context.Context, channel string, payload []byte) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("redis down")
	}
	m.channels = append(m.channels, channel)
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestPublisherForwardsStoreAppendsInOrder(t *testing.T) {
	sink := &memorySink{}
	pub := NewPublisher(sink, 16)
	store := chatservice.NewStore(chatservice.WithObserver(pub))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, "s1", chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, pub.Close())

	require.True(t, sink.closed)
	require.Len(t, sink.payloads, 3)
	for i, payload := range sink.payloads {
		require.Equal(t, ChannelPrefix+"s1", sink.channels[i])

		var ev Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		require.Equal(t, "s1", ev.SessionKey)
		require.Equal(t, i, ev.Index)
		require.Equal(t, fmt.Sprintf("m%d", i), ev.Message.Content)
		require.Equal(t, chat.RoleUser, ev.Message.Role)
	}
}

func TestPublisherDropsWhenBufferFull(t *testing.T) {
	sink := &memorySink{gate: make(chan struct{})}
	pub := NewPublisher(sink, 1)

	// The worker holds at most one event in flight plus one buffered.
	for i := 0; i < 10; i++ {
		pub.MessageAppended("s1", i, chat.Message{Role: chat.RoleUser, Content: "x"})
	}
	close(sink.gate)
	require.NoError(t, pub.Close())

	require.LessOrEqual(t, len(sink.payloads), 2)
	require.NotEmpty(t, sink.payloads)
}

func TestPublisherIgnoresEventsAfterClose(t *testing.T) {
	sink := &memorySink{}
	pub := NewPublisher(sink, 4)
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	pub.MessageAppended("s1", 0, chat.Message{Role: chat.RoleUser, Content: "late"})
	require.Empty(t, sink.payloads)
}

func TestPublisherSurvivesSinkErrors(t *testing.T) {
	sink := &memorySink{fail: true}
	pub := NewPublisher(sink, 4)

	pub.MessageAppended("s1", 0, chat.Message{Role: chat.RoleUser, Content: "x"})
	require.NoError(t, pub.Close())
	require.Empty(t, sink.payloads)
	require.True(t, sink.closed)
}
