package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
)

// ChannelPrefix is prepended to the session key to form the pub/sub channel.
const ChannelPrefix = "chat:session:"

const publishTimeout = 3 * time.Second

// Event describes one message appended to a session.
type Event struct {
	SessionKey string       `json:"sessionKey"`
	Index      int          `json:"index"`
	Message    chat.Message `json:"message"`
}

// Sink delivers an encoded event to a channel.
type Sink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Publisher forwards store appends to a Sink from a single goroutine, so
// events for a session leave in append order. It never blocks the store: when
// the buffer is full the event is dropped.
type Publisher struct {
	sink   Sink
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewPublisher starts a publisher with the given buffer size.
func NewPublisher(sink Sink, buffer int) *Publisher {
	if buffer < 1 {
		buffer = 1
	}
	p := &Publisher{
		sink:   sink,
		events: make(chan Event, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// MessageAppended implements the chat store observer.
func (p *Publisher) MessageAppended(sessionKey string, index int, message chat.Message) {
	ev := Event{SessionKey: sessionKey, Index: index, Message: message}
	select {
	case <-p.quit:
		return
	default:
	}

	select {
	case p.events <- ev:
	default:
		log.Printf("[events] buffer full, dropping event session=%s index=%d", sessionKey, index)
	}
}

// Close flushes buffered events and releases the sink.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.quit)
		<-p.done
		err = p.sink.Close()
	})
	return err
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.events:
			p.publish(ev)
		case <-p.quit:
			for {
				select {
				case ev := <-p.events:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[events] marshal failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.sink.Publish(ctx, ChannelPrefix+ev.SessionKey, payload); err != nil {
		log.Printf("[events] publish failed session=%s index=%d: %v", ev.SessionKey, ev.Index, err)
	}
}
