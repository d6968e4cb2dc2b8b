// Package messagebus delivers messages between registered agents:
// point-to-point when addressed, fan-out to everyone but the sender when
// broadcast. Delivery is in-memory and best-effort; inboxes are read-only
// history, consumption is the caller's business.
package messagebus

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/event"
	"github.com/taskmesh/taskmesh/pkg/oerr"
)

// Message is one delivered item. To is empty for broadcasts. Each
// recipient gets its own copy, never a shared reference.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Bus struct {
	mu      sync.RWMutex
	inboxes map[string][]Message
	bus     *event.Bus
}

func New(bus *event.Bus) *Bus {
	return &Bus{
		inboxes: make(map[string][]Message),
		bus:     bus,
	}
}

// Register creates an empty inbox for the agent. Idempotent.
func (b *Bus) Register(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.inboxes[agentID]; !exists {
		b.inboxes[agentID] = nil
	}
}

// Unregister drops the agent's inbox and any undelivered history.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, agentID)
}

// Send delivers a message. An empty "to" broadcasts to every registered
// agent except the sender; otherwise the single addressee must exist.
func (b *Bus) Send(ctx context.Context, msgType, from, to string, content any) (Message, error) {
	msg := Message{
		ID:        ulid.Make().String(),
		Type:      msgType,
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	if _, exists := b.inboxes[from]; !exists {
		b.mu.Unlock()
		return Message{}, oerr.Newf(oerr.UnknownAgent, "sender %s is not registered", from)
	}
	if to == "" {
		for agentID := range b.inboxes {
			if agentID == from {
				continue
			}
			b.inboxes[agentID] = append(b.inboxes[agentID], msg)
		}
	} else {
		if _, exists := b.inboxes[to]; !exists {
			b.mu.Unlock()
			return Message{}, oerr.Newf(oerr.UnknownAgent, "recipient %s is not registered", to)
		}
		b.inboxes[to] = append(b.inboxes[to], msg)
	}
	b.mu.Unlock()

	b.bus.Publish(ctx, event.MessageSent, "messagebus", event.MessageSentData{
		MessageID: msg.ID,
		From:      from,
		To:        to,
		Broadcast: to == "",
	})
	return msg, nil
}

// Inbox returns the agent's messages in arrival order. A pure read:
// messages stay in the inbox.
func (b *Bus) Inbox(agentID string) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs, exists := b.inboxes[agentID]
	if !exists {
		return nil, oerr.Newf(oerr.UnknownAgent, "agent %s is not registered", agentID)
	}
	return append([]Message(nil), msgs...), nil
}
