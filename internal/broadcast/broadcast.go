// Package broadcast replicates cart and shift state across every open UI
// instance of one terminal. Messages carry the entire resulting state, never
// a delta; receivers replace their mirror wholesale. A per-origin sequence
// number lets receivers drop stale messages that arrive out of order.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	TopicCartSync  = "CART_SYNC"
	TopicShiftSync = "SHIFT_SYNC"
)

// Message is one full-state broadcast. Payload is a complete replacement for
// the receiver's state on that topic, never a patch.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Origin  string          `json:"origin"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type Handler func(msg Message)

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers a handler for one topic and returns an
	// unsubscribe func. Handlers receive the publisher's own messages too;
	// callers filter on Origin.
	Subscribe(topic string, handler Handler) func()
	Close() error
}

// Publisher stamps outgoing messages with a stable origin id and a
// monotonically increasing sequence number per publisher.
type Publisher struct {
	bus    Bus
	origin string
	seq    atomic.Uint64
}

func NewPublisher(bus Bus) *Publisher {
	return &Publisher{bus: bus, origin: uuid.NewString()}
}

func (p *Publisher) Origin() string {
	return p.origin
}

// PublishState marshals state and broadcasts it on topic.
func (p *Publisher) PublishState(ctx context.Context, topic string, state any) error {
	msg, err := p.NextState(topic, state)
	if err != nil {
		return err
	}
	return p.Send(ctx, msg)
}

// NextState stamps state as a sequenced message without sending it. A caller
// that mutates under a lock stamps inside the critical section, so sequence
// order matches mutation order, and Sends after releasing the lock; bus
// handlers then never run while the caller's lock is held. Receivers drop
// whichever of two concurrent messages carries the older sequence.
func (p *Publisher) NextState(topic string, state any) (Message, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:      uuid.NewString(),
		Type:    topic,
		Origin:  p.origin,
		Seq:     p.seq.Add(1),
		Payload: payload,
	}, nil
}

// Send broadcasts a message previously stamped by NextState.
func (p *Publisher) Send(ctx context.Context, msg Message) error {
	return p.bus.Publish(ctx, msg)
}

// SeqGuard tracks the highest sequence seen per origin so a subscriber can
// reject broadcasts that arrive after a newer one from the same origin.
type SeqGuard struct {
	mu   sync.Mutex
	seen map[string]uint64
}

func NewSeqGuard() *SeqGuard {
	return &SeqGuard{seen: make(map[string]uint64)}
}

// Accept reports whether msg is fresh and records its sequence if so.
func (g *SeqGuard) Accept(msg Message) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.seen[msg.Origin]; ok && msg.Seq <= last {
		return false
	}
	g.seen[msg.Origin] = msg.Seq
	return true
}
