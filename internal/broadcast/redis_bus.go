package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBus fans broadcasts out over a Redis pub/sub channel scoped to one
// terminal, so every UI process attached to that terminal mirrors the same
// state. The channel name is derived from the terminal id.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     *logrus.Logger

	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisBus(addr string, password string, db int, terminalID string, log *logrus.Logger) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	b := &RedisBus{
		client:   client,
		channel:  "warungpos:terminal:" + terminalID,
		log:      log,
		handlers: make(map[string]map[int]Handler),
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.receive(ctx)
	return b
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}
}

func (b *RedisBus) receive(ctx context.Context) {
	defer close(b.done)

	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				b.log.WithError(err).Warn("broadcast: dropping malformed message")
				continue
			}

			b.mu.RLock()
			subs := make([]Handler, 0, len(b.handlers[msg.Type]))
			for _, h := range b.handlers[msg.Type] {
				subs = append(subs, h)
			}
			b.mu.RUnlock()

			for _, h := range subs {
				h(msg)
			}
		}
	}
}

func (b *RedisBus) Close() error {
	b.cancel()
	<-b.done
	return b.client.Close()
}
