package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries presence frames over redis pub/sub, one channel per
// workspace topic.
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Join(ctx context.Context, topic string) (Channel, error) {
	pubsub := b.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to join topic %s: %w", topic, err)
	}

	ch := &redisChannel{
		rdb:    b.rdb,
		topic:  topic,
		pubsub: pubsub,
		events: make(chan Announce, 32),
		done:   make(chan struct{}),
	}
	go ch.receive()
	return ch, nil
}

type redisChannel struct {
	rdb    *redis.Client
	topic  string
	pubsub *redis.PubSub
	events chan Announce
	done   chan struct{}
	once   sync.Once
}

func (c *redisChannel) Track(ctx context.Context, a Announce) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode presence frame: %w", err)
	}
	return c.rdb.Publish(ctx, c.topic, payload).Err()
}

func (c *redisChannel) Events() <-chan Announce { return c.events }

func (c *redisChannel) Leave() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.pubsub.Close()
	})
	return err
}

func (c *redisChannel) receive() {
	defer close(c.events)
	ch := c.pubsub.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var a Announce
			if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
				log.Printf("presence: dropping malformed frame on %s: %v", c.topic, err)
				continue
			}
			select {
			case c.events <- a:
			case <-c.done:
				return
			default:
				// presence is level-based, a dropped frame is
				// recovered by the next heartbeat
			}
		}
	}
}

// MemoryBus fans frames out between sessions of one process. Used in
// tests and single-node deployments.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string][]*memoryChannel
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string][]*memoryChannel)}
}

func (b *MemoryBus) Join(_ context.Context, topic string) (Channel, error) {
	ch := &memoryChannel{
		bus:    b,
		topic:  topic,
		events: make(chan Announce, 32),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *MemoryBus) broadcast(topic string, a Announce) {
	b.mu.Lock()
	members := append([]*memoryChannel(nil), b.topics[topic]...)
	b.mu.Unlock()
	for _, ch := range members {
		select {
		case ch.events <- a:
		case <-ch.done:
		}
	}
}

func (b *MemoryBus) remove(topic string, ch *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.topics[topic]
	for i, m := range members {
		if m == ch {
			b.topics[topic] = append(members[:i], members[i+1:]...)
			break
		}
	}
}

type memoryChannel struct {
	bus    *MemoryBus
	topic  string
	events chan Announce
	done   chan struct{}
	once   sync.Once
}

func (c *memoryChannel) Track(_ context.Context, a Announce) error {
	c.bus.broadcast(c.topic, a)
	return nil
}

func (c *memoryChannel) Events() <-chan Announce { return c.events }

func (c *memoryChannel) Leave() error {
	c.once.Do(func() {
		c.bus.remove(c.topic, c)
		close(c.done)
	})
	return nil
}
