// Package feed wraps the backend's row-level change notification
// primitive. Mutations publish {operation, table, row} events onto a
// per-table pub/sub channel; subscribers receive the events matching
// their filter. Delivery is at-least-once while the connection is
// alive; consumers are expected to tolerate gaps (the notification
// engine backstops with polling, the thread store with full refetch).
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"arunika/internal/common"

	"github.com/redis/go-redis/v9"
)

func channelFor(table string) string { return "changes:" + table }

// Adapter is the subscribe side of the change feed. One Adapter serves
// any number of subscriptions; opening a subscription for a logical
// topic that already has one closes the old channel first, so a view
// switch never double-delivers.
type Adapter struct {
	rdb    *redis.Client
	buffer int

	mu     sync.Mutex
	active map[string]*subscription
}

func NewAdapter(rdb *redis.Client, channelBuffer int) *Adapter {
	if channelBuffer <= 0 {
		channelBuffer = 64
	}
	return &Adapter{
		rdb:    rdb,
		buffer: channelBuffer,
		active: make(map[string]*subscription),
	}
}

// topicKey fingerprints (table, filter) so a resubscribe to the same
// logical topic supersedes the previous channel.
func topicKey(table string, filter common.Filter) string {
	if len(filter) == 0 {
		return table
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(table)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, filter[k])
	}
	return b.String()
}

// Subscribe opens one logical change-feed channel for a table, scoped
// by an equality filter and an optional operation set (empty means all
// operations).
func (a *Adapter) Subscribe(ctx context.Context, table string, filter common.Filter, ops ...common.Operation) (common.Subscription, error) {
	if table == "" {
		return nil, fmt.Errorf("table cannot be empty")
	}

	pubsub := a.rdb.Subscribe(ctx, channelFor(table))
	// force the subscribe round-trip so a dead connection fails here,
	// not silently in the receive loop
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", table, err)
	}

	sub := &subscription{
		key:    topicKey(table, filter),
		table:  table,
		filter: filter,
		ops:    ops,
		pubsub: pubsub,
		events: make(chan common.ChangeEvent, a.buffer),
		done:   make(chan struct{}),
	}

	sub.onClose = func() {
		a.mu.Lock()
		if a.active[sub.key] == sub {
			delete(a.active, sub.key)
		}
		a.mu.Unlock()
	}

	a.mu.Lock()
	prev := a.active[sub.key]
	a.active[sub.key] = sub
	a.mu.Unlock()
	if prev != nil {
		// superseded channel: closed before the replacement starts
		// delivering, so a view switch never double-delivers
		prev.shutdown()
	}

	go sub.receive()
	return sub, nil
}

type subscription struct {
	key    string
	table  string
	filter common.Filter
	ops    []common.Operation

	pubsub  *redis.PubSub
	events  chan common.ChangeEvent
	done    chan struct{}
	onClose func()
	once    sync.Once
}

func (s *subscription) Events() <-chan common.ChangeEvent { return s.events }

func (s *subscription) Close() error {
	s.shutdown()
	return nil
}

func (s *subscription) shutdown() {
	s.once.Do(func() {
		close(s.done)
		if err := s.pubsub.Close(); err != nil {
			log.Printf("change feed close failed for %s: %v", s.table, err)
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// receive pumps raw pub/sub payloads into the event channel. The redis
// client resubscribes on connection drop by itself, so a dropped
// connection is invisible here beyond a gap in delivery. A consumer
// that cannot keep up loses the oldest pending semantics: events are
// dropped, not queued without bound.
func (s *subscription) receive() {
	defer close(s.events)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev common.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("change feed: dropping malformed event on %s: %v", s.table, err)
				continue
			}
			if !s.wants(ev) {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			default:
				log.Printf("change feed: subscriber for %s full, dropping %s event", s.table, ev.Operation)
			}
		}
	}
}

func (s *subscription) wants(ev common.ChangeEvent) bool {
	if len(s.ops) > 0 {
		matched := false
		for _, op := range s.ops {
			if ev.Operation == op {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return s.filter.Matches(ev.Row)
}

// Publisher is the emit side, used by the store gateway after each
// committed mutation.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, ev common.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}
	if err := p.rdb.Publish(ctx, channelFor(ev.Table), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}
