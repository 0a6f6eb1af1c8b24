// Package presence maintains the ephemeral online set of a workspace.
// Each session announces itself on a per-workspace broadcast topic and
// heartbeats while alive; nothing is persisted, the set is rebuilt from
// scratch every session.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	StateJoining State = iota
	StateTracked
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateTracked:
		return "tracked"
	case StateLeft:
		return "left"
	}
	return "unknown"
}

// Announce is one presence broadcast frame.
type Announce struct {
	Kind      string    `json:"kind"` // track or leave
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	SentAt    time.Time `json:"sent_at"`
}

const (
	KindTrack = "track"
	KindLeave = "leave"
)

// Channel is one joined broadcast topic.
type Channel interface {
	Track(ctx context.Context, a Announce) error
	Events() <-chan Announce
	Leave() error
}

// Bus joins broadcast topics. Implementations: RedisBus for deployed
// use, MemoryBus for single-process use and tests.
type Bus interface {
	Join(ctx context.Context, topic string) (Channel, error)
}

type session struct {
	userID   string
	lastSeen time.Time
}

// Tracker is one session's view of who is online in a workspace.
// Join moves it from joining to tracked; Leave ends it at left.
type Tracker struct {
	workspaceID string
	userID      string
	sessionID   string

	bus       Bus
	heartbeat time.Duration
	expiry    time.Duration

	mu       sync.RWMutex
	state    State
	sessions map[string]session
	onSync   func(online []string)

	ch   Channel
	done chan struct{}
	wg   sync.WaitGroup
}

func NewTracker(bus Bus, workspaceID, userID string, heartbeat, expiry time.Duration) *Tracker {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if expiry <= 0 {
		expiry = 3 * heartbeat
	}
	return &Tracker{
		workspaceID: workspaceID,
		userID:      userID,
		sessionID:   uuid.NewString(),
		bus:         bus,
		heartbeat:   heartbeat,
		expiry:      expiry,
		state:       StateJoining,
		sessions:    make(map[string]session),
		done:        make(chan struct{}),
	}
}

// OnSync registers a callback invoked with the full rebuilt online set
// after every change. Must be set before Join.
func (t *Tracker) OnSync(fn func(online []string)) { t.onSync = fn }

func topicFor(workspaceID string) string { return "presence:" + workspaceID }

// Join announces this session and starts tracking peers. The first
// track frame doubles as the join announcement; peers learn about us
// from it the same way we learn about them.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateJoining {
		t.mu.Unlock()
		return fmt.Errorf("tracker already %s", t.state)
	}
	t.mu.Unlock()

	ch, err := t.bus.Join(ctx, topicFor(t.workspaceID))
	if err != nil {
		return fmt.Errorf("failed to join presence topic: %w", err)
	}
	t.ch = ch

	if err := ch.Track(ctx, t.selfAnnounce()); err != nil {
		_ = ch.Leave()
		return fmt.Errorf("failed to announce presence: %w", err)
	}

	t.mu.Lock()
	t.state = StateTracked
	t.sessions[t.sessionID] = session{userID: t.userID, lastSeen: time.Now()}
	t.mu.Unlock()

	t.wg.Add(2)
	go t.receive()
	go t.heartbeatLoop(ctx)
	return nil
}

func (t *Tracker) selfAnnounce() Announce {
	return Announce{
		Kind:      KindTrack,
		SessionID: t.sessionID,
		UserID:    t.userID,
		SentAt:    time.Now(),
	}
}

func (t *Tracker) receive() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case a, ok := <-t.ch.Events():
			if !ok {
				return
			}
			t.apply(a)
		}
	}
}

func (t *Tracker) apply(a Announce) {
	if a.SessionID == "" || a.UserID == "" {
		return
	}
	t.mu.Lock()
	switch a.Kind {
	case KindTrack:
		t.sessions[a.SessionID] = session{userID: a.UserID, lastSeen: time.Now()}
	case KindLeave:
		delete(t.sessions, a.SessionID)
	default:
		t.mu.Unlock()
		return
	}
	online := t.rebuildLocked()
	sync := t.onSync
	t.mu.Unlock()

	if sync != nil {
		sync(online)
	}
}

func (t *Tracker) heartbeatLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.ch.Track(ctx, t.selfAnnounce()); err == nil {
				t.sweep()
			}
		}
	}
}

// sweep drops sessions whose heartbeats stopped; a torn-down channel
// that never sent a leave frame disappears this way.
func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-t.expiry)
	t.mu.Lock()
	changed := false
	for id, s := range t.sessions {
		if id != t.sessionID && s.lastSeen.Before(cutoff) {
			delete(t.sessions, id)
			changed = true
		}
	}
	var online []string
	sync := t.onSync
	if changed {
		online = t.rebuildLocked()
	}
	t.mu.Unlock()

	if changed && sync != nil {
		sync(online)
	}
}

// rebuildLocked replaces the whole exposed set from the session map.
// Multiple sessions of one user collapse to a single entry: the UI
// asks "is this person online", not "how many tabs".
func (t *Tracker) rebuildLocked() []string {
	users := make(map[string]struct{}, len(t.sessions))
	for _, s := range t.sessions {
		users[s.userID] = struct{}{}
	}
	online := make([]string, 0, len(users))
	for u := range users {
		online = append(online, u)
	}
	sort.Strings(online)
	return online
}

// OnlineUserIDs returns the deduplicated online set, sorted for a
// stable presentation order.
func (t *Tracker) OnlineUserIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rebuildLocked()
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		if s.userID == userID {
			return true
		}
	}
	return false
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Leave announces departure and tears the channel down. Idempotent.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateLeft {
		t.mu.Unlock()
		return nil
	}
	t.state = StateLeft
	t.mu.Unlock()

	close(t.done)
	// best-effort: peers that miss the leave frame expire us by timeout
	_ = t.ch.Track(ctx, Announce{
		Kind:      KindLeave,
		SessionID: t.sessionID,
		UserID:    t.userID,
		SentAt:    time.Now(),
	})
	err := t.ch.Leave()
	t.wg.Wait()
	return err
}
