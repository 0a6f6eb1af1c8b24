package notif

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"arunika/internal/common"
	"arunika/internal/dbmysql"
)

// NotificationQueries is the read slice of the notification store the
// engine polls.
type NotificationQueries interface {
	LatestID(ctx context.Context, recipientID string) (uint64, error)
	LatestUnread(ctx context.Context, recipientID string) (*dbmysql.Notification, error)
	RecentUnread(ctx context.Context, recipientID string, limit int) ([]*dbmysql.Notification, error)
}

// Popup is one surfaced notification, possibly grouped with recent
// unread siblings from the same task.
type Popup struct {
	Notification *dbmysql.Notification
	// Display is the synthesized message: the notification's own text
	// when standalone, a compound summary when grouped.
	Display string
	// Avatars holds the sender avatar stack, the surfaced sender first,
	// three at most.
	Avatars    []string
	Grouped    bool
	SurfacedAt time.Time
}

// EngineOptions tunes delivery behavior.
type EngineOptions struct {
	// PollInterval is the fallback poll cadence, 2s when zero.
	PollInterval time.Duration
	// PopupTTL is the auto-dismiss timer, 10s when zero.
	PopupTTL time.Duration
	// GroupLookback caps how many recent unread rows grouping inspects,
	// 5 when zero.
	GroupLookback int
	// PollWhilePushHealthy keeps the fallback poll running even while
	// the push channel delivers. The source behaved this way; turning
	// it off skips polls while the subscription is up.
	PollWhilePushHealthy bool
	// OnPopup receives every surfaced popup. Called from engine
	// goroutines; the UI layer marshals onto its own loop.
	OnPopup func(Popup)
}

// Engine unifies the push feed and the polling fallback into a single
// deduplicated stream of popups for one recipient. Both paths funnel
// through the same monotonic id guard, so a notification observed by
// both never surfaces twice, and only one popup shows at a time.
type Engine struct {
	userID  string
	queries NotificationQueries
	feed    common.ChangeSubscriber
	opts    EngineOptions

	// lastProcessed is the dedup guard both paths race on. Claimed by
	// compare-and-swap, never check-then-set, so the race window
	// between observing and recording an id is closed.
	lastProcessed atomic.Uint64
	pushHealthy   atomic.Bool

	mu      sync.Mutex
	current *Popup
	timer   *time.Timer

	sub     common.Subscription
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func NewEngine(userID string, queries NotificationQueries, feed common.ChangeSubscriber, opts EngineOptions) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PopupTTL <= 0 {
		opts.PopupTTL = 10 * time.Second
	}
	if opts.GroupLookback <= 0 {
		opts.GroupLookback = 5
	}
	return &Engine{
		userID:  userID,
		queries: queries,
		feed:    feed,
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// Start establishes the baseline, opens the push subscription, and
// launches the poll loop. Pre-existing notifications never pop up: the
// guard is seeded with the newest id on record, read or not, so only
// rows inserted after this point surface.
func (e *Engine) Start(ctx context.Context) error {
	baseline, err := e.queries.LatestID(ctx, e.userID)
	if err != nil {
		return fmt.Errorf("failed to establish notification baseline: %w", err)
	}
	e.lastProcessed.Store(baseline)

	if e.feed != nil {
		sub, err := e.feed.Subscribe(ctx, "notifications",
			common.Filter{"recipient_id": e.userID}, common.OpInsert)
		if err != nil {
			// push is an optimization; polling alone still delivers
			log.Printf("notification engine: push subscribe failed, polling only: %v", err)
		} else {
			e.sub = sub
			e.pushHealthy.Store(true)
			e.wg.Add(1)
			go e.receivePush(ctx, sub)
		}
	}

	e.wg.Add(1)
	go e.pollLoop(ctx)
	return nil
}

func (e *Engine) receivePush(ctx context.Context, sub common.Subscription) {
	defer e.wg.Done()
	defer e.pushHealthy.Store(false)
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			var notif dbmysql.Notification
			if err := common.DecodeRow(ev, &notif); err != nil {
				log.Printf("notification engine: dropping malformed push event: %v", err)
				continue
			}
			e.process(ctx, &notif)
		}
	}
}

// pollLoop is the pull path: a fixed-cadence query for the newest
// unread row. It never backs off on empty results.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			if !e.opts.PollWhilePushHealthy && e.pushHealthy.Load() {
				continue
			}
			notif, err := e.queries.LatestUnread(ctx, e.userID)
			if err != nil {
				log.Printf("notification engine: poll failed: %v", err)
				continue
			}
			if notif != nil {
				e.process(ctx, notif)
			}
		}
	}
}

// process runs a candidate from either path through the shared guard
// and surfaces it when it wins the claim.
func (e *Engine) process(ctx context.Context, notif *dbmysql.Notification) {
	if !e.claim(notif.ID) {
		return
	}
	e.surface(ctx, notif)
}

// claim advances the guard to id; ids at or below the current mark are
// already processed (or superseded) and lose.
func (e *Engine) claim(id uint64) bool {
	for {
		cur := e.lastProcessed.Load()
		if id <= cur {
			return false
		}
		if e.lastProcessed.CompareAndSwap(cur, id) {
			return true
		}
	}
}

// surface applies the grouping rules and shows the popup. Grouping
// inspects up to GroupLookback recent unread rows for siblings on the
// same task from other senders; without a task id or siblings the
// notification shows standalone.
func (e *Engine) surface(ctx context.Context, notif *dbmysql.Notification) {
	popup := Popup{
		Notification: notif,
		Display:      notif.Message,
		SurfacedAt:   time.Now(),
	}
	if avatar := notif.Metadata.String("sender_avatar"); avatar != "" {
		popup.Avatars = []string{avatar}
	}

	taskID := notif.Metadata.String("task_id")
	if taskID != "" {
		siblings := e.siblings(ctx, notif, taskID)
		if len(siblings) > 0 {
			popup.Grouped = true
			popup.Display = groupMessage(notif, siblings)
			popup.Avatars = avatarStack(notif, siblings)
		}
	}

	e.show(popup)
}

func (e *Engine) siblings(ctx context.Context, notif *dbmysql.Notification, taskID string) []*dbmysql.Notification {
	recent, err := e.queries.RecentUnread(ctx, e.userID, e.opts.GroupLookback)
	if err != nil {
		log.Printf("notification engine: sibling lookup failed: %v", err)
		return nil
	}
	sender := notif.Metadata.String("sender_id")
	var siblings []*dbmysql.Notification
	for _, candidate := range recent {
		if candidate.ID == notif.ID {
			continue
		}
		if candidate.Metadata.String("task_id") != taskID {
			continue
		}
		if candidate.Metadata.String("sender_id") == sender {
			continue
		}
		siblings = append(siblings, candidate)
	}
	return siblings
}

// groupMessage synthesizes the compound text: two distinct senders in
// total name both; more than two name the first pair and count the
// rest against the sibling total.
func groupMessage(notif *dbmysql.Notification, siblings []*dbmysql.Notification) string {
	names := []string{senderName(notif)}
	seen := map[string]struct{}{notif.Metadata.String("sender_id"): {}}
	for _, s := range siblings {
		id := s.Metadata.String("sender_id")
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		names = append(names, senderName(s))
	}

	if len(names) == 2 {
		return fmt.Sprintf("%s and %s commented on this task.", names[0], names[1])
	}
	return fmt.Sprintf("%s, %s and +%d others commented.", names[0], names[1], len(siblings)-1)
}

// avatarStack builds the grouped avatar list: the surfaced sender plus
// up to two distinct others.
func avatarStack(notif *dbmysql.Notification, siblings []*dbmysql.Notification) []string {
	avatars := make([]string, 0, 3)
	seen := make(map[string]struct{})
	add := func(n *dbmysql.Notification) {
		if len(avatars) >= 3 {
			return
		}
		id := n.Metadata.String("sender_id")
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		avatars = append(avatars, n.Metadata.String("sender_avatar"))
	}
	add(notif)
	for _, s := range siblings {
		add(s)
	}
	return avatars
}

func senderName(n *dbmysql.Notification) string {
	if name := n.Metadata.String("sender_name"); name != "" {
		return name
	}
	return "Someone"
}

// show replaces whatever popup is currently visible; surfacing is
// last-one-wins with no backlog, and each popup auto-dismisses after
// the TTL unless dismissed or clicked first.
func (e *Engine) show(popup Popup) {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	shown := popup
	e.current = &shown
	e.timer = time.AfterFunc(e.opts.PopupTTL, func() {
		e.expire(shown.Notification.ID)
	})
	sink := e.opts.OnPopup
	e.mu.Unlock()

	if sink != nil {
		sink(popup)
	}
}

// expire clears the popup when the TTL fires, unless a newer one has
// already replaced it.
func (e *Engine) expire(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.Notification.ID == id {
		e.current = nil
	}
}

// Dismiss clears the visible popup on explicit user action or
// click-through, cancelling the auto-dismiss timer.
func (e *Engine) Dismiss() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.current = nil
}

// Current returns the visible popup, nil when none is showing.
func (e *Engine) Current() *Popup {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	c := *e.current
	return &c
}

// LastProcessedID exposes the guard value, mainly for diagnostics.
func (e *Engine) LastProcessedID() uint64 {
	return e.lastProcessed.Load()
}

// Stop tears the engine down; safe to call more than once.
func (e *Engine) Stop() {
	e.stopped.Do(func() {
		close(e.done)
		if e.sub != nil {
			_ = e.sub.Close()
		}
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
		e.wg.Wait()
	})
}
