// Package thread holds the authoritative client-side view of one
// container's messages: threading, reactions, read receipts. Local
// writes apply optimistically and reconcile against confirmed server
// rows; realtime changes trigger a full refetch rather than
// incremental patching.
package thread

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"arunika/internal/common"
	"arunika/internal/dbmysql"

	"github.com/google/uuid"
)

// MessageRepo, ReactionRepo and ReadRepo are the slices of the store
// gateway this package consumes.
type MessageRepo interface {
	Create(ctx context.Context, msg *dbmysql.Message) (*dbmysql.Message, error)
	ListByContainer(ctx context.Context, containerID string) ([]*dbmysql.Message, error)
	Delete(ctx context.Context, messageID string) error
}

type ReactionRepo interface {
	Add(ctx context.Context, reaction *dbmysql.MessageReaction) error
	Remove(ctx context.Context, messageID, userID, emoji string) error
	ListByContainer(ctx context.Context, containerID string) ([]*dbmysql.MessageReaction, error)
}

type ReadRepo interface {
	Upsert(ctx context.Context, messageIDs []string, userID string) error
	ListByContainer(ctx context.Context, containerID string) ([]*dbmysql.MessageRead, error)
}

// Notifier receives the confirmed actions that may fan out
// notifications. The acting user never notifies themselves; the
// notifier enforces that.
type Notifier interface {
	MessageSent(ctx context.Context, msg *dbmysql.Message)
	ReactionAdded(ctx context.Context, msg *Message, reactorID, emoji string)
}

// Message is the client view of one row, with reaction and read state
// folded in. Pending marks an optimistic row the server has not
// confirmed yet.
type Message struct {
	ID          string
	ContainerID string
	SenderID    string
	ParentID    string
	Content     string
	CreatedAt   time.Time
	Pending     bool
	Reactions   map[string][]string // emoji -> user ids, insertion order
	Reads       []string
}

func (m *Message) clone() *Message {
	c := *m
	c.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		c.Reactions[emoji] = append([]string(nil), users...)
	}
	c.Reads = append([]string(nil), m.Reads...)
	return &c
}

// Thread is one root message with its replies. Orphaned replies (the
// root was deleted) surface as their own root so they stay visible.
type Thread struct {
	Root    *Message
	Replies []*Message
}

type Options struct {
	// RollbackOnFailure removes the optimistic row when the backend
	// insert fails. Default keeps it, favoring local continuity.
	RollbackOnFailure bool
	// OnError surfaces non-silent failures (sends, deletes) to the UI.
	OnError func(error)
	// OnChange fires after every local view change.
	OnChange func()
	// Notifier fans out mention/reply/reaction notifications after the
	// backend confirms the triggering action.
	Notifier Notifier
}

type Store struct {
	containerID string
	userID      string

	messages  MessageRepo
	reactions ReactionRepo
	reads     ReadRepo
	feed      common.ChangeSubscriber
	opts      Options

	mu    sync.RWMutex
	byID  map[string]*Message
	order []string

	// active guards against callbacks landing after Close; a stale
	// subscription firing into a discarded store must be ignored.
	active atomic.Bool
	subs   []common.Subscription
	wg     sync.WaitGroup
}

func NewStore(
	containerID, userID string,
	messages MessageRepo,
	reactions ReactionRepo,
	reads ReadRepo,
	feed common.ChangeSubscriber,
	opts Options,
) *Store {
	s := &Store{
		containerID: containerID,
		userID:      userID,
		messages:    messages,
		reactions:   reactions,
		reads:       reads,
		feed:        feed,
		opts:        opts,
		byID:        make(map[string]*Message),
	}
	s.active.Store(true)
	return s
}

// Open performs the initial fetch and subscribes to the change feed.
// Any change on the container's rows triggers a full refetch.
func (s *Store) Open(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	if s.feed == nil {
		return nil
	}

	msgSub, err := s.feed.Subscribe(ctx, "messages", common.Filter{"container_id": s.containerID})
	if err != nil {
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}
	s.subs = append(s.subs, msgSub)

	// reaction and read rows carry no container column; subscribe wide
	// and keep only events for messages this store holds
	for _, table := range []string{"message_reactions", "message_reads"} {
		sub, err := s.feed.Subscribe(ctx, table, nil)
		if err != nil {
			s.closeSubs()
			return fmt.Errorf("failed to subscribe to %s: %w", table, err)
		}
		s.subs = append(s.subs, sub)
	}

	for _, sub := range s.subs {
		s.wg.Add(1)
		go s.watch(ctx, sub)
	}
	return nil
}

func (s *Store) watch(ctx context.Context, sub common.Subscription) {
	defer s.wg.Done()
	for ev := range sub.Events() {
		if !s.active.Load() {
			return
		}
		if !s.relevant(ev) {
			continue
		}
		if err := s.Refresh(ctx); err != nil {
			log.Printf("thread store refresh after %s %s failed: %v", ev.Operation, ev.Table, err)
		}
	}
}

func (s *Store) relevant(ev common.ChangeEvent) bool {
	if ev.Table == "messages" {
		return true // already filtered by container
	}
	messageID, _ := ev.Row["message_id"].(string)
	if messageID == "" {
		return false
	}
	s.mu.RLock()
	_, known := s.byID[messageID]
	s.mu.RUnlock()
	return known
}

// Refresh fetches all rows for the container and replaces the local
// view. Pending optimistic rows the server has not confirmed are
// carried over so an in-flight send never flickers out.
func (s *Store) Refresh(ctx context.Context) error {
	rows, err := s.messages.ListByContainer(ctx, s.containerID)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	reactionRows, err := s.reactions.ListByContainer(ctx, s.containerID)
	if err != nil {
		return fmt.Errorf("failed to fetch reactions: %w", err)
	}
	readRows, err := s.reads.ListByContainer(ctx, s.containerID)
	if err != nil {
		return fmt.Errorf("failed to fetch read receipts: %w", err)
	}

	byID := make(map[string]*Message, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		msg := &Message{
			ID:          row.ID,
			ContainerID: row.ContainerID,
			SenderID:    row.SenderID,
			Content:     row.Content,
			CreatedAt:   row.CreatedAt,
			Reactions:   make(map[string][]string),
		}
		if row.ParentID != nil {
			msg.ParentID = *row.ParentID
		}
		byID[msg.ID] = msg
		order = append(order, msg.ID)
	}
	for _, r := range reactionRows {
		if msg, ok := byID[r.MessageID]; ok {
			addReaction(msg, r.Emoji, r.UserID)
		}
	}
	for _, r := range readRows {
		if msg, ok := byID[r.MessageID]; ok {
			addRead(msg, r.UserID)
		}
	}

	s.mu.Lock()
	if !s.active.Load() {
		s.mu.Unlock()
		return nil
	}
	for _, id := range s.order {
		old := s.byID[id]
		if old.Pending {
			if _, confirmed := byID[id]; !confirmed {
				byID[id] = old
				order = append(order, id)
			}
		}
	}
	s.byID = byID
	s.order = order
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// Send appends an optimistic row and fires the backend insert without
// blocking. The returned message carries the temporary id; the
// confirmed server id replaces it on acknowledgment. A failed insert
// surfaces through OnError and, unless RollbackOnFailure is set,
// leaves the optimistic row in place.
func (s *Store) Send(ctx context.Context, content, parentID string) *Message {
	parentID = s.clampParent(parentID)

	temp := &Message{
		ID:          "local-" + uuid.NewString(),
		ContainerID: s.containerID,
		SenderID:    s.userID,
		ParentID:    parentID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		Pending:     true,
		Reactions:   make(map[string][]string),
	}

	s.mu.Lock()
	s.byID[temp.ID] = temp
	s.order = append(s.order, temp.ID)
	s.mu.Unlock()
	s.notifyChange()

	row := &dbmysql.Message{
		ContainerID: s.containerID,
		SenderID:    s.userID,
		Content:     content,
	}
	if parentID != "" {
		p := parentID
		row.ParentID = &p
	}

	tempID := temp.ID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		saved, err := s.messages.Create(ctx, row)
		if !s.active.Load() {
			return
		}
		if err != nil {
			s.surfaceError(fmt.Errorf("failed to send message: %w", err))
			if s.opts.RollbackOnFailure {
				s.remove(tempID)
			}
			return
		}
		s.confirm(tempID, saved)
		if s.opts.Notifier != nil {
			s.opts.Notifier.MessageSent(ctx, saved)
		}
	}()

	return temp.clone()
}

// clampParent enforces one-level threading: replying to a reply
// attaches to the reply's root ancestor instead.
func (s *Store) clampParent(parentID string) string {
	if parentID == "" {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.byID[parentID]
	if !ok {
		return parentID
	}
	if parent.ParentID != "" {
		return parent.ParentID
	}
	return parentID
}

// confirm swaps the temporary row for the server row, guarding against
// a refetch having already replaced it.
func (s *Store) confirm(tempID string, saved *dbmysql.Message) {
	s.mu.Lock()
	temp, ok := s.byID[tempID]
	if !ok {
		// a refetch already delivered the confirmed row
		s.mu.Unlock()
		return
	}
	delete(s.byID, tempID)
	confirmed := temp.clone()
	confirmed.ID = saved.ID
	confirmed.CreatedAt = saved.CreatedAt
	if saved.ParentID != nil {
		confirmed.ParentID = *saved.ParentID
	} else {
		confirmed.ParentID = ""
	}
	confirmed.Pending = false

	if _, dup := s.byID[saved.ID]; dup {
		// refetch raced us and holds the server row; drop the temp slot
		s.removeFromOrder(tempID)
	} else {
		s.byID[saved.ID] = confirmed
		for i, id := range s.order {
			if id == tempID {
				s.order[i] = saved.ID
				break
			}
		}
	}
	s.mu.Unlock()
	s.notifyChange()
}

func (s *Store) remove(id string) {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byID, id)
	s.removeFromOrder(id)
	s.mu.Unlock()
	s.notifyChange()
}

func (s *Store) removeFromOrder(id string) {
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// ToggleReaction flips membership of (message, user, emoji): present is
// removed, absent is added. Applying it twice restores the original
// state. The local view updates immediately; the backend write follows
// asynchronously and duplicate-key noise is absorbed by the gateway.
func (s *Store) ToggleReaction(ctx context.Context, messageID, emoji string) {
	s.mu.Lock()
	msg, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	removing := hasReaction(msg, emoji, s.userID)
	if removing {
		removeReaction(msg, emoji, s.userID)
	} else {
		addReaction(msg, emoji, s.userID)
	}
	snapshot := msg.clone()
	s.mu.Unlock()
	s.notifyChange()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if removing {
			err = s.reactions.Remove(ctx, messageID, s.userID, emoji)
		} else {
			err = s.reactions.Add(ctx, &dbmysql.MessageReaction{
				MessageID: messageID,
				UserID:    s.userID,
				Emoji:     emoji,
			})
		}
		if !s.active.Load() {
			return
		}
		if err != nil {
			s.surfaceError(fmt.Errorf("failed to toggle reaction: %w", err))
			return
		}
		if !removing && s.opts.Notifier != nil {
			s.opts.Notifier.ReactionAdded(ctx, snapshot, s.userID, emoji)
		}
	}()
}

// MarkRead upserts read receipts for the given messages; repeat calls
// are no-ops all the way down.
func (s *Store) MarkRead(ctx context.Context, messageIDs ...string) {
	if len(messageIDs) == 0 {
		return
	}
	s.mu.Lock()
	var dirty bool
	for _, id := range messageIDs {
		if msg, ok := s.byID[id]; ok {
			if addRead(msg, s.userID) {
				dirty = true
			}
		}
	}
	s.mu.Unlock()
	if dirty {
		s.notifyChange()
	}

	ids := append([]string(nil), messageIDs...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.reads.Upsert(ctx, ids, s.userID); err != nil && s.active.Load() {
			// read receipts are best-effort, nothing to surface
			log.Printf("read receipt upsert failed: %v", err)
		}
	}()
}

// Delete removes the message locally at once and fires the hard delete
// asynchronously; replies stay behind as orphans.
func (s *Store) Delete(ctx context.Context, messageID string) {
	s.remove(messageID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.messages.Delete(ctx, messageID); err != nil && s.active.Load() {
			s.surfaceError(fmt.Errorf("failed to delete message: %w", err))
		}
	}()
}

// Get returns a copy of one message, nil when absent.
func (s *Store) Get(messageID string) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if msg, ok := s.byID[messageID]; ok {
		return msg.clone()
	}
	return nil
}

// Threads rebuilds the one-level parent/replies tree in creation
// order. A reply whose root is gone is promoted to its own thread.
func (s *Store) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var threads []Thread
	index := make(map[string]int)
	var orphans []*Message

	for _, id := range s.order {
		msg := s.byID[id]
		if msg.ParentID == "" {
			index[msg.ID] = len(threads)
			threads = append(threads, Thread{Root: msg.clone()})
		}
	}
	for _, id := range s.order {
		msg := s.byID[id]
		if msg.ParentID == "" {
			continue
		}
		if at, ok := index[msg.ParentID]; ok {
			threads[at].Replies = append(threads[at].Replies, msg.clone())
		} else {
			orphans = append(orphans, msg.clone())
		}
	}
	for i := range threads {
		sort.SliceStable(threads[i].Replies, func(a, b int) bool {
			return threads[i].Replies[a].CreatedAt.Before(threads[i].Replies[b].CreatedAt)
		})
	}
	for _, o := range orphans {
		threads = append(threads, Thread{Root: o})
	}
	return threads
}

// Len reports how many messages the view currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close tears down subscriptions and marks the store inactive so late
// callbacks are ignored.
func (s *Store) Close() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.closeSubs()
	s.wg.Wait()
}

func (s *Store) closeSubs() {
	for _, sub := range s.subs {
		_ = sub.Close()
	}
	s.subs = nil
}

func (s *Store) surfaceError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
		return
	}
	log.Printf("thread store: %v", err)
}

func (s *Store) notifyChange() {
	if s.opts.OnChange != nil && s.active.Load() {
		s.opts.OnChange()
	}
}

func hasReaction(msg *Message, emoji, userID string) bool {
	for _, u := range msg.Reactions[emoji] {
		if u == userID {
			return true
		}
	}
	return false
}

func addReaction(msg *Message, emoji, userID string) {
	if hasReaction(msg, emoji, userID) {
		return
	}
	msg.Reactions[emoji] = append(msg.Reactions[emoji], userID)
}

func removeReaction(msg *Message, emoji, userID string) {
	users := msg.Reactions[emoji]
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			break
		}
	}
	if len(users) == 0 {
		delete(msg.Reactions, emoji)
	} else {
		msg.Reactions[emoji] = users
	}
}

func addRead(msg *Message, userID string) bool {
	for _, u := range msg.Reads {
		if u == userID {
			return false
		}
	}
	msg.Reads = append(msg.Reads, userID)
	return true
}
