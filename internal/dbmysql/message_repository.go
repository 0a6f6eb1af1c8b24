package dbmysql

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"arunika/internal/common"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// rowOf flattens a model into the generic column map a change event
// carries, using the model's json tags for column names.
func rowOf(model any) map[string]any {
	raw, err := json.Marshal(model)
	if err != nil {
		return nil
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil
	}
	return row
}

// publish emits a change event for a committed mutation. Feed delivery
// is best-effort on top of a durable row, so a publish failure is
// logged, not returned; the polling fallback covers the gap.
func publish(ctx context.Context, pub common.ChangePublisher, op common.Operation, table string, model any) {
	if pub == nil {
		return
	}
	ev := common.ChangeEvent{Operation: op, Table: table, Row: rowOf(model)}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Printf("change feed publish failed for %s %s: %v", op, table, err)
	}
}

type MessageRepository struct {
	db  *gorm.DB
	pub common.ChangePublisher
}

func NewMessageRepository(db *gorm.DB, pub common.ChangePublisher) *MessageRepository {
	return &MessageRepository{db: db, pub: pub}
}

// Create inserts a message row, assigning the server id and timestamp.
// The caller's temporary client id is never persisted.
func (r *MessageRepository) Create(ctx context.Context, msg *Message) (*Message, error) {
	if msg.ContainerID == "" {
		return nil, fmt.Errorf("container ID cannot be empty")
	}
	if msg.SenderID == "" {
		return nil, fmt.Errorf("sender ID cannot be empty")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, fmt.Errorf("message content cannot be empty")
	}

	row := &Message{
		ID:          uuid.NewString(),
		ContainerID: msg.ContainerID,
		SenderID:    msg.SenderID,
		ParentID:    msg.ParentID,
		Content:     msg.Content,
		CreatedAt:   time.Now().UTC(),
	}

	if row.ParentID != nil {
		var parent Message
		err := r.db.WithContext(ctx).
			Where("id = ? AND container_id = ?", *row.ParentID, row.ContainerID).
			First(&parent).Error
		if err != nil {
			return nil, fmt.Errorf("reply parent not found in container: %w", err)
		}
		// replies stay one level deep: a reply to a reply re-parents
		// onto the root message
		if parent.ParentID != nil {
			row.ParentID = parent.ParentID
		}
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	publish(ctx, r.pub, common.OpInsert, "messages", row)
	return row, nil
}

// ByID returns one message, nil when it does not exist.
func (r *MessageRepository) ByID(ctx context.Context, messageID string) (*Message, error) {
	var msg Message
	err := r.db.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListByContainer returns every message of one container in creation
// order, the shape the thread store's full refetch consumes.
func (r *MessageRepository) ListByContainer(ctx context.Context, containerID string) ([]*Message, error) {
	var messages []*Message
	err := r.db.WithContext(ctx).
		Where("container_id = ?", containerID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// Delete hard-deletes a message and cascades to its own reactions and
// reads. Replies are left in place and become orphans.
func (r *MessageRepository) Delete(ctx context.Context, messageID string) error {
	var msg Message
	if err := r.db.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil // already gone, deletes are idempotent
		}
		return fmt.Errorf("failed to load message: %w", err)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Delete(&MessageReaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&MessageRead{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Message{}, "id = ?", messageID).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	publish(ctx, r.pub, common.OpDelete, "messages", &msg)
	return nil
}

type ReactionRepository struct {
	db  *gorm.DB
	pub common.ChangePublisher
}

func NewReactionRepository(db *gorm.DB, pub common.ChangePublisher) *ReactionRepository {
	return &ReactionRepository{db: db, pub: pub}
}

// Add inserts one reaction row. A duplicate of the (message, user,
// emoji) triple is a no-op, absorbed by ON CONFLICT rather than
// surfaced as an error.
func (r *ReactionRepository) Add(ctx context.Context, reaction *MessageReaction) error {
	reaction.CreatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(reaction)
	if result.Error != nil {
		return fmt.Errorf("failed to add reaction: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		publish(ctx, r.pub, common.OpInsert, "message_reactions", reaction)
	}
	return nil
}

// Remove deletes the triple if present; removing an absent reaction is
// a no-op.
func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID, emoji string) error {
	result := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&MessageReaction{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove reaction: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		publish(ctx, r.pub, common.OpDelete, "message_reactions", &MessageReaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		})
	}
	return nil
}

// ListByContainer fetches every reaction attached to the container's
// messages in one query, for the thread store's full refetch.
func (r *ReactionRepository) ListByContainer(ctx context.Context, containerID string) ([]*MessageReaction, error) {
	var reactions []*MessageReaction
	err := r.db.WithContext(ctx).
		Joins("JOIN messages ON messages.id = message_reactions.message_id").
		Where("messages.container_id = ?", containerID).
		Find(&reactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reactions: %w", err)
	}
	return reactions, nil
}

type ReadRepository struct {
	db  *gorm.DB
	pub common.ChangePublisher
}

func NewReadRepository(db *gorm.DB, pub common.ChangePublisher) *ReadRepository {
	return &ReadRepository{db: db, pub: pub}
}

// Upsert records read receipts, unique on (message, user); repeat calls
// are safe.
func (r *ReadRepository) Upsert(ctx context.Context, messageIDs []string, userID string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*MessageRead, 0, len(messageIDs))
	for _, id := range messageIDs {
		rows = append(rows, &MessageRead{MessageID: id, UserID: userID, ReadAt: now})
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert read receipts: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		for _, row := range rows {
			publish(ctx, r.pub, common.OpInsert, "message_reads", row)
		}
	}
	return nil
}

func (r *ReadRepository) ListByContainer(ctx context.Context, containerID string) ([]*MessageRead, error) {
	var reads []*MessageRead
	err := r.db.WithContext(ctx).
		Joins("JOIN messages ON messages.id = message_reads.message_id").
		Where("messages.container_id = ?", containerID).
		Find(&reads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list read receipts: %w", err)
	}
	return reads, nil
}
