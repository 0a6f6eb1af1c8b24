package dbmysql

import (
	"time"
)

// Message is one comment or chat message row. ContainerID scopes it to
// a task thread or a workspace channel; ParentID is set on replies and
// always references a root message of the same container.
type Message struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	ContainerID string    `gorm:"not null;index;size:36" json:"container_id"`
	SenderID    string    `gorm:"not null;index;size:36" json:"sender_id"`
	ParentID    *string   `gorm:"size:36;index" json:"parent_id,omitempty"`
	Content     string    `gorm:"not null;type:text" json:"content"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string { return "messages" }

// MessageReaction is one emoji reaction. The composite unique index is
// what makes the reaction toggle idempotent at the store level.
type MessageReaction struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID string    `gorm:"not null;size:36;uniqueIndex:idx_reaction_triple" json:"message_id"`
	UserID    string    `gorm:"not null;size:36;uniqueIndex:idx_reaction_triple" json:"user_id"`
	Emoji     string    `gorm:"not null;size:32;uniqueIndex:idx_reaction_triple" json:"emoji"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MessageReaction) TableName() string { return "message_reactions" }

// MessageRead is one read receipt, unique on (message, user).
type MessageRead struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	ReadAt    time.Time `gorm:"autoCreateTime" json:"read_at"`
}

func (MessageRead) TableName() string { return "message_reads" }
