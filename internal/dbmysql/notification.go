package dbmysql

import (
	"time"

	"arunika/internal/common"
)

// Notification is one delivery row. The auto-increment primary key is
// load-bearing: the delivery engine's dedup guard compares ids, so they
// must grow monotonically in insert order.
type Notification struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RecipientID string          `gorm:"not null;index;size:36" json:"recipient_id"`
	Type        string          `gorm:"not null;size:50" json:"type"`
	Title       string          `gorm:"not null;size:255" json:"title"`
	Message     string          `gorm:"not null;type:text" json:"message"`
	IsRead      bool            `gorm:"not null;default:false" json:"is_read"`
	Metadata    common.Metadata `gorm:"type:json" json:"metadata"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Notification) TableName() string { return "notifications" }

// WorkspaceMember is one roster entry, the source the mention resolver
// and presence tracker read from.
type WorkspaceMember struct {
	WorkspaceID string    `gorm:"primaryKey;size:36" json:"workspace_id"`
	UserID      string    `gorm:"primaryKey;size:36" json:"user_id"`
	Username    string    `gorm:"not null;size:50;index" json:"username"`
	DisplayName string    `gorm:"size:100" json:"display_name"`
	Email       string    `gorm:"size:255" json:"email"`
	AvatarURL   string    `gorm:"size:512" json:"avatar_url"`
	JoinedAt    time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (WorkspaceMember) TableName() string { return "workspace_members" }
