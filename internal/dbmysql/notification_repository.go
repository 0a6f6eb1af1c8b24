package dbmysql

import (
	"context"
	"fmt"
	"time"

	"arunika/internal/common"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	db  *gorm.DB
	pub common.ChangePublisher
}

func NewNotificationRepository(db *gorm.DB, pub common.ChangePublisher) *NotificationRepository {
	return &NotificationRepository{db: db, pub: pub}
}

func (r *NotificationRepository) Create(ctx context.Context, notif *Notification) error {
	notif.CreatedAt = time.Now().UTC()
	if err := r.db.WithContext(ctx).Create(notif).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	publish(ctx, r.pub, common.OpInsert, "notifications", notif)
	return nil
}

func (r *NotificationRepository) ByRecipient(
	ctx context.Context,
	recipientID string,
	limit, offset int,
) ([]*Notification, error) {
	var notifications []*Notification

	query := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to get recipient notifications: %w", err)
	}
	return notifications, nil
}

// LatestID returns the newest notification id for the recipient
// regardless of read state, zero when none exist. The delivery engine
// seeds its dedup guard with this at session start.
func (r *NotificationRepository) LatestID(ctx context.Context, recipientID string) (uint64, error) {
	var notif Notification
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("id DESC").
		First(&notif).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get latest notification id: %w", err)
	}
	return notif.ID, nil
}

// LatestUnread returns the most recent unread notification, nil when
// there is none. This is the polling fallback's query.
func (r *NotificationRepository) LatestUnread(ctx context.Context, recipientID string) (*Notification, error) {
	var notif Notification
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Order("id DESC").
		First(&notif).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest unread notification: %w", err)
	}
	return &notif, nil
}

// RecentUnread returns up to limit most-recent unread notifications,
// the window the grouping step inspects for siblings.
func (r *NotificationRepository) RecentUnread(ctx context.Context, recipientID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 5
	}
	var notifications []*Notification
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Order("id DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get recent unread notifications: %w", err)
	}
	return notifications, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id uint64, recipientID string) error {
	result := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(map[string]any{
			"is_read":    true,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification as read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("notification not found or access denied: %d", id)
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) error {
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]any{
			"is_read":    true,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}
	return count, nil
}

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// WorkspaceMembers returns the roster in join order, the stable order
// mention candidates are presented in.
func (r *MemberRepository) WorkspaceMembers(ctx context.Context, workspaceID string) ([]common.Member, error) {
	var rows []*WorkspaceMember
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("joined_at ASC, user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace members: %w", err)
	}

	members := make([]common.Member, len(rows))
	for i, row := range rows {
		members[i] = common.Member{
			UserID:      row.UserID,
			Username:    row.Username,
			DisplayName: row.DisplayName,
			Email:       row.Email,
			AvatarURL:   row.AvatarURL,
		}
	}
	return members, nil
}
