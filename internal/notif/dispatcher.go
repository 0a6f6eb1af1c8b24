// Package notif covers both ends of the notification pipeline: the
// dispatcher that fans a confirmed message action out into per-recipient
// rows, and the delivery engine that merges the realtime feed with the
// polling fallback into one deduplicated popup stream.
package notif

import (
	"context"
	"fmt"
	"log"

	"arunika/internal/common"
	"arunika/internal/dbmysql"
	"arunika/internal/mention"
	"arunika/internal/thread"
)

const previewLimit = 120

// ContainerKind distinguishes task comment threads from workspace chat
// channels; it decides which metadata key carries the container id.
type ContainerKind string

const (
	KindTask    ContainerKind = "task"
	KindChannel ContainerKind = "channel"
)

// Container identifies the scope a dispatcher serves.
type Container struct {
	ID   string
	Kind ContainerKind
}

func (c Container) metadataKey() string {
	if c.Kind == KindChannel {
		return "channel_id"
	}
	return "task_id"
}

// NotificationWriter is the insert slice of the notification store.
type NotificationWriter interface {
	Create(ctx context.Context, notif *dbmysql.Notification) error
}

// MessageReader resolves reply parents to find their authors.
type MessageReader interface {
	ByID(ctx context.Context, messageID string) (*dbmysql.Message, error)
}

// Dispatcher turns confirmed message actions into notification rows:
// one row per distinct affected recipient, never one for the acting
// user about their own action. It satisfies thread.Notifier.
type Dispatcher struct {
	notifications NotificationWriter
	messages      MessageReader
	roster        common.RosterProvider
	workspaceID   string
	container     Container
}

func NewDispatcher(
	notifications NotificationWriter,
	messages MessageReader,
	roster common.RosterProvider,
	workspaceID string,
	container Container,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		messages:      messages,
		roster:        roster,
		workspaceID:   workspaceID,
		container:     container,
	}
}

// MessageSent fans out mention and reply notifications for a confirmed
// message. A recipient who is both mentioned and the reply target gets
// exactly one row; the reply classification wins only when the mention
// did not resolve them.
func (d *Dispatcher) MessageSent(ctx context.Context, msg *dbmysql.Message) {
	members, err := d.roster.WorkspaceMembers(ctx, d.workspaceID)
	if err != nil {
		log.Printf("dispatcher: roster lookup failed: %v", err)
		return
	}

	mentioned := mention.ExtractUserIDs(msg.Content, members)
	recipients := make(map[string]common.NotificationType)
	for _, id := range mentioned {
		recipients[id] = common.MentionType
	}

	if msg.ParentID != nil {
		parent, err := d.messages.ByID(ctx, *msg.ParentID)
		if err != nil {
			log.Printf("dispatcher: reply parent lookup failed: %v", err)
		} else if parent != nil {
			if _, already := recipients[parent.SenderID]; !already {
				recipients[parent.SenderID] = common.ReplyType
			}
		}
	}
	delete(recipients, msg.SenderID)
	if len(recipients) == 0 {
		return
	}

	sender := memberByID(members, msg.SenderID)
	preview := thread.Preview(msg.Content, previewLimit)

	for recipientID, kind := range recipients {
		row := &dbmysql.Notification{
			RecipientID: recipientID,
			Type:        string(kind),
			Title:       d.title(kind, sender),
			Message:     preview,
			Metadata:    d.metadata(msg.ID, sender),
		}
		if err := d.notifications.Create(ctx, row); err != nil {
			log.Printf("dispatcher: failed to create %s notification for %s: %v", kind, recipientID, err)
		}
	}
}

// ReactionAdded notifies the message author about a new reaction from
// someone else; self-reactions dispatch nothing.
func (d *Dispatcher) ReactionAdded(ctx context.Context, msg *thread.Message, reactorID, emoji string) {
	if msg == nil || msg.SenderID == reactorID {
		return
	}
	members, err := d.roster.WorkspaceMembers(ctx, d.workspaceID)
	if err != nil {
		log.Printf("dispatcher: roster lookup failed: %v", err)
		return
	}
	reactor := memberByID(members, reactorID)

	row := &dbmysql.Notification{
		RecipientID: msg.SenderID,
		Type:        string(common.ReactionType),
		Title:       fmt.Sprintf("%s reacted %s", displayName(reactor), emoji),
		Message:     thread.Preview(msg.Content, previewLimit),
		Metadata:    d.metadata(msg.ID, reactor),
	}
	if err := d.notifications.Create(ctx, row); err != nil {
		log.Printf("dispatcher: failed to create reaction notification: %v", err)
	}
}

func (d *Dispatcher) title(kind common.NotificationType, sender common.Member) string {
	name := displayName(sender)
	switch kind {
	case common.MentionType:
		return fmt.Sprintf("%s mentioned you", name)
	case common.ReplyType:
		return fmt.Sprintf("%s replied to your message", name)
	default:
		return fmt.Sprintf("New activity from %s", name)
	}
}

func (d *Dispatcher) metadata(messageID string, sender common.Member) common.Metadata {
	return common.Metadata{
		d.container.metadataKey(): d.container.ID,
		"comment_id":              messageID,
		"sender_id":               sender.UserID,
		"sender_name":             displayName(sender),
		"sender_avatar":           sender.AvatarURL,
	}
}

func memberByID(members []common.Member, userID string) common.Member {
	for _, m := range members {
		if m.UserID == userID {
			return m
		}
	}
	return common.Member{UserID: userID}
}

func displayName(m common.Member) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	if m.Username != "" {
		return m.Username
	}
	return "Someone"
}
