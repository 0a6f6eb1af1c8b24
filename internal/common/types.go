package common

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	MentionType       NotificationType = "mention"
	ReplyType         NotificationType = "reply"
	ReactionType      NotificationType = "reaction"
	TaskCompletedType NotificationType = "task_completed"
	SystemType        NotificationType = "system"
)

// Operation is the kind of row change a backend mutation produced.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent is one row-level change delivered by the change feed.
// Row carries the row after the change (the row before, for deletes),
// decoded as generic JSON so a single feed serves every table.
type ChangeEvent struct {
	Operation Operation      `json:"operation"`
	Table     string         `json:"table"`
	Row       map[string]any `json:"row"`
}

// DecodeRow round-trips the generic row into a typed model.
func DecodeRow(ev ChangeEvent, out any) error {
	raw, err := json.Marshal(ev.Row)
	if err != nil {
		return fmt.Errorf("encode change row: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode change row into %T: %w", out, err)
	}
	return nil
}

// Filter is an equality predicate over row columns. An empty filter
// matches every row of the table.
type Filter map[string]any

// Matches compares column values by their string form, since rows
// arrive as generic JSON and numeric types widen to float64.
func (f Filter) Matches(row map[string]any) bool {
	for col, want := range f {
		got, ok := row[col]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

type Metadata map[string]any

// Value / Scan let gorm persist the metadata bag as a JSON column.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
	return json.Unmarshal(raw, m)
}

// String pulls a string field out of the bag, empty when absent.
func (m Metadata) String(key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Member is one entry of a workspace roster, the view the mention
// resolver and the notification dispatcher work against.
type Member struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
}

type NotificationResponse struct {
	ID          uint64           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	IsRead      bool             `json:"is_read"`
	Metadata    Metadata         `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
