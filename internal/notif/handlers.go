package notif

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"arunika/internal/common"
	"arunika/internal/dbmysql"

	"github.com/gorilla/mux"
)

// NotificationStore is the full store surface the HTTP facade exposes
// to the UI layer.
type NotificationStore interface {
	ByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*dbmysql.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, id uint64, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) error
}

type NotificationHandler struct {
	store NotificationStore
}

func NewNotificationHandler(store NotificationStore) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// RegisterRoutes mounts the notification endpoints on the router.
// Identity arrives pre-authenticated in the X-User-ID header; auth
// itself lives in the external identity layer.
func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.List).Methods("GET")
	router.HandleFunc("/notifications/unread-count", h.UnreadCount).Methods("GET")
	router.HandleFunc("/notifications/{notificationID}/read", h.MarkRead).Methods("PUT")
	router.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods("PUT")
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := h.store.ByRecipient(r.Context(), uid, limit, offset)
	if err != nil {
		log.Printf("failed to list notifications: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	out := make([]common.NotificationResponse, len(rows))
	for i, row := range rows {
		out[i] = common.NotificationResponse{
			ID:          row.ID,
			RecipientID: row.RecipientID,
			Type:        common.NotificationType(row.Type),
			Title:       row.Title,
			Message:     row.Message,
			IsRead:      row.IsRead,
			Metadata:    row.Metadata,
			CreatedAt:   row.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	count, err := h.store.UnreadCount(r.Context(), uid)
	if err != nil {
		log.Printf("failed to get unread count: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get unread count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread_count": count})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	id, err := strconv.ParseUint(mux.Vars(r)["notificationID"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.store.MarkRead(r.Context(), id, uid); err != nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	if err := h.store.MarkAllRead(r.Context(), uid); err != nil {
		log.Printf("failed to mark all read: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to mark all notifications read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
