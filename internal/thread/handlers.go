package thread

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"arunika/internal/dbmysql"

	"github.com/gorilla/mux"
)

// MessageSink receives confirmed server-side inserts so notification
// fan-out also happens for messages arriving through the HTTP facade,
// not only through client stores.
type MessageSink interface {
	MessageSent(ctx context.Context, msg *dbmysql.Message)
}

type ThreadHandler struct {
	messages  MessageRepo
	reactions ReactionRepo
	reads     ReadRepo
	sink      func(workspaceID, containerID, kind string) MessageSink
}

// NewThreadHandler builds the facade. sinkFor resolves the dispatcher
// for a (workspace, container) pair; nil disables fan-out.
func NewThreadHandler(
	messages MessageRepo,
	reactions ReactionRepo,
	reads ReadRepo,
	sinkFor func(workspaceID, containerID, kind string) MessageSink,
) *ThreadHandler {
	return &ThreadHandler{
		messages:  messages,
		reactions: reactions,
		reads:     reads,
		sink:      sinkFor,
	}
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

func (h *ThreadHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/containers/{containerID}/messages", h.List).Methods("GET")
	router.HandleFunc("/containers/{containerID}/messages", h.Send).Methods("POST")
	router.HandleFunc("/messages/{messageID}", h.Delete).Methods("DELETE")
	router.HandleFunc("/messages/{messageID}/reactions", h.AddReaction).Methods("POST")
	router.HandleFunc("/messages/{messageID}/reactions", h.RemoveReaction).Methods("DELETE")
	router.HandleFunc("/messages/read", h.MarkRead).Methods("POST")
}

type messageResponse struct {
	ID          string              `json:"id"`
	ContainerID string              `json:"container_id"`
	SenderID    string              `json:"sender_id"`
	ParentID    string              `json:"parent_id,omitempty"`
	Content     string              `json:"content"`
	ImageURL    string              `json:"image_url,omitempty"`
	Caption     string              `json:"caption"`
	CreatedAt   string              `json:"created_at"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
	Reads       []string            `json:"reads,omitempty"`
}

func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	containerID := mux.Vars(r)["containerID"]

	rows, err := h.messages.ListByContainer(r.Context(), containerID)
	if err != nil {
		log.Printf("failed to list messages: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	reactionRows, err := h.reactions.ListByContainer(r.Context(), containerID)
	if err != nil {
		log.Printf("failed to list reactions: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list reactions")
		return
	}
	readRows, err := h.reads.ListByContainer(r.Context(), containerID)
	if err != nil {
		log.Printf("failed to list read receipts: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list read receipts")
		return
	}

	byID := make(map[string]*messageResponse, len(rows))
	out := make([]*messageResponse, 0, len(rows))
	for _, row := range rows {
		content := ParseContent(row.Content)
		resp := &messageResponse{
			ID:          row.ID,
			ContainerID: row.ContainerID,
			SenderID:    row.SenderID,
			Content:     row.Content,
			ImageURL:    content.ImageURL,
			Caption:     content.Caption,
			CreatedAt:   row.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Reactions:   make(map[string][]string),
		}
		if row.ParentID != nil {
			resp.ParentID = *row.ParentID
		}
		byID[row.ID] = resp
		out = append(out, resp)
	}
	for _, reaction := range reactionRows {
		if resp, ok := byID[reaction.MessageID]; ok {
			resp.Reactions[reaction.Emoji] = append(resp.Reactions[reaction.Emoji], reaction.UserID)
		}
	}
	for _, read := range readRows {
		if resp, ok := byID[read.MessageID]; ok {
			resp.Reads = append(resp.Reads, read.UserID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type sendRequest struct {
	Content     string `json:"content"`
	ParentID    string `json:"parent_id,omitempty"`
	WorkspaceID string `json:"workspace_id"`
	Kind        string `json:"kind,omitempty"` // task or channel
}

func (h *ThreadHandler) Send(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	containerID := mux.Vars(r)["containerID"]

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	row := &dbmysql.Message{
		ContainerID: containerID,
		SenderID:    uid,
		Content:     req.Content,
	}
	if req.ParentID != "" {
		p := req.ParentID
		row.ParentID = &p
	}

	saved, err := h.messages.Create(r.Context(), row)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.sink != nil && req.WorkspaceID != "" {
		if sink := h.sink(req.WorkspaceID, containerID, req.Kind); sink != nil {
			sink.MessageSent(r.Context(), saved)
		}
	}

	content := ParseContent(saved.Content)
	resp := &messageResponse{
		ID:          saved.ID,
		ContainerID: saved.ContainerID,
		SenderID:    saved.SenderID,
		Content:     saved.Content,
		ImageURL:    content.ImageURL,
		Caption:     content.Caption,
		CreatedAt:   saved.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if saved.ParentID != nil {
		resp.ParentID = *saved.ParentID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	messageID := mux.Vars(r)["messageID"]

	if err := h.messages.Delete(r.Context(), messageID); err != nil {
		log.Printf("failed to delete message: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *ThreadHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	messageID := mux.Vars(r)["messageID"]

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	err := h.reactions.Add(r.Context(), &dbmysql.MessageReaction{
		MessageID: messageID,
		UserID:    uid,
		Emoji:     req.Emoji,
	})
	if err != nil {
		log.Printf("failed to add reaction: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to add reaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ThreadHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	messageID := mux.Vars(r)["messageID"]

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	if err := h.reactions.Remove(r.Context(), messageID, uid, req.Emoji); err != nil {
		log.Printf("failed to remove reaction: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to remove reaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (h *ThreadHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MessageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "message_ids is required")
		return
	}

	if err := h.reads.Upsert(r.Context(), req.MessageIDs, uid); err != nil {
		log.Printf("failed to mark messages read: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
