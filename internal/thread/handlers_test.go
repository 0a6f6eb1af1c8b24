package thread

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"arunika/internal/dbmysql"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []*dbmysql.Message
}

func (s *recordingSink) MessageSent(_ context.Context, msg *dbmysql.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
}

func threadRouter(h *ThreadHandler) *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func TestThreadHandler_List(t *testing.T) {
	msgRepo := new(MockMessageRepo)
	reactRepo := new(MockReactionRepo)
	readRepo := new(MockReadRepo)

	parent := "m-1"
	msgRepo.On("ListByContainer", mock.Anything, "task-1").Return([]*dbmysql.Message{
		{ID: "m-1", ContainerID: "task-1", SenderID: "ua", Content: "look ![image](https://cdn.example.com/a.png)", CreatedAt: time.Now()},
		{ID: "m-2", ContainerID: "task-1", SenderID: "ub", Content: "nice", ParentID: &parent, CreatedAt: time.Now()},
	}, nil)
	reactRepo.On("ListByContainer", mock.Anything, "task-1").Return([]*dbmysql.MessageReaction{
		{MessageID: "m-1", UserID: "ub", Emoji: "👍"},
	}, nil)
	readRepo.On("ListByContainer", mock.Anything, "task-1").Return([]*dbmysql.MessageRead{
		{MessageID: "m-1", UserID: "ub"},
	}, nil)

	h := NewThreadHandler(msgRepo, reactRepo, readRepo, nil)
	req := httptest.NewRequest("GET", "/containers/task-1/messages", nil)
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []struct {
			ID        string              `json:"id"`
			ParentID  string              `json:"parent_id"`
			ImageURL  string              `json:"image_url"`
			Caption   string              `json:"caption"`
			Reactions map[string][]string `json:"reactions"`
			Reads     []string            `json:"reads"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "https://cdn.example.com/a.png", body.Messages[0].ImageURL)
	assert.Equal(t, "look", body.Messages[0].Caption)
	assert.Equal(t, []string{"ub"}, body.Messages[0].Reactions["👍"])
	assert.Equal(t, []string{"ub"}, body.Messages[0].Reads)
	assert.Equal(t, "m-1", body.Messages[1].ParentID)
}

func TestThreadHandler_Send(t *testing.T) {
	msgRepo := new(MockMessageRepo)
	reactRepo := new(MockReactionRepo)
	readRepo := new(MockReadRepo)
	sink := &recordingSink{}

	saved := &dbmysql.Message{
		ID:          "m-1",
		ContainerID: "task-1",
		SenderID:    "ua",
		Content:     "hello team",
		CreatedAt:   time.Now(),
	}
	msgRepo.On("Create", mock.Anything, mock.MatchedBy(func(m *dbmysql.Message) bool {
		return m.ContainerID == "task-1" && m.SenderID == "ua" && m.Content == "hello team"
	})).Return(saved, nil)

	h := NewThreadHandler(msgRepo, reactRepo, readRepo,
		func(workspaceID, containerID, kind string) MessageSink {
			assert.Equal(t, "ws-1", workspaceID)
			assert.Equal(t, "task-1", containerID)
			return sink
		})

	payload := `{"content":"hello team","workspace_id":"ws-1","kind":"task"}`
	req := httptest.NewRequest("POST", "/containers/task-1/messages", strings.NewReader(payload))
	req.Header.Set("X-User-ID", "ua")
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "m-1", body.ID)
	require.Len(t, sink.sent, 1)
	assert.Equal(t, "m-1", sink.sent[0].ID)
}

func TestThreadHandler_SendWithoutIdentity(t *testing.T) {
	h := NewThreadHandler(new(MockMessageRepo), new(MockReactionRepo), new(MockReadRepo), nil)

	req := httptest.NewRequest("POST", "/containers/task-1/messages", strings.NewReader(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThreadHandler_SendInvalidBody(t *testing.T) {
	h := NewThreadHandler(new(MockMessageRepo), new(MockReactionRepo), new(MockReadRepo), nil)

	req := httptest.NewRequest("POST", "/containers/task-1/messages", strings.NewReader("{not json"))
	req.Header.Set("X-User-ID", "ua")
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThreadHandler_AddReaction(t *testing.T) {
	reactRepo := new(MockReactionRepo)
	reactRepo.On("Add", mock.Anything, mock.MatchedBy(func(r *dbmysql.MessageReaction) bool {
		return r.MessageID == "m-1" && r.UserID == "ua" && r.Emoji == "🔥"
	})).Return(nil)

	h := NewThreadHandler(new(MockMessageRepo), reactRepo, new(MockReadRepo), nil)
	req := httptest.NewRequest("POST", "/messages/m-1/reactions", strings.NewReader(`{"emoji":"🔥"}`))
	req.Header.Set("X-User-ID", "ua")
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	reactRepo.AssertExpectations(t)
}

func TestThreadHandler_RemoveReaction(t *testing.T) {
	reactRepo := new(MockReactionRepo)
	reactRepo.On("Remove", mock.Anything, "m-1", "ua", "🔥").Return(nil)

	h := NewThreadHandler(new(MockMessageRepo), reactRepo, new(MockReadRepo), nil)
	req := httptest.NewRequest("DELETE", "/messages/m-1/reactions", strings.NewReader(`{"emoji":"🔥"}`))
	req.Header.Set("X-User-ID", "ua")
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	reactRepo.AssertExpectations(t)
}

func TestThreadHandler_ReactionRequiresEmoji(t *testing.T) {
	h := NewThreadHandler(new(MockMessageRepo), new(MockReactionRepo), new(MockReadRepo), nil)

	req := httptest.NewRequest("POST", "/messages/m-1/reactions", strings.NewReader(`{}`))
	req.Header.Set("X-User-ID", "ua")
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThreadHandler_MarkRead(t *testing.T) {
	readRepo := new(MockReadRepo)
	readRepo.On("Upsert", mock.Anything, []string{"m-1", "m-2"}, "ua").Return(nil)

	h := NewThreadHandler(new(MockMessageRepo), new(MockReactionRepo), readRepo, nil)
	req := httptest.NewRequest("POST", "/messages/read", strings.NewReader(`{"message_ids":["m-1","m-2"]}`))
	req.Header.Set("X-User-ID", "ua")
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	readRepo.AssertExpectations(t)
}

func TestThreadHandler_Delete(t *testing.T) {
	msgRepo := new(MockMessageRepo)
	msgRepo.On("Delete", mock.Anything, "m-1").Return(nil)

	h := NewThreadHandler(msgRepo, new(MockReactionRepo), new(MockReadRepo), nil)
	req := httptest.NewRequest("DELETE", "/messages/m-1", nil)
	req.Header.Set("X-User-ID", "ua")
	rec := httptest.NewRecorder()
	threadRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	msgRepo.AssertExpectations(t)
}
