package notif

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"arunika/internal/dbmysql"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotificationStore struct {
	mock.Mock
}

func (m *MockNotificationStore) ByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]*dbmysql.Notification, error) {
	args := m.Called(ctx, recipientID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*dbmysql.Notification), args.Error(1)
}

func (m *MockNotificationStore) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	args := m.Called(ctx, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockNotificationStore) MarkRead(ctx context.Context, id uint64, recipientID string) error {
	args := m.Called(ctx, id, recipientID)
	return args.Error(0)
}

func (m *MockNotificationStore) MarkAllRead(ctx context.Context, recipientID string) error {
	args := m.Called(ctx, recipientID)
	return args.Error(0)
}

func notifRouter(store NotificationStore) *mux.Router {
	router := mux.NewRouter()
	NewNotificationHandler(store).RegisterRoutes(router)
	return router
}

func TestNotificationHandler_List(t *testing.T) {
	store := new(MockNotificationStore)
	store.On("ByRecipient", mock.Anything, "u1", 50, 0).Return([]*dbmysql.Notification{
		{ID: 2, RecipientID: "u1", Type: "mention", Title: "Alice mentioned you"},
		{ID: 1, RecipientID: "u1", Type: "reply", Title: "Bob replied", IsRead: true},
	}, nil)

	req := httptest.NewRequest("GET", "/notifications", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	notifRouter(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []struct {
			ID     uint64 `json:"id"`
			Type   string `json:"type"`
			IsRead bool   `json:"is_read"`
		} `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 2)
	assert.Equal(t, uint64(2), body.Notifications[0].ID)
	assert.Equal(t, "mention", body.Notifications[0].Type)
	assert.True(t, body.Notifications[1].IsRead)
}

func TestNotificationHandler_ListClampsLimit(t *testing.T) {
	store := new(MockNotificationStore)
	store.On("ByRecipient", mock.Anything, "u1", 50, 0).Return([]*dbmysql.Notification{}, nil)

	req := httptest.NewRequest("GET", "/notifications?limit=5000", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	notifRouter(store).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertCalled(t, "ByRecipient", mock.Anything, "u1", 50, 0)
}

func TestNotificationHandler_MissingIdentity(t *testing.T) {
	store := new(MockNotificationStore)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/notifications"},
		{"GET", "/notifications/unread-count"},
		{"PUT", "/notifications/7/read"},
		{"PUT", "/notifications/read-all"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		notifRouter(store).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
	store.AssertNotCalled(t, "ByRecipient", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationHandler_UnreadCount(t *testing.T) {
	store := new(MockNotificationStore)
	store.On("UnreadCount", mock.Anything, "u1").Return(int64(3), nil)

	req := httptest.NewRequest("GET", "/notifications/unread-count", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	notifRouter(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body["unread_count"])
}

func TestNotificationHandler_MarkRead(t *testing.T) {
	store := new(MockNotificationStore)
	store.On("MarkRead", mock.Anything, uint64(7), "u1").Return(nil)

	req := httptest.NewRequest("PUT", "/notifications/7/read", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	notifRouter(store).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotificationHandler_MarkReadBadID(t *testing.T) {
	store := new(MockNotificationStore)

	req := httptest.NewRequest("PUT", "/notifications/not-a-number/read", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	notifRouter(store).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationHandler_MarkReadWrongRecipient(t *testing.T) {
	store := new(MockNotificationStore)
	store.On("MarkRead", mock.Anything, uint64(7), "u2").Return(errors.New("not found"))

	req := httptest.NewRequest("PUT", "/notifications/7/read", nil)
	req.Header.Set("X-User-ID", "u2")
	rec := httptest.NewRecorder()
	notifRouter(store).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationHandler_MarkAllRead(t *testing.T) {
	store := new(MockNotificationStore)
	store.On("MarkAllRead", mock.Anything, "u1").Return(nil)

	req := httptest.NewRequest("PUT", "/notifications/read-all", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	notifRouter(store).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}
