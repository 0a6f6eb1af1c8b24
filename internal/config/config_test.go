package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:         "db.internal",
			Port:         "3307",
			Username:     "collab",
			Password:     "secret",
			DatabaseName: "collab_db",
		},
	}
	assert.Equal(t,
		"collab:secret@tcp(db.internal:3307)/collab_db?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.DSN())
}

func TestConfig_DSNDefaults(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Username: "collab", DatabaseName: "collab_db"},
	}
	assert.Contains(t, cfg.DSN(), "@tcp(localhost:3306)/collab_db")
}

func TestConfig_DurationDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.PopupTTL())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 45*time.Second, cfg.PresenceExpiry())
}

func TestConfig_DurationOverrides(t *testing.T) {
	cfg := &Config{
		Presence:     PresenceConfig{HeartbeatInterval: 5, ExpiryFactor: 4},
		Notification: NotificationConfig{PollInterval: 1, PopupTTL: 30},
	}
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.PopupTTL())
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 20*time.Second, cfg.PresenceExpiry())
}
