package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server ServerConfig `json:"server"`

	// Database Configuration
	Database DatabaseConfig `json:"database"`

	// Redis Configuration (change feed + presence bus)
	Redis RedisConfig `json:"redis"`

	// Realtime Configuration
	Realtime RealtimeConfig `json:"realtime"`

	// Presence Configuration
	Presence PresenceConfig `json:"presence"`

	// Notification Configuration
	Notification NotificationConfig `json:"notification"`

	// Thread Configuration
	Thread ThreadConfig `json:"thread"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	Environment  string `json:"environment"` // development, staging, production
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"database_name"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// RedisConfig contains the connection settings for the pub/sub bus
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// RealtimeConfig tunes the change feed adapter. Reconnects are handled
// inside the redis client, so there is nothing to tune for them here.
type RealtimeConfig struct {
	ChannelBufferSize int `json:"channel_buffer_size"` // per-subscription event buffer
}

// PresenceConfig tunes the heartbeat protocol
type PresenceConfig struct {
	HeartbeatInterval int `json:"heartbeat_interval"` // seconds between track announcements
	ExpiryFactor      int `json:"expiry_factor"`      // missed heartbeats before an entry expires
}

// NotificationConfig tunes the delivery engine
type NotificationConfig struct {
	PollInterval         int  `json:"poll_interval"`           // seconds between fallback polls
	PopupTTL             int  `json:"popup_ttl"`               // seconds before a popup auto-dismisses
	GroupLookback        int  `json:"group_lookback"`          // unread rows inspected when grouping
	PollWhilePushHealthy bool `json:"poll_while_push_healthy"` // keep polling even while the push channel delivers
}

// ThreadConfig tunes the thread store
type ThreadConfig struct {
	RollbackOnFailure bool `json:"rollback_on_failure"` // remove optimistic rows when the backend insert fails
}

func (cfg *Config) DSN() string {
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "3306"
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DatabaseName,
	)
}

func (cfg *Config) PollInterval() time.Duration {
	if cfg.Notification.PollInterval <= 0 {
		return 2 * time.Second
	}
	return time.Duration(cfg.Notification.PollInterval) * time.Second
}

func (cfg *Config) PopupTTL() time.Duration {
	if cfg.Notification.PopupTTL <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.Notification.PopupTTL) * time.Second
}

func (cfg *Config) HeartbeatInterval() time.Duration {
	if cfg.Presence.HeartbeatInterval <= 0 {
		return 15 * time.Second
	}
	return time.Duration(cfg.Presence.HeartbeatInterval) * time.Second
}

func (cfg *Config) PresenceExpiry() time.Duration {
	factor := cfg.Presence.ExpiryFactor
	if factor <= 0 {
		factor = 3
	}
	return time.Duration(factor) * cfg.HeartbeatInterval()
}
