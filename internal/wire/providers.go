package wire

import (
	"os"
	"strconv"

	"arunika/internal/common"
	"arunika/internal/config"
	"arunika/internal/dbmysql"
	"arunika/internal/feed"
	"arunika/internal/notif"
	"arunika/internal/presence"
	"arunika/internal/thread"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Application is the assembled collaboration core a host binary runs.
type Application struct {
	Config        *config.Config
	DB            *gorm.DB
	Redis         *redis.Client
	Feed          *feed.Adapter
	Publisher     common.ChangePublisher
	PresenceBus   *presence.RedisBus
	Messages      *dbmysql.MessageRepository
	Reactions     *dbmysql.ReactionRepository
	Reads         *dbmysql.ReadRepository
	Notifications *dbmysql.NotificationRepository
	Members       *dbmysql.MemberRepository
	NotifHandler  *notif.NotificationHandler
	ThreadHandler *thread.ThreadHandler
	Dispatchers   DispatcherFactory
}

// DispatcherFactory builds the notification fan-out for one container.
type DispatcherFactory func(workspaceID, containerID, kind string) thread.MessageSink

func ProvideConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvOrDefault("SERVER_PORT", "8080"),
			ReadTimeout:  15,
			WriteTimeout: 15,
			Environment:  getEnvOrDefault("ENVIRONMENT", "development"),
		},
		Database: config.DatabaseConfig{
			Host:         getEnvOrDefault("DB_HOST", "localhost"),
			Port:         getEnvOrDefault("DB_PORT", "3306"),
			Username:     getEnvOrDefault("DB_USER", "arunika"),
			Password:     getEnvOrDefault("DB_PASSWORD", ""),
			DatabaseName: getEnvOrDefault("DB_NAME", "arunika_collab"),
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Redis: config.RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Realtime: config.RealtimeConfig{
			ChannelBufferSize: getEnvInt("REALTIME_BUFFER", 64),
		},
		Presence: config.PresenceConfig{
			HeartbeatInterval: getEnvInt("PRESENCE_HEARTBEAT", 15),
			ExpiryFactor:      getEnvInt("PRESENCE_EXPIRY_FACTOR", 3),
		},
		Notification: config.NotificationConfig{
			PollInterval:         getEnvInt("NOTIF_POLL_INTERVAL", 2),
			PopupTTL:             getEnvInt("NOTIF_POPUP_TTL", 10),
			GroupLookback:        getEnvInt("NOTIF_GROUP_LOOKBACK", 5),
			PollWhilePushHealthy: getEnvOrDefault("NOTIF_POLL_ALWAYS", "true") == "true",
		},
		Thread: config.ThreadConfig{
			RollbackOnFailure: getEnvOrDefault("THREAD_ROLLBACK_ON_FAILURE", "false") == "true",
		},
	}
}

func ProvideRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func ProvideAdapter(cfg *config.Config, rdb *redis.Client) *feed.Adapter {
	return feed.NewAdapter(rdb, cfg.Realtime.ChannelBufferSize)
}

func ProvidePublisher(rdb *redis.Client) common.ChangePublisher {
	return feed.NewPublisher(rdb)
}

func ProvideNotificationHandler(repo *dbmysql.NotificationRepository) *notif.NotificationHandler {
	return notif.NewNotificationHandler(repo)
}

func ProvideDispatcherFactory(
	notifications *dbmysql.NotificationRepository,
	messages *dbmysql.MessageRepository,
	members *dbmysql.MemberRepository,
) DispatcherFactory {
	return func(workspaceID, containerID, kind string) thread.MessageSink {
		container := notif.Container{ID: containerID, Kind: notif.KindTask}
		if kind == string(notif.KindChannel) {
			container.Kind = notif.KindChannel
		}
		return notif.NewDispatcher(notifications, messages, members, workspaceID, container)
	}
}

func ProvideThreadHandler(
	messages *dbmysql.MessageRepository,
	reactions *dbmysql.ReactionRepository,
	reads *dbmysql.ReadRepository,
	dispatchers DispatcherFactory,
) *thread.ThreadHandler {
	return thread.NewThreadHandler(messages, reactions, reads,
		func(workspaceID, containerID, kind string) thread.MessageSink {
			return dispatchers(workspaceID, containerID, kind)
		})
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
