//go:build wireinject
// +build wireinject

package wire

import (
	"arunika/internal/dbmysql"
	"arunika/internal/presence"

	"github.com/google/wire"
)

func InitializeApplication() (*Application, func(), error) {
	wire.Build(
		ProvideConfig,
		dbmysql.NewMySQL,
		ProvideRedis,
		ProvidePublisher,
		ProvideAdapter,
		presence.NewRedisBus,
		dbmysql.NewMessageRepository,
		dbmysql.NewReactionRepository,
		dbmysql.NewReadRepository,
		dbmysql.NewNotificationRepository,
		dbmysql.NewMemberRepository,
		ProvideNotificationHandler,
		ProvideDispatcherFactory,
		ProvideThreadHandler,
		wire.Struct(new(Application), "*"),
	)
	return &Application{}, nil, nil
}
