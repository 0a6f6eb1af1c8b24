package common

import (
	"context"
)

// Subscription is one live change-feed channel. Events() keeps
// delivering until Close, after which the channel is drained and closed.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// ChangeSubscriber is the subscribe side of the backend's row-level
// change notification primitive.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, table string, filter Filter, ops ...Operation) (Subscription, error)
}

// ChangePublisher is the emit side, called by the store gateway after
// every successful mutation.
type ChangePublisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// RosterProvider resolves the member roster of a workspace.
type RosterProvider interface {
	WorkspaceMembers(ctx context.Context, workspaceID string) ([]Member, error)
}
