package clusterbus

import (
	"context"

	"flowmesh.dev/stream"
)

// Transport is the per-backend pub/sub primitive clusterbus builds on,
// mirroring the shape of the teacher's pubsub.Topic: one topic for
// commands flowing aggregator→endpoint, one for events flowing
// endpoint→aggregator, both keyed by the hosted ServiceKey so multiple
// services can share a cluster bus deployment.
type Transport interface {
	PublishCommand(ctx context.Context, service stream.ServiceKey, cmd Command) error
	SubscribeCommands(ctx context.Context, service stream.ServiceKey) (<-chan Command, error)

	PublishEvent(ctx context.Context, service stream.ServiceKey, evt Event) error
	SubscribeEvents(ctx context.Context, service stream.ServiceKey) (<-chan Event, error)

	Close() error
}
