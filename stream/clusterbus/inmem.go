package clusterbus

import (
	"context"
	"sync"

	"flowmesh.dev/stream"
)

// InMemory is a Transport that delivers Commands and Events through Go
// channels within a single process, mirroring the role the teacher's
// pubsub test topic plays for its own Topic/Subscription types: a
// same-process stand-in for a real broker, used in tests and in
// single-node deployments that still want to exercise the
// clusterbus-shaped wiring instead of a direct stream.PumpEndpointEvents
// hookup.
type InMemory struct {
	mu       sync.Mutex
	commands map[stream.ServiceKey][]chan Command
	events   map[stream.ServiceKey][]chan Event
	closed   bool
}

// NewInMemory returns an empty in-process Transport.
func NewInMemory() *InMemory {
	return &InMemory{
		commands: make(map[stream.ServiceKey][]chan Command),
		events:   make(map[stream.ServiceKey][]chan Event),
	}
}

var _ Transport = (*InMemory)(nil)

func (t *InMemory) PublishCommand(ctx context.Context, service stream.ServiceKey, cmd Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.commands[service] {
		select {
		case ch <- cmd:
		default:
		}
	}
	return nil
}

func (t *InMemory) SubscribeCommands(ctx context.Context, service stream.ServiceKey) (<-chan Command, error) {
	ch := make(chan Command, 64)
	t.mu.Lock()
	t.commands[service] = append(t.commands[service], ch)
	t.mu.Unlock()
	return ch, nil
}

func (t *InMemory) PublishEvent(ctx context.Context, service stream.ServiceKey, evt Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.events[service] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

func (t *InMemory) SubscribeEvents(ctx context.Context, service stream.ServiceKey) (<-chan Event, error) {
	ch := make(chan Event, 64)
	t.mu.Lock()
	t.events[service] = append(t.events[service], ch)
	t.mu.Unlock()
	return ch, nil
}

func (t *InMemory) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, chs := range t.commands {
		for _, ch := range chs {
			close(ch)
		}
	}
	for _, chs := range t.events {
		for _, ch := range chs {
			close(ch)
		}
	}
	return nil
}
