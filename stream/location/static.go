package location

import (
	"context"
	"sync"

	"flowmesh.dev/stream"
)

// Static is an in-memory Binding useful for tests and single-process
// deployments: bindings are set explicitly by calling Set/Clear and
// fanned out to every active Watch call.
type Static struct {
	mu       sync.Mutex
	bindings map[stream.ServiceKey]*EndpointRef
	subs     []chan Changed
	closed   bool
}

// NewStatic returns an empty Static binding.
func NewStatic() *Static {
	return &Static{bindings: make(map[stream.ServiceKey]*EndpointRef)}
}

func (s *Static) Resolve(_ context.Context, service stream.ServiceKey) (*EndpointRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings[service], nil
}

func (s *Static) Watch(ctx context.Context) (<-chan Changed, error) {
	ch := make(chan Changed, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Set installs ref as the binding for service and notifies every active
// watcher.
func (s *Static) Set(service stream.ServiceKey, ref EndpointRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.bindings[service] = &ref
	s.broadcast(Changed{Service: service, Ref: &ref})
}

// Clear removes any binding for service and notifies every active
// watcher that it is now unreachable.
func (s *Static) Clear(service stream.ServiceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	delete(s.bindings, service)
	s.broadcast(Changed{Service: service, Ref: nil})
}

func (s *Static) broadcast(c Changed) {
	for _, sub := range s.subs {
		select {
		case sub <- c:
		default:
		}
	}
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, sub := range s.subs {
		close(sub)
	}
	s.subs = nil
	return nil
}
