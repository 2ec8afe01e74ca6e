package shutdown

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"flowmesh.dev/rlog"
)

// Manager tracks every registered Handler and drives the graceful
// shutdown sequence described by Progress, grounded on the teacher's
// own process-level shutdown tracker: one WatchForSignals call arms
// SIGTERM/SIGINT, handlers run concurrently, and the process waits for
// all of them (up to a force-shutdown deadline) before reporting
// completion.
type Manager struct {
	forceCloseTasks time.Duration
	forceShutdown   time.Duration

	mu       sync.Mutex
	handlers []Handler

	once      sync.Once
	initiated chan struct{}
	completed chan struct{}
}

// NewManager returns a Manager that gives active requests
// forceCloseTasks to finish before cancelling them, and the whole
// shutdown sequence forceShutdown to complete before the process is
// expected to exit anyway.
func NewManager(forceCloseTasks, forceShutdown time.Duration) *Manager {
	return &Manager{
		forceCloseTasks: forceCloseTasks,
		forceShutdown:   forceShutdown,
		initiated:       make(chan struct{}),
		completed:       make(chan struct{}),
	}
}

// Register adds h to the set of handlers run when shutdown begins.
func (m *Manager) Register(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// WatchForSignals arms SIGTERM/SIGINT and calls Initiate once either
// arrives.
func (m *Manager) WatchForSignals() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-ctx.Done()
		cancel()
		m.Initiate()
	}()
}

// Initiate begins the graceful shutdown sequence, blocking until every
// registered Handler has returned or the force-shutdown deadline
// elapses, whichever comes first. It is safe to call more than once;
// only the first call has an effect.
func (m *Manager) Initiate() {
	m.once.Do(func() {
		close(m.initiated)
		rlog.Info("shutdown: initiated")

		outstandingRequests, cancelRequests := context.WithCancel(context.Background())
		outstandingPubSub, cancelPubSub := context.WithCancel(context.Background())
		outstandingTasks, cancelTasks := context.WithCancel(context.Background())
		forceCloseTasks, cancelForceClose := context.WithTimeout(context.Background(), m.forceCloseTasks)
		forceShutdown, cancelForceShutdown := context.WithTimeout(context.Background(), m.forceShutdown)
		defer cancelForceClose()
		defer cancelForceShutdown()

		// This manager has no request/pub-sub tracker of its own (that
		// lives with whatever owns the HTTP server and consumer
		// sessions); it cancels immediately so handlers relying on
		// OutstandingRequests/OutstandingPubSubMessages don't block
		// forever waiting on a signal nobody will send.
		cancelRequests()
		cancelPubSub()
		cancelTasks()

		progress := Progress{
			OutstandingRequests:       outstandingRequests,
			OutstandingPubSubMessages: outstandingPubSub,
			OutstandingTasks:          outstandingTasks,
			ForceCloseTasks:           forceCloseTasks,
			ForceShutdown:             forceShutdown,
		}

		m.mu.Lock()
		handlers := m.handlers
		m.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(len(handlers))
		for _, h := range handlers {
			h := h
			go func() {
				defer wg.Done()
				if err := h.Shutdown(progress); err != nil {
					rlog.Error("shutdown: handler returned error", "err", err)
				}
			}()
		}
		handlersDone := make(chan struct{})
		go func() {
			wg.Wait()
			close(handlersDone)
		}()
		select {
		case <-handlersDone:
		case <-forceShutdown.Done():
			rlog.Warn("shutdown: force-shutdown deadline reached before every handler returned")
		}

		rlog.Info("shutdown: completed")
		close(m.completed)
	})
}

// Done returns a channel closed once Initiate has finished running
// every handler.
func (m *Manager) Done() <-chan struct{} { return m.completed }
