package shutdown

import "context"

// Progress provides progress information about an ongoing graceful shutdown process.
//
// Manager.Initiate drives the process in two phases:
//
// 1. Run handlers
//
// As soon as the graceful shutdown process is initiated, every registered [Handler] has its
// [Handler.Shutdown] function called, concurrently. The [Handler.Shutdown] method receives a [Progress]
// struct that can be used to monitor the progress of the shutdown process, and allows the service
// to perform any necessary cleanup at the right time.
//
// Manager keeps no tracker of incoming API calls, Pub/Sub messages or other tasks, so the
// OutstandingRequests, OutstandingPubSubMessages, and OutstandingTasks contexts are canceled as
// soon as this phase begins.
//
// 2. Complete
//
// When every [Handler.Shutdown] call has returned, or the ForceShutdown deadline is reached,
// whichever happens first, Manager closes its Done channel. Manager itself closes no
// infrastructure resources and does not exit the process.
type Progress struct {
	// OutstandingRequests is canceled when the service is no longer processing any incoming API calls.
	OutstandingRequests context.Context

	// OutstandingPubSubMessages is canceled when the service is no longer processing any Pub/Sub messages.
	OutstandingPubSubMessages context.Context

	// ForceCloseTasks is canceled when the graceful shutdown deadline is reached and it's time to
	// forcibly close active tasks (outstanding incoming API requests and Pub/Sub subscription messages).
	//
	// When ForceCloseTasks is closed, the contexts for all outstanding tasks are canceled.
	//
	// It is canceled early once the shutdown sequence completes.
	ForceCloseTasks context.Context

	// OutstandingTasks is canceled when the service is no longer actively processing any tasks,
	// which includes both incoming API calls and Pub/Sub messages.
	//
	// It is canceled as soon as both OutstandingRequests and OutstandingPubSubMessages have been canceled.
	OutstandingTasks context.Context

	// ForceShutdown is closed when the graceful shutdown window has closed and it's time to
	// forcefully shut down.
	//
	// If the graceful shutdown window lapses before the cooperative shutdown is complete,
	// the ForceShutdown context may be canceled while handlers are still running.
	//
	// It is canceled early once all registered Handler.Shutdown methods have returned.
	ForceShutdown context.Context
}

// Handler is the interface for resources that participate in the graceful shutdown process.
type Handler interface {
	// Shutdown is called by Manager when the graceful shutdown process is initiated.
	//
	// The provided Progress struct provides information about the graceful shutdown progress,
	// which can be used to determine at what point in time it's appropriate to close certain resources.
	//
	// For example, a service struct may want to wait for all incoming requests to complete
	// before it closes its client to a third-party service:
	//
	// 			func (s *MyService) Shutdown(p shutdown.Progress) error {
	//				<-p.OutstandingRequests.Done()
	//				return s.client.Close()
	//			}
	//
	// The shutdown process is cooperative (to the extent it is possible),
	// and Manager waits for all Handlers to return before reporting
	// completion, until the ForceShutdown deadline is reached.
	//
	// The return value of Shutdown is used to report shutdown errors only,
	// and has no effect on the shutdown process.
	Shutdown(Progress) error
}
