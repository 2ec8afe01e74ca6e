package shutdown

// AggregatorRunner is the subset of stream.Aggregator's lifecycle a
// Handler needs: something cancellable that, once cancelled, closes
// every locally or remotely bound stream for its consumer. A
// *stream.Aggregator run via a cancellable context satisfies this
// trivially — see AggregatorHandler.
type AggregatorRunner interface {
	// Cancel stops the aggregator's Run loop, which sends
	// CloseAllLocalStreams to every currently bound EndpointHandle
	// before returning.
	Cancel()
}

// AggregatorHandler adapts an AggregatorRunner (typically the cancel
// func of the context passed to stream.Aggregator.Run) to the graceful
// shutdown Handler contract: it waits for outstanding requests to drain
// before tearing the aggregator's bindings down, so a consumer mid-read
// doesn't see its streams vanish out from under it.
type AggregatorHandler struct {
	Runner AggregatorRunner
}

var _ Handler = (*AggregatorHandler)(nil)

func (h *AggregatorHandler) Shutdown(p Progress) error {
	<-p.OutstandingRequests.Done()
	h.Runner.Cancel()
	return nil
}

// CancelFunc adapts a context.CancelFunc to AggregatorRunner.
type CancelFunc func()

func (f CancelFunc) Cancel() { f() }

var _ AggregatorRunner = CancelFunc(func() {})
