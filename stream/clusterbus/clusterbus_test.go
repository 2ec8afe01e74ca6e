package clusterbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"

	"flowmesh.dev/stream"
	"flowmesh.dev/stream/clusterbus"
)

// stubProducer is a minimal stream.Producer that always reports a fixed
// StringState snapshot and never pushes further transitions.
type stubProducer struct{ value string }

func (p *stubProducer) Snapshot(context.Context, stream.Subject) (stream.StreamState, error) {
	return stream.StringState{Value: p.value}, nil
}

func (p *stubProducer) Subscribe(stream.Subject, func(stream.StreamStateTransition)) (func(), error) {
	return func() {}, nil
}

// TestRemoteHandleRoundTripsThroughInMemoryTransport verifies that a
// command issued against a RemoteEndpointHandle reaches a ServedEndpoint
// bound to an *Endpoint, and that the resulting EndpointEvent flows back
// through DispatchEvents into the Aggregator's own event stream.
func TestRemoteHandleRoundTripsThroughInMemoryTransport(t *testing.T) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const service = stream.ServiceKey("presence")
	subj := stream.NewSubject(service, "room-1", nil)

	transport := clusterbus.NewInMemory()

	ep := stream.NewEndpoint(&stubProducer{value: "hello"}, stream.NewDemandProducerContract(0))
	go ep.Run(ctx)
	served := clusterbus.NewServedEndpoint(service, ep, transport)
	go served.Run(ctx)

	agg := stream.NewAggregator(clock.New(), 8)
	go agg.Run(ctx, 10*time.Millisecond)
	go clusterbus.DispatchEvents(ctx, transport, service, agg)

	handle := clusterbus.NewRemoteEndpointHandle(ctx, transport, service)
	agg.OnLocationChanged(service, &stream.EndpointRef{ServiceKey: service, Address: "node-2"}, handle)
	agg.GrantConsumerDemand(8)
	agg.AddSubscription(subj, nil, 0)

	select {
	case evt := <-agg.Events:
		update, ok := evt.(stream.AggStreamStateUpdate)
		c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
		c.Assert(update.Subject, qt.Equals, subj)
		c.Assert(update.State, qt.DeepEquals, stream.StreamState(stream.StringState{Value: "hello"}))
	case <-time.After(2 * time.Second):
		c.Fatal("timed out waiting for aggregator event")
	}
}
