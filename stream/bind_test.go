package stream

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

// TestPumpEndpointEventsForwardsSnapshotAsStreamStateUpdate guards
// against the distinction between a genuine snapshot and an ordinary
// transition being lost between an Endpoint and the Aggregator it feeds:
// the first message after a subject is opened must reach the consumer
// side as AggStreamStateUpdate, never AggStreamStateTransitionUpdate.
func TestPumpEndpointEventsForwardsSnapshotAsStreamStateUpdate(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	producer := newRecordingProducer()
	producer.snapshots[subj] = StringState{Value: "v0"}

	demand := NewDemandProducerContract(0)
	ep := NewEndpoint(producer, demand)

	epCtx, epCancel := context.WithCancel(context.Background())
	t.Cleanup(epCancel)
	go ep.Run(epCtx)

	agg, _ := newRunningAggregator(t, 2)

	go PumpEndpointEvents(ep, agg)

	agg.OnLocationChanged(subj.Service, &EndpointRef{ServiceKey: subj.Service, Address: "local"}, ep)
	agg.AddSubscription(subj, nil, 0)
	agg.GrantConsumerDemand(2)

	cb := producer.onTrans[subj]
	c.Assert(cb, qt.Not(qt.IsNil))
	cb(StringTransition{NewValue: "v1"})

	snapEvt := recvEvent(t, agg)
	snap, ok := snapEvt.(AggStreamStateUpdate)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", snapEvt))
	c.Assert(snap.Subject, qt.Equals, subj)
	c.Assert(snap.State, qt.Equals, StreamState(StringState{Value: "v0"}))

	transEvt := recvEvent(t, agg)
	trans, ok := transEvt.(AggStreamStateTransitionUpdate)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", transEvt))
	c.Assert(trans.Subject, qt.Equals, subj)
	c.Assert(trans.Transition, qt.DeepEquals, StreamStateTransition(StringTransition{NewValue: "v1"}))
}
