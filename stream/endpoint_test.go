package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// recordingProducer is a stream.Producer stub whose Subscribe captures
// the callback so tests can push transitions on demand, and whose
// Snapshot/Subscribe can be made to fail for a given subject.
type recordingProducer struct {
	snapshots map[Subject]StreamState
	failSubj  map[Subject]bool
	onTrans   map[Subject]func(StreamStateTransition)
}

func newRecordingProducer() *recordingProducer {
	return &recordingProducer{
		snapshots: make(map[Subject]StreamState),
		failSubj:  make(map[Subject]bool),
		onTrans:   make(map[Subject]func(StreamStateTransition)),
	}
}

func (p *recordingProducer) Snapshot(ctx context.Context, subj Subject) (StreamState, error) {
	if p.failSubj[subj] {
		return nil, errors.New("boom")
	}
	return p.snapshots[subj], nil
}

func (p *recordingProducer) Subscribe(subj Subject, onTransition func(StreamStateTransition)) (func(), error) {
	if p.failSubj[subj] {
		return nil, errors.New("boom")
	}
	p.onTrans[subj] = onTransition
	return func() { delete(p.onTrans, subj) }, nil
}

func runEndpoint(t *testing.T, e *Endpoint) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return ctx
}

func recvEndpointEvent(t *testing.T, e *Endpoint) EndpointEvent {
	t.Helper()
	select {
	case evt := <-e.Events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for endpoint event")
		return nil
	}
}

func TestEndpointSendsSnapshotOnOpenWhenDemandAvailable(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	producer := newRecordingProducer()
	producer.snapshots[subj] = StringState{Value: "hello"}

	demand := NewDemandProducerContract(0)
	demand.Grant(1)
	ep := NewEndpoint(producer, demand)
	runEndpoint(t, ep)

	ep.OpenLocalStreamFor(subj)

	evt := recvEndpointEvent(t, ep)
	snap, ok := evt.(StreamStateUpdateEvent)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(snap.Subject, qt.Equals, subj)
	c.Assert(snap.State, qt.Equals, StreamState(StringState{Value: "hello"}))
}

func TestEndpointBuffersTransitionsUntilDemandGranted(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	producer := newRecordingProducer()
	producer.snapshots[subj] = StringState{Value: "v0"}

	demand := NewDemandProducerContract(0)
	ep := NewEndpoint(producer, demand)
	runEndpoint(t, ep)

	ep.OpenLocalStreamFor(subj)
	cb := producer.onTrans[subj]
	c.Assert(cb, qt.Not(qt.IsNil))
	cb(StringTransition{NewValue: "v1"})

	select {
	case evt := <-ep.Events:
		t.Fatalf("unexpected event before demand granted: %#v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	ep.GrantDemand(2)

	evt := recvEndpointEvent(t, ep)
	snap, ok := evt.(StreamStateUpdateEvent)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(snap.State, qt.Equals, StreamState(StringState{Value: "v0"}))

	evt = recvEndpointEvent(t, ep)
	trans, ok := evt.(StreamStateTransitionUpdateEvent)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(trans.Transition, qt.DeepEquals, StreamStateTransition(StringTransition{NewValue: "v1"}))
}

func TestEndpointEmitsInvalidRequestWhenProducerRefuses(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	producer := newRecordingProducer()
	producer.failSubj[subj] = true

	ep := NewEndpoint(producer, NewDemandProducerContract(0))
	runEndpoint(t, ep)

	ep.OpenLocalStreamFor(subj)
	evt := recvEndpointEvent(t, ep)
	_, ok := evt.(InvalidRequestEvent)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
}

func TestEndpointCloseAllEmitsSubscriptionClosedForEachOpenSubject(t *testing.T) {
	c := qt.New(t)
	subj1 := NewSubject("svcA", "t1", nil)
	subj2 := NewSubject("svcA", "t2", nil)
	producer := newRecordingProducer()

	demand := NewDemandProducerContract(0)
	demand.Grant(2)
	ep := NewEndpoint(producer, demand)
	runEndpoint(t, ep)

	ep.OpenLocalStreamsForAll([]Subject{subj1, subj2})
	recvEndpointEvent(t, ep)
	recvEndpointEvent(t, ep)

	ep.CloseAllLocalStreams()
	seen := map[Subject]bool{}
	for i := 0; i < 2; i++ {
		evt := recvEndpointEvent(t, ep)
		closed, ok := evt.(SubscriptionClosedEvent)
		c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
		seen[closed.Subject] = true
	}
	c.Assert(seen[subj1], qt.IsTrue)
	c.Assert(seen[subj2], qt.IsTrue)
}
