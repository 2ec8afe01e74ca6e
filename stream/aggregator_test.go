package stream

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"
)

// fakeHandle is an EndpointHandle that records every call made against
// it, standing in for both locally and remotely bound endpoints in
// aggregator tests.
type fakeHandle struct {
	name          string
	opened        []Subject
	closed        []Subject
	resets        []Subject
	openAll       [][]Subject
	closeAllCalls int
	granted       int64
	signals       []fakeSignal
}

type fakeSignal struct {
	subj Subject
	corr *string
}

func (f *fakeHandle) OpenLocalStreamFor(subj Subject)    { f.opened = append(f.opened, subj) }
func (f *fakeHandle) CloseLocalStreamFor(subj Subject)   { f.closed = append(f.closed, subj) }
func (f *fakeHandle) ResetLocalStreamFor(subj Subject)   { f.resets = append(f.resets, subj) }
func (f *fakeHandle) OpenLocalStreamsForAll(s []Subject) { f.openAll = append(f.openAll, s) }
func (f *fakeHandle) CloseAllLocalStreams()              { f.closeAllCalls++ }
func (f *fakeHandle) GrantDemand(n int64)                { f.granted += n }
func (f *fakeHandle) Signal(subj Subject, payload []byte, expireAtMillis int64, correlationID *string) {
	f.signals = append(f.signals, fakeSignal{subj: subj, corr: correlationID})
}

func newRunningAggregator(t *testing.T, initialDemand int64) (*Aggregator, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	agg := NewAggregator(clock.New(), initialDemand)
	go agg.Run(ctx, 10*time.Millisecond)
	return agg, ctx
}

func recvEvent(t *testing.T, agg *Aggregator) AggregatorEvent {
	t.Helper()
	select {
	case evt := <-agg.Events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for aggregator event")
		return nil
	}
}

func assertNoEvent(t *testing.T, agg *Aggregator) {
	t.Helper()
	select {
	case evt := <-agg.Events:
		t.Fatalf("unexpected event %#v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestS1SingleSubjectHappyPath mirrors spec scenario S1: a bound
// service forwards a snapshot and two deltas; with demand for all
// three, the consumer observes them in order.
func TestS1SingleSubjectHappyPath(t *testing.T) {
	c := qt.New(t)
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svcA")
	subj := NewSubject(svc, "topicA", nil)
	handle := &fakeHandle{}

	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-1"}, handle)
	agg.GrantConsumerDemand(3)
	agg.AddSubscription(subj, nil, 0)
	c.Assert(handle.opened, qt.DeepEquals, []Subject{subj})

	agg.OnSnapshotArrival(subj, StringState{Value: "v1"})
	agg.OnTransitionArrival(subj, StringTransition{NewValue: "v2"})
	agg.OnTransitionArrival(subj, StringTransition{NewValue: "v3"})

	snapEvt := recvEvent(t, agg)
	snap, ok := snapEvt.(AggStreamStateUpdate)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", snapEvt))
	c.Assert(snap.Subject, qt.Equals, subj)
	c.Assert(snap.State, qt.Equals, StreamState(StringState{Value: "v1"}))

	for _, want := range []string{"v2", "v3"} {
		evt := recvEvent(t, agg)
		upd, ok := evt.(AggStreamStateTransitionUpdate)
		c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
		c.Assert(upd.Subject, qt.Equals, subj)
		c.Assert(upd.Transition, qt.DeepEquals, StreamStateTransition(StringTransition{NewValue: want}))
	}
}

// TestS3PriorityFairness mirrors spec scenario S3: two priority groups
// each with two pending buckets, and demand for exactly four, produce
// one emission per bucket in inter-group/intra-group round-robin
// order: A0, B0, A1, B1.
func TestS3PriorityFairness(t *testing.T) {
	c := qt.New(t)
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svc")
	a := "A"
	b := "B"
	subjA0 := NewSubject(svc, "a0", nil)
	subjA1 := NewSubject(svc, "a1", nil)
	subjB0 := NewSubject(svc, "b0", nil)
	subjB1 := NewSubject(svc, "b1", nil)

	handle := &fakeHandle{}
	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-1"}, handle)

	agg.AddSubscription(subjA0, &a, 0)
	agg.AddSubscription(subjA1, &a, 0)
	agg.AddSubscription(subjB0, &b, 0)
	agg.AddSubscription(subjB1, &b, 0)

	agg.OnTransitionArrival(subjA0, StringTransition{NewValue: "a0"})
	agg.OnTransitionArrival(subjA1, StringTransition{NewValue: "a1"})
	agg.OnTransitionArrival(subjB0, StringTransition{NewValue: "b0"})
	agg.OnTransitionArrival(subjB1, StringTransition{NewValue: "b1"})

	agg.GrantConsumerDemand(4)

	var order []Subject
	for i := 0; i < 4; i++ {
		evt := recvEvent(t, agg)
		upd, ok := evt.(AggStreamStateTransitionUpdate)
		c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
		order = append(order, upd.Subject)
	}
	c.Assert(order, qt.DeepEquals, []Subject{subjA0, subjB0, subjA1, subjB1})
}

// TestS4BindingChange mirrors spec scenario S4: opening a subscription
// with no binding yields ServiceNotAvailable; a subsequent
// ServiceLocationChanged opens the stream on the new endpoint and a
// further relocation closes the old endpoint and opens the new one.
func TestS4BindingChange(t *testing.T) {
	c := qt.New(t)
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svcA")
	subj := NewSubject(svc, "topicA", nil)

	agg.GrantConsumerDemand(10)
	agg.AddSubscription(subj, nil, 0)

	evt := recvEvent(t, agg)
	sna, ok := evt.(AggServiceNotAvailable)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(sna.Service, qt.Equals, svc)

	loc1 := &fakeHandle{name: "loc1"}
	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-1"}, loc1)
	c.Assert(loc1.openAll, qt.DeepEquals, [][]Subject{{subj}})

	agg.OnSnapshotArrival(subj, StringState{Value: "v1"})
	evt = recvEvent(t, agg)
	snap, ok := evt.(AggStreamStateUpdate)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(snap.State, qt.Equals, StreamState(StringState{Value: "v1"}))

	loc2 := &fakeHandle{name: "loc2"}
	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-2"}, loc2)
	c.Assert(loc1.closeAllCalls, qt.Equals, 1)
	c.Assert(loc2.openAll, qt.DeepEquals, [][]Subject{{subj}})
}

// TestS5ResetOnInapplicableDelta mirrors spec scenario S5: the consumer
// holds a snapshot at version 3; an inapplicable SetDelta at version 5
// is dropped and a reset is requested upstream instead of being
// forwarded; the fresh snapshot the endpoint emits afterward reaches
// the consumer as a literal StreamStateUpdate, not a transition.
func TestS5ResetOnInapplicableDelta(t *testing.T) {
	c := qt.New(t)
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svcA")
	subj := NewSubject(svc, "topicA", nil)
	handle := &fakeHandle{}
	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-1"}, handle)
	agg.AddSubscription(subj, nil, 0)
	agg.GrantConsumerDemand(5)

	agg.OnSnapshotArrival(subj, SetState{Version: 3, Elements: map[string]struct{}{"a": {}}})
	evt := recvEvent(t, agg)
	snap, ok := evt.(AggStreamStateUpdate)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(snap.State, qt.DeepEquals, StreamState(SetState{Version: 3, Elements: map[string]struct{}{"a": {}}}))

	agg.OnTransitionArrival(subj, SetDeltaTransition{BaseVersion: 5})
	assertNoEvent(t, agg)
	c.Assert(handle.resets, qt.DeepEquals, []Subject{subj})

	// The endpoint honours the reset with a fresh snapshot; the consumer
	// observes only that snapshot, never a transition.
	agg.OnSnapshotArrival(subj, SetState{Version: 6, Elements: map[string]struct{}{"a": {}, "b": {}}})
	evt = recvEvent(t, agg)
	snap, ok = evt.(AggStreamStateUpdate)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(snap.State, qt.DeepEquals, StreamState(SetState{Version: 6, Elements: map[string]struct{}{"a": {}, "b": {}}}))
}

// TestS6SignalAck mirrors spec scenario S6: a Signal with a
// correlation ID forwarded to the bound endpoint yields a matching
// SignalAckOk once the endpoint acknowledges it.
func TestS6SignalAck(t *testing.T) {
	c := qt.New(t)
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svcA")
	subj := NewSubject(svc, "topicA", nil)
	handle := &fakeHandle{}
	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-1"}, handle)
	agg.GrantConsumerDemand(1)

	corr := "corr7"
	agg.Signal(subj, []byte("payload"), 0, &corr)
	c.Assert(handle.signals, qt.HasLen, 1)
	c.Assert(*handle.signals[0].corr, qt.Equals, "corr7")

	agg.OnSignalAck(true, "corr7", nil)
	evt := recvEvent(t, agg)
	ack, ok := evt.(AggSignalAckOk)
	c.Assert(ok, qt.IsTrue, qt.Commentf("got %T", evt))
	c.Assert(ack.CorrelationID, qt.Equals, "corr7")
}

// TestServiceNotAvailableIsDedupedInPendingQueue verifies that two
// subscriptions against the same unbound service only ever produce one
// ServiceNotAvailable in the pending queue.
func TestServiceNotAvailableIsDedupedInPendingQueue(t *testing.T) {
	c := qt.New(t)
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svcA")
	agg.AddSubscription(NewSubject(svc, "t0", nil), nil, 0)
	agg.AddSubscription(NewSubject(svc, "t1", nil), nil, 0)
	agg.GrantConsumerDemand(10)

	evt := recvEvent(t, agg)
	_, ok := evt.(AggServiceNotAvailable)
	c.Assert(ok, qt.IsTrue)
	assertNoEvent(t, agg)
}

// TestCloseThenReopenMatchesFreshOpen verifies spec invariant 7: close
// followed by a fresh open leaves the aggregator's bucket graph in the
// same shape as a single open (no duplicate entries, endpoint closed
// and reopened exactly once).
func TestCloseThenReopenMatchesFreshOpen(t *testing.T) {
	c := qt.New(t)
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svcA")
	subj := NewSubject(svc, "topicA", nil)
	handle := &fakeHandle{}
	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-1"}, handle)

	agg.AddSubscription(subj, nil, 0)
	agg.CloseSubscription(subj)
	agg.AddSubscription(subj, nil, 0)

	c.Assert(handle.opened, qt.DeepEquals, []Subject{subj, subj})
	c.Assert(handle.closed, qt.DeepEquals, []Subject{subj})
	c.Assert(agg.streamToBucket, qt.HasLen, 1)
}

// TestConsumerDemandNeverGoesNegative exercises invariant 3: with zero
// granted demand, publishPending never emits even with a pending
// transition queued.
func TestConsumerDemandNeverGoesNegative(t *testing.T) {
	agg, _ := newRunningAggregator(t, 8)

	const svc = ServiceKey("svcA")
	subj := NewSubject(svc, "topicA", nil)
	handle := &fakeHandle{}
	agg.OnLocationChanged(svc, &EndpointRef{ServiceKey: svc, Address: "node-1"}, handle)
	agg.AddSubscription(subj, nil, 0)

	agg.OnTransitionArrival(subj, StringTransition{NewValue: "v1"})
	assertNoEvent(t, agg)
}
