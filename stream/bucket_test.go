package stream

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestBucketCoalescesByOverwritingPending(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	b := NewBucket(subj, nil, 0)

	var sent []BucketSend
	canUpdate := func() bool { return false }
	send := func(s BucketSend) { sent = append(sent, s) }

	now := time.Unix(0, 0)
	c.Assert(b.OnNewTransition(now, StringTransition{NewValue: "v1"}, canUpdate, send), qt.IsTrue)
	c.Assert(b.OnNewTransition(now, StringTransition{NewValue: "v2"}, canUpdate, send), qt.IsTrue)
	c.Assert(sent, qt.HasLen, 0)
	c.Assert(b.pending, qt.DeepEquals, StreamStateTransition(StringTransition{NewValue: "v2"}))
}

func TestBucketPublishesWhenDemandAllows(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	b := NewBucket(subj, nil, 0)

	var sent []BucketSend
	send := func(s BucketSend) { sent = append(sent, s) }

	now := time.Unix(0, 0)
	b.OnNewTransition(now, StringTransition{NewValue: "v1"}, func() bool { return true }, send)
	c.Assert(sent, qt.DeepEquals, []BucketSend{{Transition: StringTransition{NewValue: "v1"}}})
	c.Assert(b.HasPending(), qt.IsFalse)
	c.Assert(b.resolved, qt.Equals, StreamState(StringState{Value: "v1"}))
}

func TestBucketAggregationIntervalBoundsEmissionRate(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	b := NewBucket(subj, nil, 100)

	var sent []BucketSend
	send := func(s BucketSend) { sent = append(sent, s) }
	canUpdate := func() bool { return true }

	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		now := base.Add(time.Duration(i) * 10 * time.Millisecond)
		b.OnNewTransition(now, StringTransition{NewValue: string(rune('a' + i))}, canUpdate, send)
	}
	c.Assert(sent, qt.HasLen, 1)
	c.Assert(sent[0], qt.DeepEquals, BucketSend{Transition: StringTransition{NewValue: "a"}})

	// Crossing the interval boundary flushes the latest pending value.
	later := base.Add(150 * time.Millisecond)
	b.OnNewTransition(later, StringTransition{NewValue: "z"}, canUpdate, send)
	c.Assert(sent, qt.HasLen, 2)
	c.Assert(sent[1], qt.DeepEquals, BucketSend{Transition: StringTransition{NewValue: "z"}})
}

func TestBucketDropsInapplicableSetDelta(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	b := NewBucket(subj, nil, 0)
	b.resolved = SetState{Version: 3, Elements: map[string]struct{}{"x": {}}}

	ok := b.OnNewTransition(time.Unix(0, 0), SetDeltaTransition{BaseVersion: 5}, func() bool { return true }, func(BucketSend) {})
	c.Assert(ok, qt.IsFalse)
	c.Assert(b.HasPending(), qt.IsFalse)
}

func TestBucketResetClearsStateAndPending(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	b := NewBucket(subj, nil, 0)
	b.resolved = StringState{Value: "v1"}
	b.pending = StringTransition{NewValue: "v2"}

	b.Reset()
	c.Assert(b.resolved, qt.IsNil)
	c.Assert(b.HasPending(), qt.IsFalse)
}

func TestBucketOnNewSnapshotEmitsAsSnapshotNotTransition(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	b := NewBucket(subj, nil, 0)

	var sent []BucketSend
	send := func(s BucketSend) { sent = append(sent, s) }

	b.OnNewSnapshot(time.Unix(0, 0), StringState{Value: "v1"}, func() bool { return true }, send)
	c.Assert(sent, qt.DeepEquals, []BucketSend{{Snapshot: StringState{Value: "v1"}}})
	c.Assert(b.HasPending(), qt.IsFalse)
	c.Assert(b.resolved, qt.Equals, StreamState(StringState{Value: "v1"}))
}

func TestBucketFoldsTransitionIntoUndeliveredSnapshot(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", nil)
	b := NewBucket(subj, nil, 0)

	var sent []BucketSend
	canUpdate := func() bool { return false }
	send := func(s BucketSend) { sent = append(sent, s) }

	b.OnNewSnapshot(time.Unix(0, 0), StringState{Value: "v1"}, canUpdate, send)
	c.Assert(b.OnNewTransition(time.Unix(0, 0), StringTransition{NewValue: "v2"}, canUpdate, send), qt.IsTrue)
	c.Assert(sent, qt.HasLen, 0)

	// The transition folded into the still-pending snapshot rather than
	// queuing separately: demand allowing, exactly one emission happens
	// and it is a snapshot carrying the latest value.
	canUpdate = func() bool { return true }
	b.PublishPending(time.Unix(0, 0), canUpdate, send)
	c.Assert(sent, qt.DeepEquals, []BucketSend{{Snapshot: StringState{Value: "v2"}}})
}
