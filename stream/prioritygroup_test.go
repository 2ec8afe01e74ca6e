package stream

import (
	"sort"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestPriorityBucketGroupRoundRobinsAcrossCalls(t *testing.T) {
	c := qt.New(t)
	g := NewPriorityBucketGroup(nil)

	b0 := NewBucket(NewSubject("svc", "t0", nil), nil, 0)
	b1 := NewBucket(NewSubject("svc", "t1", nil), nil, 0)
	g.Add(b0)
	g.Add(b1)

	now := time.Unix(0, 0)
	b0.pending = StringTransition{NewValue: "x"}
	b1.pending = StringTransition{NewValue: "y"}

	var order []*Bucket
	canUpdate := func() bool { return len(order) < 1 }
	send := func(b *Bucket, s BucketSend) { order = append(order, b) }

	// First call: only one send slot, so only bucket 0 fires.
	g.PublishPending(now, canUpdate, send)
	c.Assert(order, qt.DeepEquals, []*Bucket{b0})

	// Cursor should have advanced past b0; next call with room for one
	// more send should hit b1.
	order = nil
	b1.pending = StringTransition{NewValue: "y2"}
	canUpdate = func() bool { return len(order) < 1 }
	g.PublishPending(now, canUpdate, send)
	c.Assert(order, qt.DeepEquals, []*Bucket{b1})
}

func TestPriorityBucketGroupStopsWhenCanUpdateFalse(t *testing.T) {
	c := qt.New(t)
	g := NewPriorityBucketGroup(nil)
	b0 := NewBucket(NewSubject("svc", "t0", nil), nil, 0)
	b0.pending = StringTransition{NewValue: "x"}
	g.Add(b0)

	called := 0
	g.PublishPending(time.Unix(0, 0), func() bool { called++; return false }, func(*Bucket, BucketSend) {
		c.Fatal("send must not be called")
	})
	c.Assert(called, qt.Equals, 1)
}

func TestPriorityBucketGroupEmptyIsNoop(t *testing.T) {
	g := NewPriorityBucketGroup(nil)
	g.PublishPending(time.Unix(0, 0), func() bool { return true }, func(*Bucket, BucketSend) {
		panic("must not be called")
	})
}

func TestPriorityGroupOrderingNoneSortsLast(t *testing.T) {
	c := qt.New(t)
	a := "A"
	b := "B"
	groups := []*PriorityBucketGroup{
		NewPriorityBucketGroup(nil),
		NewPriorityBucketGroup(&b),
		NewPriorityBucketGroup(&a),
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Less(groups[j]) })

	c.Assert(groups[0].PriorityKey, qt.Not(qt.IsNil))
	c.Assert(*groups[0].PriorityKey, qt.Equals, "A")
	c.Assert(*groups[1].PriorityKey, qt.Equals, "B")
	c.Assert(groups[2].PriorityKey, qt.IsNil)
}
