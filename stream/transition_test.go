package stream

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStringTransitionAlwaysApplicable(t *testing.T) {
	c := qt.New(t)
	tr := StringTransition{NewValue: "v2"}
	c.Assert(tr.ApplicableTo(nil), qt.IsTrue)
	next, ok := tr.Apply(StringState{Value: "v1"})
	c.Assert(ok, qt.IsTrue)
	c.Assert(next, qt.Equals, StreamState(StringState{Value: "v2"}))
}

func TestSetSnapshotResetsVersionAndPreservesPartialFlag(t *testing.T) {
	c := qt.New(t)
	cur := SetState{Version: 9, PartialUpdates: true, Elements: map[string]struct{}{"a": {}}}
	tr := SetSnapshotTransition{Version: 1, Elements: []string{"x", "y"}}
	next, ok := tr.Apply(cur)
	c.Assert(ok, qt.IsTrue)
	ns := next.(SetState)
	c.Assert(ns.Version, qt.Equals, uint64(1))
	c.Assert(ns.PartialUpdates, qt.IsTrue)
	c.Assert(ns.Items(), qt.Contains, "x")
	c.Assert(ns.Items(), qt.Contains, "y")
}

func TestSetDeltaOnlyApplicableAtMatchingBaseVersion(t *testing.T) {
	c := qt.New(t)
	cur := SetState{Version: 5, Elements: map[string]struct{}{"a": {}, "b": {}}}

	stale := SetDeltaTransition{BaseVersion: 3}
	c.Assert(stale.ApplicableTo(cur), qt.IsFalse)
	_, ok := stale.Apply(cur)
	c.Assert(ok, qt.IsFalse)

	delta := SetDeltaTransition{BaseVersion: 5, Added: []string{"c"}, Removed: []string{"a"}}
	c.Assert(delta.ApplicableTo(cur), qt.IsTrue)
	next, ok := delta.Apply(cur)
	c.Assert(ok, qt.IsTrue)
	ns := next.(SetState)
	c.Assert(ns.Version, qt.Equals, uint64(6))
	_, hasA := ns.Elements["a"]
	_, hasB := ns.Elements["b"]
	_, hasC := ns.Elements["c"]
	c.Assert(hasA, qt.IsFalse)
	c.Assert(hasB, qt.IsTrue)
	c.Assert(hasC, qt.IsTrue)
}

func TestListAddAtHeadEvictsFromConfiguredSide(t *testing.T) {
	c := qt.New(t)
	cur := ListState{Items: []string{"a", "b"}, Capacity: 2, Evict: EvictFromTail}
	next, ok := ListAddAtHeadTransition{Item: "z"}.Apply(cur)
	c.Assert(ok, qt.IsTrue)
	c.Assert(next.(ListState).Items, qt.DeepEquals, []string{"z", "a"})
}

func TestListAddAtTailEvictsFromHead(t *testing.T) {
	c := qt.New(t)
	cur := ListState{Items: []string{"a", "b"}, Capacity: 2, Evict: EvictFromHead}
	next, ok := ListAddAtTailTransition{Item: "z"}.Apply(cur)
	c.Assert(ok, qt.IsTrue)
	c.Assert(next.(ListState).Items, qt.DeepEquals, []string{"b", "z"})
}

func TestListRemoveByValue(t *testing.T) {
	c := qt.New(t)
	cur := ListState{Items: []string{"a", "b", "a"}}
	next, ok := ListRemoveByValueTransition{Item: "a"}.Apply(cur)
	c.Assert(ok, qt.IsTrue)
	c.Assert(next.(ListState).Items, qt.DeepEquals, []string{"b"})
}

func TestListSnapshotPreservesCapacityAndEvictSide(t *testing.T) {
	c := qt.New(t)
	cur := ListState{Items: []string{"old"}, Capacity: 2, Evict: EvictFromHead}
	next, ok := ListSnapshotTransition{Items: []string{"a", "b", "c"}}.Apply(cur)
	c.Assert(ok, qt.IsTrue)
	ns := next.(ListState)
	c.Assert(ns.Capacity, qt.Equals, 2)
	c.Assert(ns.Items, qt.DeepEquals, []string{"b", "c"})
}

func TestDictMapTransitionReplacesTupleWholesale(t *testing.T) {
	c := qt.New(t)
	cur := DictMapState{Columns: []string{"a", "b"}, Values: map[string]ColumnValue{"a": {Kind: ColumnInt, Int: 1}}}
	next, ok := DictMapTransition{Values: map[string]ColumnValue{"b": {Kind: ColumnBool, Bool: true}}}.Apply(cur)
	c.Assert(ok, qt.IsTrue)
	ns := next.(DictMapState)
	c.Assert(ns.Columns, qt.DeepEquals, []string{"a", "b"})
	_, hasA := ns.Values["a"]
	c.Assert(hasA, qt.IsFalse)
	c.Assert(ns.Values["b"], qt.DeepEquals, ColumnValue{Kind: ColumnBool, Bool: true})
}
