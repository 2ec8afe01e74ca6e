package stream

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStateToWireRoundTripsEachVariant(t *testing.T) {
	c := qt.New(t)
	cases := []StreamState{
		StringState{Value: "hello"},
		SetState{Version: 3, Elements: map[string]struct{}{"a": {}, "b": {}}, PartialUpdates: true},
		ListState{Items: []string{"x", "y"}, Capacity: 5, Evict: EvictFromHead},
		DictMapState{Columns: []string{"c1"}, Values: map[string]ColumnValue{"c1": {Kind: ColumnString, Str: "v"}}},
	}
	for _, s := range cases {
		got := StateFromWire(StateToWire(s))
		c.Assert(got, qt.DeepEquals, s)
	}
}

func TestTransitionToWireRoundTripsEachVariant(t *testing.T) {
	c := qt.New(t)
	cases := []StreamStateTransition{
		StringTransition{NewValue: "v"},
		SetSnapshotTransition{Version: 1, Elements: []string{"a"}},
		SetDeltaTransition{BaseVersion: 2, Added: []string{"b"}, Removed: []string{"a"}},
		ListAddAtHeadTransition{Item: "h"},
		ListAddAtTailTransition{Item: "t"},
		ListRemoveByValueTransition{Item: "r"},
		ListSnapshotTransition{Items: []string{"a", "b"}},
		DictMapTransition{Values: map[string]ColumnValue{"c": {Kind: ColumnBool, Bool: true}}},
	}
	for _, tr := range cases {
		got := TransitionFromWire(TransitionToWire(tr))
		c.Assert(got, qt.DeepEquals, tr)
	}
}

func TestSubjectToWireRoundTrips(t *testing.T) {
	c := qt.New(t)
	subj := NewSubject("svcA", "topicA", map[string]string{"region": "us"})
	got := SubjectFromWire(SubjectToWire(subj))
	c.Assert(got, qt.Equals, subj)
}
