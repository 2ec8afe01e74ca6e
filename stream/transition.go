package stream

// StreamStateTransition is a delta that may be applied to a StreamState.
// Each variant defines (a) whether it applies to a given current state
// and (b) the new state it produces when it does.
type StreamStateTransition interface {
	// ApplicableTo reports whether t can be folded into current. current
	// is nil when no snapshot has been observed yet.
	ApplicableTo(current StreamState) bool

	// Apply folds the transition into current, returning the new state
	// and true, or an undefined state and false if ApplicableTo(current)
	// would be false.
	Apply(current StreamState) (StreamState, bool)

	streamStateTransition() // marker method
}

// StringTransition carries a replacement value for a StringState. It is
// always applicable.
type StringTransition struct {
	NewValue string
}

func (StringTransition) streamStateTransition() {}

func (StringTransition) ApplicableTo(StreamState) bool { return true }

func (t StringTransition) Apply(StreamState) (StreamState, bool) {
	return StringState{Value: t.NewValue}, true
}

// SetSnapshotTransition replaces a SetState wholesale, resetting its
// version. It is always applicable.
type SetSnapshotTransition struct {
	Version  uint64
	Elements []string
}

func (SetSnapshotTransition) streamStateTransition() {}

func (SetSnapshotTransition) ApplicableTo(StreamState) bool { return true }

func (t SetSnapshotTransition) Apply(current StreamState) (StreamState, bool) {
	partial := false
	if cur, ok := current.(SetState); ok {
		partial = cur.PartialUpdates
	}
	elems := make(map[string]struct{}, len(t.Elements))
	for _, e := range t.Elements {
		elems[e] = struct{}{}
	}
	return SetState{Version: t.Version, Elements: elems, PartialUpdates: partial}, true
}

// SetDeltaTransition carries only the elements added and removed since
// BaseVersion. It applies only when the current SetState's Version
// matches BaseVersion exactly, otherwise the caller must request a
// Reset.
type SetDeltaTransition struct {
	BaseVersion uint64
	Added       []string
	Removed     []string
}

func (SetDeltaTransition) streamStateTransition() {}

func (t SetDeltaTransition) ApplicableTo(current StreamState) bool {
	cur, ok := current.(SetState)
	return ok && cur.Version == t.BaseVersion
}

func (t SetDeltaTransition) Apply(current StreamState) (StreamState, bool) {
	if !t.ApplicableTo(current) {
		return nil, false
	}
	cur := current.(SetState)
	elems := make(map[string]struct{}, len(cur.Elements)+len(t.Added))
	for e := range cur.Elements {
		elems[e] = struct{}{}
	}
	for _, e := range t.Removed {
		delete(elems, e)
	}
	for _, e := range t.Added {
		elems[e] = struct{}{}
	}
	return SetState{Version: t.BaseVersion + 1, Elements: elems, PartialUpdates: cur.PartialUpdates}, true
}

// ListAddAtHeadTransition prepends Item to a ListState, evicting from
// the configured side on overflow. It is always applicable.
type ListAddAtHeadTransition struct{ Item string }

func (ListAddAtHeadTransition) streamStateTransition()        {}
func (ListAddAtHeadTransition) ApplicableTo(StreamState) bool { return true }

func (t ListAddAtHeadTransition) Apply(current StreamState) (StreamState, bool) {
	cur, _ := current.(ListState)
	return cur.pushLeft(t.Item), true
}

// ListAddAtTailTransition appends Item to a ListState, evicting from the
// configured side on overflow. It is always applicable.
type ListAddAtTailTransition struct{ Item string }

func (ListAddAtTailTransition) streamStateTransition()        {}
func (ListAddAtTailTransition) ApplicableTo(StreamState) bool { return true }

func (t ListAddAtTailTransition) Apply(current StreamState) (StreamState, bool) {
	cur, _ := current.(ListState)
	return cur.pushRight(t.Item), true
}

// ListRemoveByValueTransition removes every occurrence of Item from a
// ListState. It is always applicable (a no-op if Item is absent).
type ListRemoveByValueTransition struct{ Item string }

func (ListRemoveByValueTransition) streamStateTransition()        {}
func (ListRemoveByValueTransition) ApplicableTo(StreamState) bool { return true }

func (t ListRemoveByValueTransition) Apply(current StreamState) (StreamState, bool) {
	cur, _ := current.(ListState)
	return cur.removeByValue(t.Item), true
}

// ListSnapshotTransition replaces a ListState's items wholesale. Capacity
// and eviction side are carried over from the existing state, since they
// are properties of the state rather than the transition. It is always
// applicable.
type ListSnapshotTransition struct{ Items []string }

func (ListSnapshotTransition) streamStateTransition()        {}
func (ListSnapshotTransition) ApplicableTo(StreamState) bool { return true }

func (t ListSnapshotTransition) Apply(current StreamState) (StreamState, bool) {
	cur, _ := current.(ListState)
	cur.Items = nil
	return cur.trim(append([]string{}, t.Items...)), true
}

// DictMapTransition carries column values keyed by column name and
// always replaces the current DictMapState's values wholesale. It is
// always applicable.
type DictMapTransition struct {
	Values map[string]ColumnValue
}

func (DictMapTransition) streamStateTransition()        {}
func (DictMapTransition) ApplicableTo(StreamState) bool { return true }

func (t DictMapTransition) Apply(current StreamState) (StreamState, bool) {
	cur, ok := current.(DictMapState)
	if !ok {
		cur = DictMapState{}
	}
	values := make(map[string]ColumnValue, len(t.Values))
	for k, v := range t.Values {
		values[k] = v
	}
	cur.Values = values
	return cur, true
}
