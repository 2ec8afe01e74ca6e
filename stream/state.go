package stream

// StreamState is a marker interface implemented by the four variants a
// subscription can hold: StringState, SetState, ListState, and
// DictMapState. A marker method (as opposed to interface{}) keeps the
// type restricted to values meant to flow through the dialect codec.
type StreamState interface {
	streamState() // marker method; it need not do anything
}

// EvictionSide names which end of a ListState a capacity overflow evicts
// from.
type EvictionSide byte

const (
	EvictFromHead EvictionSide = iota
	EvictFromTail
)

// StringState is a single immutable string value.
type StringState struct {
	Value string
}

func (StringState) streamState() {}

// SetState is a set of opaque string elements carrying a monotonic
// version. When PartialUpdates is true, transitions may carry only the
// added/removed elements rather than a full snapshot.
type SetState struct {
	Version        uint64
	Elements       map[string]struct{}
	PartialUpdates bool
}

func (SetState) streamState() {}

// NewSetKeyspace returns an empty SetState ready to receive its first
// Snapshot or Delta transition, mirroring the teacher's cache
// SetKeyspace naming for set-shaped state.
func NewSetKeyspace(partialUpdates bool) SetState {
	return SetState{Elements: make(map[string]struct{}), PartialUpdates: partialUpdates}
}

// Items returns the set's current elements as a slice, in no particular
// order.
func (s SetState) Items() []string {
	out := make([]string, 0, len(s.Elements))
	for e := range s.Elements {
		out = append(out, e)
	}
	return out
}

// ListState is an ordered sequence bounded by Capacity, evicting from
// the configured Evict side on overflow.
type ListState struct {
	Items    []string
	Capacity int
	Evict    EvictionSide
}

func (ListState) streamState() {}

// NewListKeyspace returns an empty ListState with the given capacity and
// eviction policy, mirroring the teacher's cache ListKeyspace naming.
func NewListKeyspace(capacity int, evict EvictionSide) ListState {
	return ListState{Capacity: capacity, Evict: evict}
}

func (l ListState) pushLeft(item string) ListState {
	items := append([]string{item}, l.Items...)
	return l.trim(items)
}

func (l ListState) pushRight(item string) ListState {
	items := append(append([]string{}, l.Items...), item)
	return l.trim(items)
}

func (l ListState) trim(items []string) ListState {
	if l.Capacity > 0 && len(items) > l.Capacity {
		switch l.Evict {
		case EvictFromHead:
			items = items[len(items)-l.Capacity:]
		default:
			items = items[:l.Capacity]
		}
	}
	l.Items = items
	return l
}

func (l ListState) removeByValue(item string) ListState {
	out := make([]string, 0, len(l.Items))
	for _, v := range l.Items {
		if v != item {
			out = append(out, v)
		}
	}
	l.Items = out
	return l
}

// ColumnKind names the typed value stored in a DictMapState column.
type ColumnKind byte

const (
	ColumnString ColumnKind = iota
	ColumnInt
	ColumnBool
)

// ColumnValue is a single typed cell in a DictMapState tuple.
type ColumnValue struct {
	Kind ColumnKind
	Str  string
	Int  int64
	Bool bool
}

// DictMapState is a fixed-schema tuple keyed by a dictionary of column
// names, with per-column typed values.
type DictMapState struct {
	Columns []string
	Values  map[string]ColumnValue
}

func (DictMapState) streamState() {}

// NewStructKeyspace returns a DictMapState with the given fixed column
// schema and no values set, mirroring the teacher's cache
// StructKeyspace naming.
func NewStructKeyspace(columns ...string) DictMapState {
	return DictMapState{Columns: columns, Values: make(map[string]ColumnValue, len(columns))}
}
