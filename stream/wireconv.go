package stream

import "flowmesh.dev/stream/wire"

// StateToWire converts a resolved StreamState into its wire.StatePayload
// shape, for a StreamStateUpdate snapshot.
func StateToWire(s StreamState) wire.StatePayload {
	switch v := s.(type) {
	case StringState:
		return wire.StatePayload{Variant: wire.VariantString, StringValue: v.Value}
	case SetState:
		return wire.StatePayload{
			Variant:     wire.VariantSet,
			SetVersion:  v.Version,
			SetElements: v.Items(),
			SetPartial:  v.PartialUpdates,
		}
	case ListState:
		return wire.StatePayload{
			Variant:      wire.VariantList,
			ListItems:    append([]string{}, v.Items...),
			ListCapacity: v.Capacity,
			ListEvict:    byte(v.Evict),
		}
	case DictMapState:
		return wire.StatePayload{
			Variant:     wire.VariantDictMap,
			DictColumns: append([]string{}, v.Columns...),
			DictValues:  columnsToWire(v.Values),
		}
	default:
		return wire.StatePayload{}
	}
}

// StateFromWire is the inverse of StateToWire.
func StateFromWire(p wire.StatePayload) StreamState {
	switch p.Variant {
	case wire.VariantString:
		return StringState{Value: p.StringValue}
	case wire.VariantSet:
		elems := make(map[string]struct{}, len(p.SetElements))
		for _, e := range p.SetElements {
			elems[e] = struct{}{}
		}
		return SetState{Version: p.SetVersion, Elements: elems, PartialUpdates: p.SetPartial}
	case wire.VariantList:
		return ListState{Items: append([]string{}, p.ListItems...), Capacity: p.ListCapacity, Evict: EvictionSide(p.ListEvict)}
	case wire.VariantDictMap:
		return DictMapState{Columns: append([]string{}, p.DictColumns...), Values: columnsFromWire(p.DictValues)}
	default:
		return nil
	}
}

// TransitionToWire converts a StreamStateTransition into its
// wire.TransitionPayload shape.
func TransitionToWire(t StreamStateTransition) wire.TransitionPayload {
	switch v := t.(type) {
	case StringTransition:
		return wire.TransitionPayload{TKind: wire.TransitionStringSet, StringValue: v.NewValue}
	case SetSnapshotTransition:
		return wire.TransitionPayload{TKind: wire.TransitionSetSnapshot, SetVersion: v.Version, SetElements: v.Elements}
	case SetDeltaTransition:
		return wire.TransitionPayload{TKind: wire.TransitionSetDelta, SetVersion: v.BaseVersion, SetAdded: v.Added, SetRemoved: v.Removed}
	case ListAddAtHeadTransition:
		return wire.TransitionPayload{TKind: wire.TransitionListAddHead, ListItem: v.Item}
	case ListAddAtTailTransition:
		return wire.TransitionPayload{TKind: wire.TransitionListAddTail, ListItem: v.Item}
	case ListRemoveByValueTransition:
		return wire.TransitionPayload{TKind: wire.TransitionListRemove, ListItem: v.Item}
	case ListSnapshotTransition:
		return wire.TransitionPayload{TKind: wire.TransitionListSnapshot, ListItems: v.Items}
	case DictMapTransition:
		return wire.TransitionPayload{TKind: wire.TransitionDictReplace, DictValues: columnsToWire(v.Values)}
	default:
		return wire.TransitionPayload{}
	}
}

// TransitionFromWire is the inverse of TransitionToWire.
func TransitionFromWire(p wire.TransitionPayload) StreamStateTransition {
	switch p.TKind {
	case wire.TransitionStringSet:
		return StringTransition{NewValue: p.StringValue}
	case wire.TransitionSetSnapshot:
		return SetSnapshotTransition{Version: p.SetVersion, Elements: p.SetElements}
	case wire.TransitionSetDelta:
		return SetDeltaTransition{BaseVersion: p.SetVersion, Added: p.SetAdded, Removed: p.SetRemoved}
	case wire.TransitionListAddHead:
		return ListAddAtHeadTransition{Item: p.ListItem}
	case wire.TransitionListAddTail:
		return ListAddAtTailTransition{Item: p.ListItem}
	case wire.TransitionListRemove:
		return ListRemoveByValueTransition{Item: p.ListItem}
	case wire.TransitionListSnapshot:
		return ListSnapshotTransition{Items: p.ListItems}
	case wire.TransitionDictReplace:
		return DictMapTransition{Values: columnsFromWire(p.DictValues)}
	default:
		return nil
	}
}

func columnsToWire(cols map[string]ColumnValue) map[string]wire.Column {
	if cols == nil {
		return nil
	}
	out := make(map[string]wire.Column, len(cols))
	for k, v := range cols {
		out[k] = wire.Column{Variant: wire.ColumnVariant(v.Kind), Str: v.Str, Int: v.Int, Bool: v.Bool}
	}
	return out
}

func columnsFromWire(cols map[string]wire.Column) map[string]ColumnValue {
	if cols == nil {
		return nil
	}
	out := make(map[string]ColumnValue, len(cols))
	for k, v := range cols {
		out[k] = ColumnValue{Kind: ColumnKind(v.Variant), Str: v.Str, Int: v.Int, Bool: v.Bool}
	}
	return out
}

// SubjectToWire converts a Subject to its wire.SubjectPayload shape.
func SubjectToWire(s Subject) wire.SubjectPayload {
	return wire.SubjectPayload{Service: string(s.Service), Topic: string(s.Topic), Tags: s.Tags()}
}

// SubjectFromWire is the inverse of SubjectToWire.
func SubjectFromWire(p wire.SubjectPayload) Subject {
	return NewSubject(ServiceKey(p.Service), TopicKey(p.Topic), p.Tags)
}
