package stream

import "time"

// BucketSend is what a Bucket/PriorityBucketGroup hands to PublishPending's
// send callback: exactly one of Snapshot or Transition is set. Snapshot is
// set for the first emission after a subject is opened or reset (spec
// §4.B/§5 — a genuine full StreamStateUpdate), Transition for every
// ordinary delta thereafter.
type BucketSend struct {
	Snapshot   StreamState
	Transition StreamStateTransition
}

// Bucket is the per-subscription coalescing buffer and pending-transition
// holder the aggregator keeps one of per Subject. A new transition
// overwrites any prior unsent one — only the most recently received
// applicable transition is ever retained, so the consumer always sees
// the latest value once demand and the aggregation window allow.
type Bucket struct {
	Subject               Subject
	PriorityKey           *string
	AggregationIntervalMs int64

	// resolved is the reconstructed StreamState as of the last emission,
	// kept so a freshly-arrived transition can be checked for
	// applicability before it is accepted as the new pending one.
	resolved StreamState
	pending  StreamStateTransition

	// pendingSnapshot holds a full state that has not yet reached the
	// consumer (the first attach, or a post-reset refresh). While it is
	// set it takes priority over pending: the consumer has not seen a
	// base snapshot yet, so any transition that arrives in the meantime
	// is folded into pendingSnapshot rather than queued as a delta.
	pendingSnapshot StreamState

	lastPublishedAtMillis int64
	published             bool
}

// NewBucket allocates a Bucket for subject, keyed by the given priority
// (nil means the default, lowest-priority, un-keyed group) and
// aggregation interval.
func NewBucket(subject Subject, priorityKey *string, aggregationIntervalMs int64) *Bucket {
	return &Bucket{
		Subject:               subject,
		PriorityKey:           priorityKey,
		AggregationIntervalMs: aggregationIntervalMs,
	}
}

// HasPending reports whether the bucket currently holds an unsent
// snapshot or transition.
func (b *Bucket) HasPending() bool {
	return b.pending != nil || b.pendingSnapshot != nil
}

// effectiveState is the state a just-arrived transition must be checked
// against: the last emitted state with any still-pending snapshot or
// transition folded in, since a pending update is logically already
// "current" even though it has not reached the consumer yet.
func (b *Bucket) effectiveState() StreamState {
	if b.pendingSnapshot != nil {
		return b.pendingSnapshot
	}
	if b.pending == nil {
		return b.resolved
	}
	if next, ok := b.pending.Apply(b.resolved); ok {
		return next
	}
	return b.resolved
}

// OnNewSnapshot installs state as the bucket's pending snapshot —
// overwriting any pending transition, since a full state supersedes a
// partial delta — then opportunistically attempts PublishPending. Used
// for the first update after a subject is opened and for the refresh
// that follows a reset; a snapshot is always applicable.
func (b *Bucket) OnNewSnapshot(now time.Time, state StreamState, canUpdate func() bool, send func(BucketSend)) {
	b.pendingSnapshot = state
	b.pending = nil
	b.PublishPending(now, canUpdate, send)
}

// OnNewTransition coalesces t into the bucket — only the latest pending
// update is ever retained — then opportunistically attempts
// PublishPending. If a snapshot the consumer has not yet received is
// still pending, t is folded into it instead of queued as a separate
// delta, since the consumer cannot apply a delta against a base it
// hasn't seen. It reports false without accepting t if t is not
// applicable to the bucket's effective state; the caller is responsible
// for requesting a producer-side reset.
func (b *Bucket) OnNewTransition(now time.Time, t StreamStateTransition, canUpdate func() bool, send func(BucketSend)) bool {
	if !t.ApplicableTo(b.effectiveState()) {
		return false
	}
	if b.pendingSnapshot != nil {
		if next, ok := t.Apply(b.pendingSnapshot); ok {
			b.pendingSnapshot = next
		}
	} else {
		b.pending = t
	}
	b.PublishPending(now, canUpdate, send)
	return true
}

// PublishPending emits the pending snapshot or transition via send when
// canUpdate reports room for another downstream message and the
// aggregation window has elapsed, then folds it into the resolved state
// and clears the pending slot. A pending snapshot always takes priority
// over a pending transition.
func (b *Bucket) PublishPending(now time.Time, canUpdate func() bool, send func(BucketSend)) bool {
	if !b.HasPending() || !canUpdate() || !b.aggregationCriteriaMet(now) {
		return false
	}

	if b.pendingSnapshot != nil {
		state := b.pendingSnapshot
		send(BucketSend{Snapshot: state})
		b.resolved = state
		b.pendingSnapshot = nil
		b.lastPublishedAtMillis = now.UnixMilli()
		b.published = true
		return true
	}

	t := b.pending
	next, ok := t.Apply(b.resolved)
	if !ok {
		// The effective state moved out from under us between
		// coalescing and dispatch (e.g. a Reset landed); drop it.
		b.pending = nil
		return false
	}
	send(BucketSend{Transition: t})
	b.resolved = next
	b.pending = nil
	b.lastPublishedAtMillis = now.UnixMilli()
	b.published = true
	return true
}

// Reset clears the bucket's resolved state and any pending snapshot or
// transition, used when a ResetSubscription is honoured and a fresh
// Snapshot is expected next.
func (b *Bucket) Reset() {
	b.resolved = nil
	b.pending = nil
	b.pendingSnapshot = nil
}

func (b *Bucket) aggregationCriteriaMet(now time.Time) bool {
	if b.AggregationIntervalMs < 1 || !b.published {
		return true
	}
	return now.UnixMilli()-b.lastPublishedAtMillis > b.AggregationIntervalMs
}
