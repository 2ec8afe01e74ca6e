package stream

import "time"

// PriorityBucketGroup owns an ordered sequence of buckets that share a
// priority key and round-robins dispatch attempts across them. The
// round-robin cursor survives across calls to PublishPending — fairness
// is across calls, not within a single one.
type PriorityBucketGroup struct {
	PriorityKey *string
	buckets     []*Bucket
	rrIndex     int
}

// NewPriorityBucketGroup creates an empty group for the given priority
// key (nil is the default, lowest-priority, un-keyed group).
func NewPriorityBucketGroup(priorityKey *string) *PriorityBucketGroup {
	return &PriorityBucketGroup{PriorityKey: priorityKey}
}

// Len reports how many buckets the group currently holds.
func (g *PriorityBucketGroup) Len() int { return len(g.buckets) }

// Add appends b to the group.
func (g *PriorityBucketGroup) Add(b *Bucket) {
	g.buckets = append(g.buckets, b)
}

// Remove deletes b from the group, reporting whether it was present. It
// does not touch rrIndex beyond what's necessary to keep it in range.
func (g *PriorityBucketGroup) Remove(b *Bucket) bool {
	for i, cur := range g.buckets {
		if cur == b {
			g.buckets = append(g.buckets[:i], g.buckets[i+1:]...)
			if len(g.buckets) > 0 {
				g.rrIndex %= len(g.buckets)
			} else {
				g.rrIndex = 0
			}
			return true
		}
	}
	return false
}

// PublishPending performs at most len(buckets) attempts: at each step,
// if canUpdate() is false it stops; otherwise it wraps rrIndex, invokes
// that bucket's PublishPending, and advances the cursor. It returns as
// soon as one bucket has emitted, so a call sends at most one message
// and the next call resumes with the following bucket.
func (g *PriorityBucketGroup) PublishPending(now time.Time, canUpdate func() bool, send func(*Bucket, BucketSend)) {
	n := len(g.buckets)
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		if !canUpdate() {
			return
		}
		g.rrIndex %= n
		b := g.buckets[g.rrIndex]
		g.rrIndex = (g.rrIndex + 1) % n
		if b.PublishPending(now, canUpdate, func(s BucketSend) { send(b, s) }) {
			return
		}
	}
}

// Less implements the priority ordering §3/§9 requires: Some(x) < Some(y)
// iff x is lexicographically less than y, and None sorts after every
// Some (the un-keyed default group has the lowest priority).
func (g *PriorityBucketGroup) Less(other *PriorityBucketGroup) bool {
	switch {
	case g.PriorityKey == nil && other.PriorityKey == nil:
		return false
	case g.PriorityKey == nil:
		return false
	case other.PriorityKey == nil:
		return true
	default:
		return *g.PriorityKey < *other.PriorityKey
	}
}
