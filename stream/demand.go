package stream

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DemandProducerContract tracks outstanding upstream demand tokens owed
// to one endpoint binding. It runs in "non-acknowledged" mode: there is
// no per-message ack, the endpoint may send up to the outstanding token
// count and the aggregator periodically tops the window back up.
//
// Token bookkeeping uses sync/atomic counters, mirroring the in-flight
// accounting pubsub's internal worker pool keeps for fetched-but-not-yet-
// processed work items.
type DemandProducerContract struct {
	outstanding int64
	limiter     *rate.Limiter
}

// NewDemandProducerContract creates a contract with no outstanding
// tokens. burstRate caps how many Grant calls per second are honoured,
// smoothing a thundering herd of initial grants right after a
// ServiceLocationChanged fan-out; a non-positive rate disables limiting.
func NewDemandProducerContract(burstRate float64) *DemandProducerContract {
	d := &DemandProducerContract{}
	if burstRate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(burstRate), int(burstRate)+1)
	}
	return d
}

// Grant adds n tokens to the outstanding window. It reports whether the
// grant was issued; a false return (only possible when constructed with
// a positive burst rate) means the caller should retry once the limiter
// permits it.
func (d *DemandProducerContract) Grant(n int64) bool {
	if d.limiter != nil && !d.limiter.Allow() {
		return false
	}
	atomic.AddInt64(&d.outstanding, n)
	return true
}

// Debit consumes one outstanding token for a received
// StreamStateTransitionUpdate, reporting whether a token was available.
func (d *DemandProducerContract) Debit() bool {
	for {
		cur := atomic.LoadInt64(&d.outstanding)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&d.outstanding, cur, cur-1) {
			return true
		}
	}
}

// Outstanding reports the current token window size.
func (d *DemandProducerContract) Outstanding() int64 {
	return atomic.LoadInt64(&d.outstanding)
}
