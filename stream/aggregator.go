package stream

import (
	"context"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"flowmesh.dev/rlog"
)

// EndpointHandle is everything the aggregator needs to drive a bound
// Remote StreamEndpoint, whether it lives in-process (an *Endpoint
// directly) or on another cluster node (a clusterbus proxy implementing
// the same four calls plus demand/signal forwarding).
type EndpointHandle interface {
	OpenLocalStreamFor(subj Subject)
	CloseLocalStreamFor(subj Subject)
	ResetLocalStreamFor(subj Subject)
	OpenLocalStreamsForAll(subjects []Subject)
	CloseAllLocalStreams()
	GrantDemand(n int64)
	Signal(subj Subject, payload []byte, expireAtMillis int64, correlationID *string)
}

var _ EndpointHandle = (*Endpoint)(nil)

// AggregatorEvent is the marker interface for everything a
// StreamAggregator emits toward the downstream consumer connection.
// Delivery is Subject-keyed; Subject→Alias translation happens only at
// the outer connection boundary, never inside the aggregator.
type AggregatorEvent interface {
	aggregatorEvent()
}

type AggStreamStateUpdate struct {
	Subject Subject
	State   StreamState
}

func (AggStreamStateUpdate) aggregatorEvent() {}

type AggStreamStateTransitionUpdate struct {
	Subject    Subject
	Transition StreamStateTransition
}

func (AggStreamStateTransitionUpdate) aggregatorEvent() {}

type AggSubscriptionClosed struct{ Subject Subject }

func (AggSubscriptionClosed) aggregatorEvent() {}

type AggServiceNotAvailable struct{ Service ServiceKey }

func (AggServiceNotAvailable) aggregatorEvent() {}

type AggInvalidRequest struct{ Subject Subject }

func (AggInvalidRequest) aggregatorEvent() {}

type AggSignalAckOk struct {
	CorrelationID string
	Payload       []byte
}

func (AggSignalAckOk) aggregatorEvent() {}

type AggSignalAckFailed struct {
	CorrelationID string
	Payload       []byte
}

func (AggSignalAckFailed) aggregatorEvent() {}

// demandLedger is the aggregator's own bookkeeping of how many upstream
// tokens it believes it has granted a service's bound endpoint —
// distinct from the DemandProducerContract the Endpoint itself debits,
// since the aggregator generally cannot share that pointer with an
// endpoint running on another cluster node.
type demandLedger struct {
	granted int64
}

// Aggregator is the per-consumer StreamAggregator (spec §4.E): a
// single-threaded cooperative unit that multiplexes many subscriptions,
// tracks service bindings, enforces demand-driven backpressure, and
// round-robins dispatch across priority groups.
type Aggregator struct {
	clock  clock.Clock
	Events chan AggregatorEvent

	inbox chan aggCmd

	streamToBucket map[Subject]*Bucket
	groupsByKey    map[string]*PriorityBucketGroup
	priorityGroups []*PriorityBucketGroup
	pendingIdx     int

	serviceLocations map[ServiceKey]*EndpointRef
	endpointHandles  map[ServiceKey]EndpointHandle
	upstreamDemand   map[ServiceKey]*demandLedger

	pending []AggregatorEvent // FIFO of control messages awaiting a demand slot

	consumerDemand int64

	initialDemandWindow int64
}

// EndpointRef is re-declared locally (rather than imported from
// stream/location) so the aggregator has no dependency on any specific
// ServiceLocationBinding implementation; callers translate
// location.Changed events into these calls.
type EndpointRef struct {
	ServiceKey ServiceKey
	Address    string
}

// NewAggregator creates an empty Aggregator. initialDemandWindow is how
// many upstream tokens a freshly bound endpoint is granted at once.
func NewAggregator(clk clock.Clock, initialDemandWindow int64) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{
		clock:               clk,
		Events:              make(chan AggregatorEvent, 256),
		inbox:               make(chan aggCmd, 256),
		streamToBucket:      make(map[Subject]*Bucket),
		groupsByKey:         make(map[string]*PriorityBucketGroup),
		serviceLocations:    make(map[ServiceKey]*EndpointRef),
		endpointHandles:     make(map[ServiceKey]EndpointHandle),
		upstreamDemand:      make(map[ServiceKey]*demandLedger),
		initialDemandWindow: initialDemandWindow,
	}
}

type aggCmd struct {
	openSubscription  *openSubscriptionCmd
	closeSubscription *Subject
	resetSubscription *Subject
	consumerDemand    int64
	snapshot          *snapshotArrivalCmd
	transition        *transitionArrivalCmd
	endpointClosed    *Subject
	endpointInvalid   *Subject
	locationChanged   *locationChangedCmd
	signal            *signalCmd
	signalAck         *signalAckCmd
	tick              bool
	shutdown          bool
	done              chan struct{}
}

type openSubscriptionCmd struct {
	subject               Subject
	priorityKey           *string
	aggregationIntervalMs int64
}

type snapshotArrivalCmd struct {
	subject Subject
	state   StreamState
}

type transitionArrivalCmd struct {
	subject    Subject
	transition StreamStateTransition
}

type locationChangedCmd struct {
	service ServiceKey
	ref     *EndpointRef
	handle  EndpointHandle
}

type signalCmd struct {
	subject        Subject
	payload        []byte
	expireAtMillis int64
	correlationID  *string
}

type signalAckCmd struct {
	ok            bool
	correlationID string
	payload       []byte
}

// Run drains the aggregator's mailbox, dispatching on both inbound
// commands and the periodic tick, until ctx is cancelled. On return it
// sends CloseAllLocalStreams to every currently-bound endpoint.
func (a *Aggregator) Run(ctx context.Context, tick time.Duration) error {
	defer close(a.Events)
	ticker := a.clock.Ticker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case <-ticker.C:
			a.publishPending()
		case cmd := <-a.inbox:
			a.handle(cmd)
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

func (a *Aggregator) send(cmd aggCmd) {
	cmd.done = make(chan struct{})
	a.inbox <- cmd
	<-cmd.done
}

// AddSubscription opens (or replaces) a subscription for subj.
func (a *Aggregator) AddSubscription(subj Subject, priorityKey *string, aggregationIntervalMs int64) {
	a.send(aggCmd{openSubscription: &openSubscriptionCmd{subject: subj, priorityKey: priorityKey, aggregationIntervalMs: aggregationIntervalMs}})
}

// CloseSubscription closes the subscription for subj, if any.
func (a *Aggregator) CloseSubscription(subj Subject) {
	a.send(aggCmd{closeSubscription: &subj})
}

// ResetSubscription clears subj's cached state and asks the bound
// endpoint, if any, for a fresh snapshot.
func (a *Aggregator) ResetSubscription(subj Subject) {
	a.send(aggCmd{resetSubscription: &subj})
}

// GrantConsumerDemand adds n tokens to the downstream demand counter and
// attempts dispatch.
func (a *Aggregator) GrantConsumerDemand(n int64) {
	a.send(aggCmd{consumerDemand: n})
}

// OnSnapshotArrival is called when an endpoint forwards a genuine full
// StreamStateUpdate for subj — the first message after the subject is
// opened, or the refresh that follows a reset. Unlike
// OnTransitionArrival this is always accepted: a full snapshot is
// applicable by definition.
func (a *Aggregator) OnSnapshotArrival(subj Subject, state StreamState) {
	a.send(aggCmd{snapshot: &snapshotArrivalCmd{subject: subj, state: state}})
}

// OnTransitionArrival is called when an endpoint forwards a
// StreamStateTransitionUpdate for subj.
func (a *Aggregator) OnTransitionArrival(subj Subject, t StreamStateTransition) {
	a.send(aggCmd{transition: &transitionArrivalCmd{subject: subj, transition: t}})
}

// OnEndpointClosed records that the bound endpoint closed subj's
// stream.
func (a *Aggregator) OnEndpointClosed(subj Subject) {
	a.send(aggCmd{endpointClosed: &subj})
}

// OnEndpointInvalidRequest records that the bound endpoint rejected
// subj.
func (a *Aggregator) OnEndpointInvalidRequest(subj Subject) {
	a.send(aggCmd{endpointInvalid: &subj})
}

// OnLocationChanged updates the binding for service and rebinds every
// subscription belonging to it, per spec §4.E.
func (a *Aggregator) OnLocationChanged(service ServiceKey, ref *EndpointRef, handle EndpointHandle) {
	a.send(aggCmd{locationChanged: &locationChangedCmd{service: service, ref: ref, handle: handle}})
}

// Signal forwards subj's Signal to its bound endpoint, or immediately
// NACKs if the service has no binding.
func (a *Aggregator) Signal(subj Subject, payload []byte, expireAtMillis int64, correlationID *string) {
	a.send(aggCmd{signal: &signalCmd{subject: subj, payload: payload, expireAtMillis: expireAtMillis, correlationID: correlationID}})
}

// OnSignalAck forwards a SignalAckOk/SignalAckFailed received from an
// endpoint straight to the consumer.
func (a *Aggregator) OnSignalAck(ok bool, correlationID string, payload []byte) {
	a.send(aggCmd{signalAck: &signalAckCmd{ok: ok, correlationID: correlationID, payload: payload}})
}

func (a *Aggregator) handle(cmd aggCmd) {
	switch {
	case cmd.openSubscription != nil:
		a.addSubscription(*cmd.openSubscription)
	case cmd.closeSubscription != nil:
		a.closeSubscription(*cmd.closeSubscription)
	case cmd.resetSubscription != nil:
		a.resetSubscription(*cmd.resetSubscription)
	case cmd.consumerDemand != 0:
		a.consumerDemand += cmd.consumerDemand
		a.publishPending()
	case cmd.snapshot != nil:
		a.onSnapshotArrival(cmd.snapshot.subject, cmd.snapshot.state)
	case cmd.transition != nil:
		a.onTransitionArrival(cmd.transition.subject, cmd.transition.transition)
	case cmd.endpointClosed != nil:
		a.enqueueDeduped(AggSubscriptionClosed{Subject: *cmd.endpointClosed})
	case cmd.endpointInvalid != nil:
		a.enqueueDeduped(AggInvalidRequest{Subject: *cmd.endpointInvalid})
	case cmd.locationChanged != nil:
		a.onLocationChanged(*cmd.locationChanged)
	case cmd.signal != nil:
		a.signal(*cmd.signal)
	case cmd.signalAck != nil:
		a.onSignalAck(*cmd.signalAck)
	}
}

func (a *Aggregator) addSubscription(cmd openSubscriptionCmd) {
	if _, exists := a.streamToBucket[cmd.subject]; exists {
		a.closeSubscription(cmd.subject)
	}

	b := NewBucket(cmd.subject, cmd.priorityKey, cmd.aggregationIntervalMs)
	a.streamToBucket[cmd.subject] = b
	a.groupFor(cmd.priorityKey).Add(b)
	a.resortGroups()

	ref := a.serviceLocations[cmd.subject.Service]
	if ref != nil {
		if handle := a.endpointHandles[cmd.subject.Service]; handle != nil {
			handle.OpenLocalStreamFor(cmd.subject)
		}
	} else {
		a.enqueueDeduped(AggServiceNotAvailable{Service: cmd.subject.Service})
	}
}

func (a *Aggregator) closeSubscription(subj Subject) {
	b, ok := a.streamToBucket[subj]
	if !ok {
		return
	}
	delete(a.streamToBucket, subj)
	g := a.groupFor(b.PriorityKey)
	g.Remove(b)
	if g.Len() == 0 {
		a.removeGroup(b.PriorityKey)
	}

	if handle := a.endpointHandles[subj.Service]; handle != nil {
		handle.CloseLocalStreamFor(subj)
	}
	a.enqueueDeduped(AggSubscriptionClosed{Subject: subj})
}

func (a *Aggregator) resetSubscription(subj Subject) {
	b, ok := a.streamToBucket[subj]
	if !ok {
		return
	}
	b.Reset()
	if handle := a.endpointHandles[subj.Service]; handle != nil {
		handle.ResetLocalStreamFor(subj)
	}
}

// onSnapshotArrival grants back one upstream token (a snapshot debits an
// upstream token on the endpoint side exactly like a transition) and
// folds state into its bucket as a pending snapshot, always accepted.
func (a *Aggregator) onSnapshotArrival(subj Subject, state StreamState) {
	a.grantUpstreamToken(subj)

	b, ok := a.streamToBucket[subj]
	if !ok {
		return
	}
	b.OnNewSnapshot(a.clock.Now(), state, a.canPublish, func(s BucketSend) { a.emitBucketSend(subj, s) })
}

func (a *Aggregator) onTransitionArrival(subj Subject, t StreamStateTransition) {
	a.grantUpstreamToken(subj)

	b, ok := a.streamToBucket[subj]
	if !ok {
		return
	}
	if !b.OnNewTransition(a.clock.Now(), t, a.canPublish, func(s BucketSend) { a.emitBucketSend(subj, s) }) {
		a.resetSubscription(subj)
	}
}

func (a *Aggregator) grantUpstreamToken(subj Subject) {
	if ledger, ok := a.upstreamDemand[subj.Service]; ok {
		ledger.granted++
		if handle := a.endpointHandles[subj.Service]; handle != nil {
			handle.GrantDemand(1)
		}
	}
}

// emitBucketSend dispatches a BucketSend from a bucket's PublishPending
// as the matching AggregatorEvent kind and debits one unit of consumer
// demand, per spec §4.E's "every outbound message debits demand".
func (a *Aggregator) emitBucketSend(subj Subject, s BucketSend) {
	if s.Snapshot != nil {
		a.Events <- AggStreamStateUpdate{Subject: subj, State: s.Snapshot}
	} else {
		a.Events <- AggStreamStateTransitionUpdate{Subject: subj, Transition: s.Transition}
	}
	a.consumerDemand--
}

func (a *Aggregator) onLocationChanged(cmd locationChangedCmd) {
	if old := a.endpointHandles[cmd.service]; old != nil {
		old.CloseAllLocalStreams()
	}
	delete(a.endpointHandles, cmd.service)
	delete(a.upstreamDemand, cmd.service)
	a.serviceLocations[cmd.service] = cmd.ref

	if cmd.ref == nil {
		a.enqueueDeduped(AggServiceNotAvailable{Service: cmd.service})
		return
	}

	a.endpointHandles[cmd.service] = cmd.handle
	a.upstreamDemand[cmd.service] = &demandLedger{granted: a.initialDemandWindow}
	cmd.handle.GrantDemand(a.initialDemandWindow)
	a.removePendingServiceNotAvailable(cmd.service)

	var subjects []Subject
	for subj := range a.streamToBucket {
		if subj.Service == cmd.service {
			subjects = append(subjects, subj)
		}
	}
	if len(subjects) > 0 {
		cmd.handle.OpenLocalStreamsForAll(subjects)
	}
}

func (a *Aggregator) signal(cmd signalCmd) {
	handle := a.endpointHandles[cmd.subject.Service]
	if handle == nil {
		if cmd.correlationID != nil {
			a.Events <- AggSignalAckFailed{CorrelationID: *cmd.correlationID}
		}
		return
	}
	handle.Signal(cmd.subject, cmd.payload, cmd.expireAtMillis, cmd.correlationID)
}

func (a *Aggregator) onSignalAck(cmd signalAckCmd) {
	if cmd.ok {
		a.Events <- AggSignalAckOk{CorrelationID: cmd.correlationID, Payload: cmd.payload}
	} else {
		a.Events <- AggSignalAckFailed{CorrelationID: cmd.correlationID, Payload: cmd.payload}
	}
}

// enqueueDeduped appends evt to the control-message FIFO unless an
// equivalent ServiceNotAvailable is already pending, per spec's
// deduplication requirement; other control kinds are never deduped.
func (a *Aggregator) enqueueDeduped(evt AggregatorEvent) {
	if sna, ok := evt.(AggServiceNotAvailable); ok {
		for _, p := range a.pending {
			if existing, ok := p.(AggServiceNotAvailable); ok && existing.Service == sna.Service {
				a.publishPending()
				return
			}
		}
	}
	a.pending = append(a.pending, evt)
	a.publishPending()
}

func (a *Aggregator) removePendingServiceNotAvailable(service ServiceKey) {
	out := a.pending[:0]
	for _, p := range a.pending {
		if sna, ok := p.(AggServiceNotAvailable); ok && sna.Service == service {
			continue
		}
		out = append(out, p)
	}
	a.pending = out
}

func (a *Aggregator) canPublish() bool {
	return a.consumerDemand > 0
}

// publishPending drains pending control messages FIFO, then makes
// exactly len(priorityGroups) round-robin attempts across the priority
// groups, per spec §4.E.
func (a *Aggregator) publishPending() {
	for len(a.pending) > 0 && a.canPublish() {
		evt := a.pending[0]
		a.pending = a.pending[1:]
		a.Events <- evt
		a.consumerDemand--
	}

	now := a.clock.Now()
	n := len(a.priorityGroups)
	for i := 0; i < n; i++ {
		if !a.canPublish() {
			return
		}
		a.pendingIdx %= len(a.priorityGroups)
		g := a.priorityGroups[a.pendingIdx]
		a.pendingIdx = (a.pendingIdx + 1) % len(a.priorityGroups)
		g.PublishPending(now, a.canPublish, func(b *Bucket, s BucketSend) { a.emitBucketSend(b.Subject, s) })
	}
}

func (a *Aggregator) groupFor(priorityKey *string) *PriorityBucketGroup {
	key := groupKey(priorityKey)
	g, ok := a.groupsByKey[key]
	if !ok {
		g = NewPriorityBucketGroup(priorityKey)
		a.groupsByKey[key] = g
		a.priorityGroups = append(a.priorityGroups, g)
	}
	return g
}

func (a *Aggregator) removeGroup(priorityKey *string) {
	key := groupKey(priorityKey)
	delete(a.groupsByKey, key)
	for i, g := range a.priorityGroups {
		if groupKey(g.PriorityKey) == key {
			a.priorityGroups = append(a.priorityGroups[:i], a.priorityGroups[i+1:]...)
			break
		}
	}
}

func (a *Aggregator) resortGroups() {
	sort.SliceStable(a.priorityGroups, func(i, j int) bool {
		return a.priorityGroups[i].Less(a.priorityGroups[j])
	})
}

func groupKey(priorityKey *string) string {
	if priorityKey == nil {
		return "\x00none"
	}
	return *priorityKey
}

func (a *Aggregator) shutdown() {
	for _, handle := range a.endpointHandles {
		handle.CloseAllLocalStreams()
	}
	rlog.Debug("stream/aggregator: shut down", "subjects", len(a.streamToBucket))
}
