package stream

import (
	"context"
	"time"

	"flowmesh.dev/beta/errs"
	"flowmesh.dev/rlog"
)

// Producer is the in-process collaborator a Remote StreamEndpoint asks
// for a service's current state and future transitions. A concrete
// service implementation supplies one per ServiceKey it hosts.
type Producer interface {
	// Snapshot returns the full current StreamState for subj, sent as
	// the first message after a subject is opened (or re-opened after
	// a reset).
	Snapshot(ctx context.Context, subj Subject) (StreamState, error)

	// Subscribe registers onTransition to be invoked with each delta
	// produced for subj until the returned cancel func runs.
	Subscribe(subj Subject, onTransition func(StreamStateTransition)) (cancel func(), err error)
}

// EndpointEvent is the marker interface for everything a Remote
// StreamEndpoint reports back toward the owning aggregator.
type EndpointEvent interface {
	endpointEvent()
}

type StreamStateUpdateEvent struct {
	Subject Subject
	State   StreamState
}

func (StreamStateUpdateEvent) endpointEvent() {}

type StreamStateTransitionUpdateEvent struct {
	Subject    Subject
	Transition StreamStateTransition
}

func (StreamStateTransitionUpdateEvent) endpointEvent() {}

type SubscriptionClosedEvent struct{ Subject Subject }

func (SubscriptionClosedEvent) endpointEvent() {}

type InvalidRequestEvent struct{ Subject Subject }

func (InvalidRequestEvent) endpointEvent() {}

type SignalAckOkEvent struct {
	CorrelationID string
	Payload       []byte
}

func (SignalAckOkEvent) endpointEvent() {}

type SignalAckFailedEvent struct {
	CorrelationID string
	Payload       []byte
}

func (SignalAckFailedEvent) endpointEvent() {}

// endpointCmd is the mailbox's internal message shape; Endpoint is a
// single-threaded cooperative unit (spec §5) processing exactly one of
// these at a time off its inbox channel.
type endpointCmd struct {
	openSubject       *Subject
	openAll           []Subject
	closeSubject      *Subject
	resetSubject      *Subject
	closeAll          bool
	grantDemand       int64
	signal            *pendingSignal
	transitionArrived *transitionArrivedCmd
	done              chan struct{}
}

type pendingSignal struct {
	subject        Subject
	payload        []byte
	expireAtMillis int64
	correlationID  *string
}

// transitionArrivedCmd carries a transition pushed by the hosted
// Producer's onTransition callback back onto the endpoint's own mailbox,
// so the buffer map is only ever touched by the single actor goroutine
// even though the producer may invoke the callback from any goroutine
// it likes.
type transitionArrivedCmd struct {
	subject    Subject
	transition StreamStateTransition
}

// bufferedUpdate is one demand-gated entry waiting in Endpoint.buffer.
// Exactly one of snapshot or transition is set, preserving whether the
// update must reach the aggregator as a full StreamStateUpdateEvent (the
// first attach, or a post-reset refresh) or an ordinary
// StreamStateTransitionUpdateEvent — flush must not demote a buffered
// snapshot into a transition.
type bufferedUpdate struct {
	snapshot   StreamState
	transition StreamStateTransition
}

// Endpoint is the producer-side per-service hub: the Remote
// StreamEndpoint of spec §4.G. It owns one Producer subscription per
// currently-open Subject and forwards updates to Events, debiting one
// upstream demand token per StreamStateTransitionUpdate it emits. It
// never sends more than the outstanding demand window allows.
type Endpoint struct {
	producer Producer
	demand   *DemandProducerContract
	Events   chan EndpointEvent

	inbox  chan endpointCmd
	subs   map[Subject]func()
	buffer map[Subject][]bufferedUpdate
}

// NewEndpoint creates an Endpoint forwarding events from producer,
// gated by demand.
func NewEndpoint(producer Producer, demand *DemandProducerContract) *Endpoint {
	return &Endpoint{
		producer: producer,
		demand:   demand,
		Events:   make(chan EndpointEvent, 64),
		inbox:    make(chan endpointCmd, 64),
		subs:     make(map[Subject]func()),
		buffer:   make(map[Subject][]bufferedUpdate),
	}
}

// Run drains the endpoint's mailbox until ctx is cancelled, at which
// point it behaves as though CloseAllLocalStreams had been received.
func (e *Endpoint) Run(ctx context.Context) error {
	defer close(e.Events)
	for {
		select {
		case <-ctx.Done():
			e.closeAll()
			return nil
		case cmd := <-e.inbox:
			e.handle(ctx, cmd)
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

func (e *Endpoint) send(cmd endpointCmd) {
	cmd.done = make(chan struct{})
	e.inbox <- cmd
	<-cmd.done
}

// OpenLocalStreamFor subscribes to subj on the hosted producer and
// begins forwarding its updates.
func (e *Endpoint) OpenLocalStreamFor(subj Subject) {
	e.send(endpointCmd{openSubject: &subj})
}

// CloseLocalStreamFor unsubscribes from subj.
func (e *Endpoint) CloseLocalStreamFor(subj Subject) {
	e.send(endpointCmd{closeSubject: &subj})
}

// ResetLocalStreamFor re-subscribes to subj and forwards a fresh
// snapshot, without emitting SubscriptionClosedEvent — unlike
// CloseLocalStreamFor, this is an internal refresh the consumer should
// never observe as a close.
func (e *Endpoint) ResetLocalStreamFor(subj Subject) {
	e.send(endpointCmd{resetSubject: &subj})
}

// OpenLocalStreamsForAll subscribes to every subject in subjects.
func (e *Endpoint) OpenLocalStreamsForAll(subjects []Subject) {
	e.send(endpointCmd{openAll: subjects})
}

// CloseAllLocalStreams unsubscribes from every currently-open subject.
func (e *Endpoint) CloseAllLocalStreams() {
	e.send(endpointCmd{closeAll: true})
}

// GrantDemand adds n tokens to the endpoint's outstanding upstream
// demand window and flushes any buffered transitions it now covers.
func (e *Endpoint) GrantDemand(n int64) {
	e.send(endpointCmd{grantDemand: n})
}

// Signal forwards a fire-and-forget Signal to the hosted producer,
// dropping and NACKing it if it has already expired.
func (e *Endpoint) Signal(subj Subject, payload []byte, expireAtMillis int64, correlationID *string) {
	e.send(endpointCmd{signal: &pendingSignal{subject: subj, payload: payload, expireAtMillis: expireAtMillis, correlationID: correlationID}})
}

func (e *Endpoint) handle(ctx context.Context, cmd endpointCmd) {
	switch {
	case cmd.openSubject != nil:
		e.open(ctx, *cmd.openSubject)
	case len(cmd.openAll) > 0:
		for _, subj := range cmd.openAll {
			e.open(ctx, subj)
		}
	case cmd.closeSubject != nil:
		e.close(*cmd.closeSubject)
	case cmd.resetSubject != nil:
		e.open(ctx, *cmd.resetSubject)
	case cmd.closeAll:
		e.closeAll()
	case cmd.grantDemand != 0:
		e.demand.Grant(cmd.grantDemand)
		e.flush()
	case cmd.signal != nil:
		e.handleSignal(ctx, *cmd.signal)
	case cmd.transitionArrived != nil:
		t := cmd.transitionArrived
		e.buffer[t.subject] = append(e.buffer[t.subject], bufferedUpdate{transition: t.transition})
		e.flush()
	}
}

func (e *Endpoint) open(ctx context.Context, subj Subject) {
	if cancel, ok := e.subs[subj]; ok {
		cancel()
	}

	cancel, err := e.producer.Subscribe(subj, func(t StreamStateTransition) {
		// The producer may invoke this callback from any goroutine; it
		// must not touch e.buffer directly, so it hands the transition
		// back to the endpoint's own mailbox instead.
		e.inbox <- endpointCmd{transitionArrived: &transitionArrivedCmd{subject: subj, transition: t}}
	})
	if err != nil {
		subErr := errs.WrapCode(err, errs.InvalidArgument, "subscribe", "subject", subj.String())
		rlog.Error("stream/endpoint: subscribe rejected", "subject", subj.String(), "err", subErr)
		e.Events <- InvalidRequestEvent{Subject: subj}
		return
	}
	e.subs[subj] = cancel

	snap, err := e.producer.Snapshot(ctx, subj)
	if err != nil {
		snapErr := errs.WrapCode(err, errs.Internal, "snapshot", "subject", subj.String())
		rlog.Error("stream/endpoint: snapshot failed", "subject", subj.String(), "err", snapErr)
		e.Events <- InvalidRequestEvent{Subject: subj}
		return
	}
	if e.demand.Debit() {
		e.Events <- StreamStateUpdateEvent{Subject: subj, State: snap}
	} else {
		e.buffer[subj] = append([]bufferedUpdate{{snapshot: snap}}, e.buffer[subj]...)
	}
	e.flush()
}

func (e *Endpoint) close(subj Subject) {
	if cancel, ok := e.subs[subj]; ok {
		cancel()
		delete(e.subs, subj)
	}
	delete(e.buffer, subj)
	e.Events <- SubscriptionClosedEvent{Subject: subj}
}

func (e *Endpoint) closeAll() {
	for subj, cancel := range e.subs {
		cancel()
		e.Events <- SubscriptionClosedEvent{Subject: subj}
	}
	e.subs = make(map[Subject]func())
	e.buffer = make(map[Subject][]bufferedUpdate)
}

func (e *Endpoint) flush() {
	for subj, pending := range e.buffer {
		var i int
		for i = 0; i < len(pending); i++ {
			if !e.demand.Debit() {
				break
			}
			item := pending[i]
			if item.snapshot != nil {
				e.Events <- StreamStateUpdateEvent{Subject: subj, State: item.snapshot}
			} else {
				e.Events <- StreamStateTransitionUpdateEvent{Subject: subj, Transition: item.transition}
			}
		}
		if i == len(pending) {
			delete(e.buffer, subj)
		} else {
			e.buffer[subj] = pending[i:]
		}
	}
}

func (e *Endpoint) handleSignal(ctx context.Context, sig pendingSignal) {
	if sig.expireAtMillis > 0 && time.Now().UnixMilli() > sig.expireAtMillis {
		expiredErr := errs.B().Code(errs.DeadlineExceeded).
			Msg("signal expired before delivery").
			Meta("subject", sig.subject.String(), "expire_at_ms", sig.expireAtMillis).
			Err()
		if sig.correlationID != nil {
			rlog.Warn("stream/endpoint: dropping expired signal", "subject", sig.subject.String(), "correlation_id", *sig.correlationID, "err", expiredErr)
			e.Events <- SignalAckFailedEvent{CorrelationID: *sig.correlationID}
		} else {
			rlog.Warn("stream/endpoint: dropping expired signal", "subject", sig.subject.String(), "err", expiredErr)
		}
		return
	}
	// Forwarding the signal payload to the hosted service is a concern
	// of the concrete Producer; the dispatch core's job ends at demand
	// accounting and expiry enforcement.
	if sig.correlationID != nil {
		e.Events <- SignalAckOkEvent{CorrelationID: *sig.correlationID}
	}
}
