// Package session is the outermost glue layer: it owns one WebSocket
// connection's lifetime, translates the binary wire dialect to and from
// the Aggregator's domain vocabulary, keeps the per-connection
// Subject↔Alias registry the dialect relies on to avoid repeating
// (service, topic, tags) on every frame, and runs the Ping/Pong
// liveness loop. It sits above stream, stream/location, and
// transport/ws without any of those packages depending back on it,
// the same layering the teacher uses between appruntime (domain) and
// its outer HTTP/pubsub transports.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"flowmesh.dev/beta/errs"
	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
	"flowmesh.dev/stream/location"
	"flowmesh.dev/stream/wire"
	"flowmesh.dev/transport/ws"
)

var errPongTimeout = errors.New("session: no pong received within the timeout window")

// errSessionEnded is returned by the writeLoop/pingLoop/location-watch
// goroutines in Run's errgroup to signal a clean end without making
// errgroup treat it as a failure worth returning to the caller; only
// readLoop's own error (or a genuine Canceled from the group) is.
var errSessionEnded = errors.New("session: ended")

// Config mirrors the relevant slice of config.Runtime a Session needs,
// kept narrow so this package doesn't have to import config directly.
type Config struct {
	InitialDemandWindow    int64
	InitialDemandBurstRate float64
	PingInterval           time.Duration
	PongTimeout            time.Duration
}

// Session drives a single consumer connection: one Aggregator, one
// Conn, one alias registry, for as long as the socket stays open.
type Session struct {
	id     xid.ID
	conn   *ws.Conn
	agg    *stream.Aggregator
	cfg    Config
	locBnd location.Binding

	mu            sync.Mutex
	aliasToSubj   map[stream.Alias]stream.Subject
	subjToAlias   map[stream.Subject]stream.Alias

	pendingPingID uint64
	pingSentAt    time.Time

	dialer dialerFunc
}

// New creates a Session over an accepted connection. locBnd resolves
// and watches service bindings for every subject this session opens;
// the caller is expected to have already started agg.Run in its own
// goroutine.
func New(conn *ws.Conn, agg *stream.Aggregator, locBnd location.Binding, cfg Config) *Session {
	return &Session{
		id:          xid.New(),
		conn:        conn,
		agg:         agg,
		cfg:         cfg,
		locBnd:      locBnd,
		aliasToSubj: make(map[stream.Alias]stream.Subject),
		subjToAlias: make(map[stream.Subject]stream.Alias),
	}
}

// Run drives the session until the connection closes or ctx is
// cancelled: reading inbound frames, watching location changes, and
// running the liveness ping loop, all concurrently, returning once any
// one of them ends.
func (s *Session) Run(ctx context.Context) error {
	changes, err := s.locBnd.Watch(ctx)
	if err != nil {
		return errs.WrapCode(err, errs.Unavailable, "watch service bindings")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { s.writeLoop(gctx); return errSessionEnded })
	g.Go(func() error { s.pingLoop(gctx); return errSessionEnded })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return errSessionEnded
			case chg, ok := <-changes:
				if !ok {
					return errSessionEnded
				}
				s.onLocationChanged(chg)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionEnded) {
		return err
	}
	return nil
}

func (s *Session) onLocationChanged(chg location.Changed) {
	var ref *stream.EndpointRef
	var handle stream.EndpointHandle
	if chg.Ref != nil {
		ref = &stream.EndpointRef{ServiceKey: chg.Ref.ServiceKey, Address: chg.Ref.Address}
		handle = s.endpointHandleFor(*chg.Ref)
	}
	s.agg.OnLocationChanged(chg.Service, ref, handle)
}

// defaultDialer is what endpointHandleFor falls back to when no dialer
// was installed via WithDialer; it returns a nil EndpointHandle.
var defaultDialer = func(ref location.EndpointRef) stream.EndpointHandle { return nil }

func (s *Session) endpointHandleFor(ref location.EndpointRef) stream.EndpointHandle {
	if s.dialer != nil {
		return s.dialer(ref)
	}
	return defaultDialer(ref)
}

// dialer, when set via WithDialer, turns a resolved location.EndpointRef
// into a live EndpointHandle (typically a clusterbus.RemoteEndpointHandle
// or a direct *stream.Endpoint for a co-located service).
type dialerFunc = func(location.EndpointRef) stream.EndpointHandle

// WithDialer installs the function Session uses to turn a freshly
// resolved EndpointRef into an EndpointHandle.
func (s *Session) WithDialer(d func(location.EndpointRef) stream.EndpointHandle) *Session {
	s.dialer = d
	return s
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := s.conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, ws.ErrTextFrame) {
				s.conn.CloseProtocolError(ctx, err)
				return errs.WrapCode(err, errs.InvalidArgument, "read wire message")
			}
			return err
		}
		s.handleInbound(ctx, msg)
	}
}

func (s *Session) handleInbound(ctx context.Context, msg wire.Message) {
	switch m := msg.(type) {
	case wire.AliasMsg:
		s.registerAlias(stream.Alias(m.Alias), stream.SubjectFromWire(m.Subject))
	case wire.OpenSubscriptionMsg:
		subj, ok := s.subjectForAlias(stream.Alias(m.Alias))
		if !ok {
			return
		}
		s.agg.AddSubscription(subj, m.PriorityKey, m.AggregationIntervalMs)
	case wire.CloseSubscriptionMsg:
		if subj, ok := s.subjectForAlias(stream.Alias(m.Alias)); ok {
			s.agg.CloseSubscription(subj)
		}
	case wire.ResetSubscriptionMsg:
		if subj, ok := s.subjectForAlias(stream.Alias(m.Alias)); ok {
			s.agg.ResetSubscription(subj)
		}
	case wire.SignalMsg:
		s.agg.Signal(stream.SubjectFromWire(m.Subject), m.Payload, m.ExpireAtMillis, m.CorrelationID)
	case wire.PingMsg:
		_ = s.conn.WriteMessage(ctx, wire.PongMsg{ID: m.ID})
	case wire.PongMsg:
		s.mu.Lock()
		if m.ID == s.pendingPingID {
			s.pendingPingID = 0
		}
		s.mu.Unlock()
	}
}

func (s *Session) registerAlias(alias stream.Alias, subj stream.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliasToSubj[alias] = subj
	s.subjToAlias[subj] = alias
}

func (s *Session) subjectForAlias(alias stream.Alias) (stream.Subject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj, ok := s.aliasToSubj[alias]
	return subj, ok
}

func (s *Session) aliasForSubject(subj stream.Subject) (stream.Alias, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alias, ok := s.subjToAlias[subj]
	return alias, ok
}

// writeLoop drains the Aggregator's event channel, converts each
// AggregatorEvent to its wire shape, and writes it out. Every event
// written that corresponds to a consumed consumerDemand token is
// matched by an equal GrantConsumerDemand, so the consumer's flow
// control is governed entirely by how fast it drains the socket rather
// than an application-level quota — the socket write itself is the
// backpressure signal.
func (s *Session) writeLoop(ctx context.Context) {
	s.agg.GrantConsumerDemand(s.cfg.InitialDemandWindow)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.agg.Events:
			if !ok {
				return
			}
			s.writeEvent(ctx, evt)
		}
	}
}

func (s *Session) writeEvent(ctx context.Context, evt stream.AggregatorEvent) {
	switch e := evt.(type) {
	case stream.AggStreamStateUpdate:
		alias, ok := s.aliasForSubject(e.Subject)
		if !ok {
			return
		}
		p := stream.StateToWire(e.State)
		s.send(ctx, wire.StreamStateUpdateMsg{Alias: wire.Alias(alias), State: p})
		s.agg.GrantConsumerDemand(1)
	case stream.AggStreamStateTransitionUpdate:
		alias, ok := s.aliasForSubject(e.Subject)
		if !ok {
			return
		}
		p := stream.TransitionToWire(e.Transition)
		s.send(ctx, wire.StreamStateTransitionUpdateMsg{Alias: wire.Alias(alias), Transition: p})
		s.agg.GrantConsumerDemand(1)
	case stream.AggSubscriptionClosed:
		if alias, ok := s.aliasForSubject(e.Subject); ok {
			s.send(ctx, wire.SubscriptionClosedMsg{Alias: wire.Alias(alias)})
		}
		s.agg.GrantConsumerDemand(1)
	case stream.AggServiceNotAvailable:
		s.send(ctx, wire.ServiceNotAvailableMsg{ServiceKey: string(e.Service)})
		s.agg.GrantConsumerDemand(1)
	case stream.AggInvalidRequest:
		if alias, ok := s.aliasForSubject(e.Subject); ok {
			s.send(ctx, wire.InvalidRequestMsg{Alias: wire.Alias(alias)})
		}
		s.agg.GrantConsumerDemand(1)
	case stream.AggSignalAckOk:
		s.send(ctx, wire.SignalAckOkMsg{CorrelationID: e.CorrelationID, Payload: e.Payload})
	case stream.AggSignalAckFailed:
		s.send(ctx, wire.SignalAckFailedMsg{CorrelationID: e.CorrelationID, Payload: e.Payload})
	}
}

func (s *Session) send(ctx context.Context, msg wire.Message) {
	if err := s.conn.WriteMessage(ctx, msg); err != nil {
		rlog.Error("session: write failed", "conn_id", s.id.String(), "err", err)
	}
}

// pingLoop sends a Ping every cfg.PingInterval and closes the
// connection if no matching Pong arrives within cfg.PongTimeout.
func (s *Session) pingLoop(ctx context.Context) {
	clk := clock.New()
	ticker := clk.Ticker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id := clk.Now().UnixNano()
			s.mu.Lock()
			s.pendingPingID = uint64(id)
			s.pingSentAt = clk.Now()
			s.mu.Unlock()

			if err := s.conn.WriteMessage(ctx, wire.PingMsg{ID: uint64(id)}); err != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-clk.After(s.cfg.PongTimeout):
				s.mu.Lock()
				stale := s.pendingPingID == uint64(id)
				s.mu.Unlock()
				if stale {
					s.conn.CloseProtocolError(ctx, errPongTimeout)
					return
				}
			}
		}
	}
}
