package clusterbus

import (
	"context"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

// ServedEndpoint exposes a locally hosted stream.Endpoint to the rest
// of the cluster: it applies inbound Commands to ep and republishes
// every EndpointEvent ep emits as an Event on service's event topic.
type ServedEndpoint struct {
	service   stream.ServiceKey
	ep        *stream.Endpoint
	transport Transport
}

// NewServedEndpoint binds ep to service on transport.
func NewServedEndpoint(service stream.ServiceKey, ep *stream.Endpoint, transport Transport) *ServedEndpoint {
	return &ServedEndpoint{service: service, ep: ep, transport: transport}
}

// Run subscribes to service's command topic and pumps ep's outbound
// events to its event topic, blocking until ctx is cancelled or the
// command subscription fails. Callers also need ep.Run running
// concurrently; Run here only handles the cluster-bus side.
func (s *ServedEndpoint) Run(ctx context.Context) error {
	cmds, err := s.transport.SubscribeCommands(ctx, s.service)
	if err != nil {
		return err
	}

	go s.pumpEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			s.apply(cmd)
		}
	}
}

func (s *ServedEndpoint) apply(cmd Command) {
	switch cmd.Kind {
	case CmdOpenLocalStreamFor:
		if cmd.Subject != nil {
			s.ep.OpenLocalStreamFor(stream.SubjectFromWire(*cmd.Subject))
		}
	case CmdCloseLocalStreamFor:
		if cmd.Subject != nil {
			s.ep.CloseLocalStreamFor(stream.SubjectFromWire(*cmd.Subject))
		}
	case CmdResetLocalStreamFor:
		if cmd.Subject != nil {
			s.ep.ResetLocalStreamFor(stream.SubjectFromWire(*cmd.Subject))
		}
	case CmdOpenLocalStreamsForAll:
		subjects := make([]stream.Subject, len(cmd.Subjects))
		for i, p := range cmd.Subjects {
			subjects[i] = stream.SubjectFromWire(p)
		}
		s.ep.OpenLocalStreamsForAll(subjects)
	case CmdCloseAllLocalStreams:
		s.ep.CloseAllLocalStreams()
	case CmdGrantDemand:
		s.ep.GrantDemand(cmd.GrantDemand)
	case CmdSignal:
		if cmd.Subject != nil {
			s.ep.Signal(stream.SubjectFromWire(*cmd.Subject), cmd.SignalPayload, cmd.ExpireAtMillis, cmd.CorrelationID)
		}
	}
}

func (s *ServedEndpoint) pumpEvents(ctx context.Context) {
	for evt := range s.ep.Events {
		if err := s.transport.PublishEvent(ctx, s.service, eventFromEndpointEvent(evt)); err != nil {
			rlog.Error("clusterbus: publish event failed", "service", s.service, "err", err)
		}
	}
}
