package clusterbus

import (
	"context"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

// RemoteEndpointHandle implements stream.EndpointHandle by publishing
// Commands over a Transport instead of sending to a local Endpoint's
// mailbox. It is what Aggregator.OnLocationChanged registers whenever
// the resolved EndpointRef names a different cluster node.
type RemoteEndpointHandle struct {
	ctx       context.Context
	transport Transport
	service   stream.ServiceKey
}

// NewRemoteEndpointHandle returns an EndpointHandle that forwards every
// call to service's command topic on transport. ctx bounds the
// lifetime of the publishes it issues; callers should cancel it once
// the binding is torn down (e.g. from Aggregator.OnLocationChanged
// replacing it).
func NewRemoteEndpointHandle(ctx context.Context, transport Transport, service stream.ServiceKey) *RemoteEndpointHandle {
	return &RemoteEndpointHandle{ctx: ctx, transport: transport, service: service}
}

var _ stream.EndpointHandle = (*RemoteEndpointHandle)(nil)

func (h *RemoteEndpointHandle) publish(cmd Command) {
	if err := h.transport.PublishCommand(h.ctx, h.service, cmd); err != nil {
		rlog.Error("clusterbus: publish command failed", "service", h.service, "kind", cmd.Kind, "err", err)
	}
}

func (h *RemoteEndpointHandle) OpenLocalStreamFor(subj stream.Subject) { h.publish(openCommand(subj)) }
func (h *RemoteEndpointHandle) CloseLocalStreamFor(subj stream.Subject) {
	h.publish(closeCommand(subj))
}
func (h *RemoteEndpointHandle) ResetLocalStreamFor(subj stream.Subject) {
	h.publish(resetCommand(subj))
}
func (h *RemoteEndpointHandle) OpenLocalStreamsForAll(subjects []stream.Subject) {
	h.publish(openAllCommand(subjects))
}
func (h *RemoteEndpointHandle) CloseAllLocalStreams() { h.publish(closeAllCommand()) }
func (h *RemoteEndpointHandle) GrantDemand(n int64)   { h.publish(grantDemandCommand(n)) }
func (h *RemoteEndpointHandle) Signal(subj stream.Subject, payload []byte, expireAtMillis int64, correlationID *string) {
	h.publish(signalCommand(subj, payload, expireAtMillis, correlationID))
}

// DispatchEvents subscribes to service's event topic on transport and
// feeds every Event it receives into agg, translating it the same way
// stream.PumpEndpointEvents does for a co-located Endpoint. It blocks
// until ctx is cancelled or the subscription fails.
func DispatchEvents(ctx context.Context, transport Transport, service stream.ServiceKey, agg *stream.Aggregator) error {
	events, err := transport.SubscribeEvents(ctx, service)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			dispatchEvent(evt, agg)
		}
	}
}

func dispatchEvent(evt Event, agg *stream.Aggregator) {
	subj := stream.SubjectFromWire(evt.Subject)
	switch evt.Kind {
	case EvtStreamStateUpdate:
		if evt.State == nil {
			return
		}
		agg.OnSnapshotArrival(subj, stream.StateFromWire(*evt.State))
	case EvtStreamStateTransitionUpdate:
		if evt.Transition == nil {
			return
		}
		agg.OnTransitionArrival(subj, stream.TransitionFromWire(*evt.Transition))
	case EvtSubscriptionClosed:
		agg.OnEndpointClosed(subj)
	case EvtInvalidRequest:
		agg.OnEndpointInvalidRequest(subj)
	case EvtSignalAckOk:
		agg.OnSignalAck(true, evt.CorrelationID, evt.Payload)
	case EvtSignalAckFailed:
		agg.OnSignalAck(false, evt.CorrelationID, evt.Payload)
	}
}
