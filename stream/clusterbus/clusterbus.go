// Package clusterbus is the transport a Remote StreamEndpoint and a
// StreamAggregator use to reach each other when they run on different
// cluster nodes: the actor mailbox, but across a process boundary. It
// generalizes the teacher's pubsub topic/subscription pattern
// (NewTopic/NewSubscription, one concrete backend per transport) from
// user-facing topics to an internal, framework-owned bus carrying
// EndpointHandle commands one way and EndpointEvent reports the other.
package clusterbus

import (
	jsoniter "github.com/json-iterator/go"

	"flowmesh.dev/stream"
	"flowmesh.dev/stream/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Command is the serialized shape of an EndpointHandle call, sent from
// the node hosting an Aggregator to the node hosting the bound
// Endpoint.
type Command struct {
	Kind           CommandKind           `json:"kind"`
	Subject        *wire.SubjectPayload  `json:"subject,omitempty"`
	Subjects       []wire.SubjectPayload `json:"subjects,omitempty"`
	GrantDemand    int64                 `json:"grant_demand,omitempty"`
	SignalPayload  []byte                `json:"signal_payload,omitempty"`
	ExpireAtMillis int64                 `json:"expire_at_millis,omitempty"`
	CorrelationID  *string               `json:"correlation_id,omitempty"`
}

type CommandKind byte

const (
	CmdOpenLocalStreamFor CommandKind = iota + 1
	CmdCloseLocalStreamFor
	CmdResetLocalStreamFor
	CmdOpenLocalStreamsForAll
	CmdCloseAllLocalStreams
	CmdGrantDemand
	CmdSignal
)

// Event is the serialized shape of an EndpointEvent, sent back from the
// node hosting the Endpoint to the node hosting the Aggregator.
type Event struct {
	Kind          EventKind                `json:"kind"`
	Subject       wire.SubjectPayload      `json:"subject"`
	State         *wire.StatePayload       `json:"state,omitempty"`
	Transition    *wire.TransitionPayload  `json:"transition,omitempty"`
	CorrelationID string                   `json:"correlation_id,omitempty"`
	Payload       []byte                   `json:"payload,omitempty"`
}

type EventKind byte

const (
	EvtStreamStateUpdate EventKind = iota + 1
	EvtStreamStateTransitionUpdate
	EvtSubscriptionClosed
	EvtInvalidRequest
	EvtSignalAckOk
	EvtSignalAckFailed
)

// EncodeCommand/DecodeCommand and EncodeEvent/DecodeEvent centralize the
// JSON framing so backend implementations (local, nsq, gcp) only deal
// with opaque byte payloads.

func EncodeCommand(c Command) ([]byte, error) { return json.Marshal(c) }

func DecodeCommand(b []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(b, &c)
	return c, err
}

func EncodeEvent(e Event) ([]byte, error) { return json.Marshal(e) }

func DecodeEvent(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}

// openCommand, closeCommand and the helpers below build the Command a
// RemoteEndpointHandle sends for each EndpointHandle method, and
// eventFromEndpointEvent builds the Event a ServedEndpoint sends for each
// EndpointEvent it observes.

func openCommand(subj stream.Subject) Command {
	p := stream.SubjectToWire(subj)
	return Command{Kind: CmdOpenLocalStreamFor, Subject: &p}
}

func closeCommand(subj stream.Subject) Command {
	p := stream.SubjectToWire(subj)
	return Command{Kind: CmdCloseLocalStreamFor, Subject: &p}
}

func resetCommand(subj stream.Subject) Command {
	p := stream.SubjectToWire(subj)
	return Command{Kind: CmdResetLocalStreamFor, Subject: &p}
}

func openAllCommand(subjects []stream.Subject) Command {
	ps := make([]wire.SubjectPayload, len(subjects))
	for i, s := range subjects {
		ps[i] = stream.SubjectToWire(s)
	}
	return Command{Kind: CmdOpenLocalStreamsForAll, Subjects: ps}
}

func closeAllCommand() Command {
	return Command{Kind: CmdCloseAllLocalStreams}
}

func grantDemandCommand(n int64) Command {
	return Command{Kind: CmdGrantDemand, GrantDemand: n}
}

func signalCommand(subj stream.Subject, payload []byte, expireAtMillis int64, correlationID *string) Command {
	p := stream.SubjectToWire(subj)
	return Command{Kind: CmdSignal, Subject: &p, SignalPayload: payload, ExpireAtMillis: expireAtMillis, CorrelationID: correlationID}
}

func eventFromEndpointEvent(evt stream.EndpointEvent) Event {
	switch e := evt.(type) {
	case stream.StreamStateUpdateEvent:
		p := stream.StateToWire(e.State)
		return Event{Kind: EvtStreamStateUpdate, Subject: stream.SubjectToWire(e.Subject), State: &p}
	case stream.StreamStateTransitionUpdateEvent:
		p := stream.TransitionToWire(e.Transition)
		return Event{Kind: EvtStreamStateTransitionUpdate, Subject: stream.SubjectToWire(e.Subject), Transition: &p}
	case stream.SubscriptionClosedEvent:
		return Event{Kind: EvtSubscriptionClosed, Subject: stream.SubjectToWire(e.Subject)}
	case stream.InvalidRequestEvent:
		return Event{Kind: EvtInvalidRequest, Subject: stream.SubjectToWire(e.Subject)}
	case stream.SignalAckOkEvent:
		return Event{Kind: EvtSignalAckOk, CorrelationID: e.CorrelationID, Payload: e.Payload}
	case stream.SignalAckFailedEvent:
		return Event{Kind: EvtSignalAckFailed, CorrelationID: e.CorrelationID, Payload: e.Payload}
	default:
		return Event{}
	}
}
