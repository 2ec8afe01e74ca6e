package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// envelope is the generic shape every record's CBOR body is unmarshaled
// into for dispatch; specific fields are picked out once Kind is known.
type envelope struct {
	Alias          Alias             `cbor:"alias,omitempty"`
	Subject        SubjectPayload    `cbor:"subject,omitempty"`
	PriorityKey    *string           `cbor:"prio,omitempty"`
	AggrIntervalMs int64             `cbor:"aggr_ms,omitempty"`
	Payload        []byte            `cbor:"payload,omitempty"`
	ExpireAtMillis int64             `cbor:"expire_at,omitempty"`
	OrderingGroup  *string           `cbor:"order_grp,omitempty"`
	CorrelationID  *string           `cbor:"corr_id,omitempty"`
	PingID         uint64            `cbor:"ping_id,omitempty"`
	State          StatePayload      `cbor:"state,omitempty"`
	Transition     TransitionPayload `cbor:"transition,omitempty"`
	ServiceKey     string            `cbor:"service,omitempty"`
}

// payloadOf returns the CBOR-encodable body for msg, or nil for messages
// carrying only the alias (already in the envelope header).
func payloadOf(msg Message) (interface{}, error) {
	switch m := msg.(type) {
	case AliasMsg:
		return envelope{Alias: m.Alias, Subject: m.Subject}, nil
	case OpenSubscriptionMsg:
		return envelope{PriorityKey: m.PriorityKey, AggrIntervalMs: m.AggregationIntervalMs}, nil
	case CloseSubscriptionMsg:
		return nil, nil
	case ResetSubscriptionMsg:
		return nil, nil
	case SignalMsg:
		return envelope{
			Subject:        m.Subject,
			Payload:        m.Payload,
			ExpireAtMillis: m.ExpireAtMillis,
			OrderingGroup:  m.OrderingGroup,
			CorrelationID:  m.CorrelationID,
		}, nil
	case PingMsg:
		return envelope{PingID: m.ID}, nil
	case PongMsg:
		return envelope{PingID: m.ID}, nil
	case StreamStateUpdateMsg:
		return envelope{State: m.State}, nil
	case StreamStateTransitionUpdateMsg:
		return envelope{Transition: m.Transition}, nil
	case SubscriptionClosedMsg:
		return nil, nil
	case ServiceNotAvailableMsg:
		return envelope{ServiceKey: m.ServiceKey}, nil
	case InvalidRequestMsg:
		return nil, nil
	case SignalAckOkMsg:
		cid := m.CorrelationID
		return envelope{CorrelationID: &cid, Payload: m.Payload}, nil
	case SignalAckFailedMsg:
		cid := m.CorrelationID
		return envelope{CorrelationID: &cid, Payload: m.Payload}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}
}

func decodeMessage(kind Kind, alias Alias, raw []byte) (Message, error) {
	var env envelope
	if len(raw) > 0 {
		if err := cbor.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("cbor unmarshal: %w", err)
		}
	}

	switch kind {
	case KindAlias:
		return AliasMsg{Alias: alias, Subject: env.Subject}, nil
	case KindOpenSubscription:
		return OpenSubscriptionMsg{Alias: alias, PriorityKey: env.PriorityKey, AggregationIntervalMs: env.AggrIntervalMs}, nil
	case KindCloseSubscription:
		return CloseSubscriptionMsg{Alias: alias}, nil
	case KindResetSubscription:
		return ResetSubscriptionMsg{Alias: alias}, nil
	case KindSignal:
		return SignalMsg{
			Subject:        env.Subject,
			Payload:        env.Payload,
			ExpireAtMillis: env.ExpireAtMillis,
			OrderingGroup:  env.OrderingGroup,
			CorrelationID:  env.CorrelationID,
		}, nil
	case KindPing:
		return PingMsg{ID: env.PingID}, nil
	case KindPong:
		return PongMsg{ID: env.PingID}, nil
	case KindStreamStateUpdate:
		return StreamStateUpdateMsg{Alias: alias, State: env.State}, nil
	case KindStreamStateTransitionUpdate:
		return StreamStateTransitionUpdateMsg{Alias: alias, Transition: env.Transition}, nil
	case KindSubscriptionClosed:
		return SubscriptionClosedMsg{Alias: alias}, nil
	case KindServiceNotAvailable:
		return ServiceNotAvailableMsg{ServiceKey: env.ServiceKey}, nil
	case KindInvalidRequest:
		return InvalidRequestMsg{Alias: alias}, nil
	case KindSignalAckOk:
		var cid string
		if env.CorrelationID != nil {
			cid = *env.CorrelationID
		}
		return SignalAckOkMsg{CorrelationID: cid, Payload: env.Payload}, nil
	case KindSignalAckFailed:
		var cid string
		if env.CorrelationID != nil {
			cid = *env.CorrelationID
		}
		return SignalAckFailedMsg{CorrelationID: cid, Payload: env.Payload}, nil
	default:
		return nil, fmt.Errorf("unknown kind tag %d", kind)
	}
}
