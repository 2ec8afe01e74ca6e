package stream

// PumpEndpointEvents forwards every event emitted by ep toward agg,
// translating the Endpoint's producer-facing vocabulary into the
// Aggregator's consumer-facing one. It blocks until ep.Events is
// closed (i.e. until the endpoint's Run returns), so callers typically
// invoke it in its own goroutine for each locally co-located binding.
func PumpEndpointEvents(ep *Endpoint, agg *Aggregator) {
	for evt := range ep.Events {
		switch e := evt.(type) {
		case StreamStateUpdateEvent:
			agg.OnSnapshotArrival(e.Subject, e.State)
		case StreamStateTransitionUpdateEvent:
			agg.OnTransitionArrival(e.Subject, e.Transition)
		case SubscriptionClosedEvent:
			agg.OnEndpointClosed(e.Subject)
		case InvalidRequestEvent:
			agg.OnEndpointInvalidRequest(e.Subject)
		case SignalAckOkEvent:
			agg.OnSignalAck(true, e.CorrelationID, e.Payload)
		case SignalAckFailedEvent:
			agg.OnSignalAck(false, e.CorrelationID, e.Payload)
		}
	}
}
