// Package location implements ServiceLocationBinding: the external
// collaborator that resolves a ServiceKey to the cluster node currently
// hosting it and notifies a StreamAggregator whenever that binding
// changes. The aggregator treats whichever implementation is booted as
// authoritative; it never second-guesses a location change.
package location

import (
	"context"

	"flowmesh.dev/stream"
)

// EndpointRef is an opaque address for a Remote StreamEndpoint: the node
// hosting a service's stream surface. Implementations are free to embed
// whatever routing detail (host:port, cluster member ID) they need;
// callers only ever compare refs for equality or pass them to a
// clusterbus dialer.
type EndpointRef struct {
	ServiceKey stream.ServiceKey
	Address    string
}

// Changed is the event a Binding delivers whenever the endpoint for a
// service starts, moves, or disappears. Ref is the zero value when the
// service currently has no reachable endpoint.
type Changed struct {
	Service stream.ServiceKey
	Ref     *EndpointRef
}

// Binding is the ServiceLocationBinding contract. Watch must be called
// exactly once; it delivers a Changed event each time a binding is
// created, moved, or removed after the call, until ctx is cancelled or
// Close is called. Bindings that already exist when Watch is called are
// not replayed; Resolve reports them.
type Binding interface {
	// Resolve returns the endpoint currently bound to service, or nil
	// if none is bound.
	Resolve(ctx context.Context, service stream.ServiceKey) (*EndpointRef, error)

	// Watch streams Changed events until ctx is done or the binding is
	// closed. The returned channel is closed when Watch returns.
	Watch(ctx context.Context) (<-chan Changed, error)

	// Close releases any resources (connections, subscriptions) held
	// by the binding.
	Close() error
}
