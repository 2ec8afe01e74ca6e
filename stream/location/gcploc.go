package location

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

// GCP is a Binding built on a Cloud Pub/Sub topic, mirroring how the
// teacher's own pubsub package wraps *pubsub.Client per project: one
// topic carries every binding change as a small JSON payload keyed by
// service name.
type GCP struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	subID  string
}

// NewGCP returns a Binding publishing/consuming binding changes on
// topicName within project, using subID as the subscription name every
// process watching bindings shares.
func NewGCP(ctx context.Context, project, topicName, subID string) (*GCP, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("location/gcploc: new client: %w", err)
	}
	return &GCP{client: client, topic: client.Topic(topicName), subID: subID}, nil
}

func (g *GCP) Resolve(ctx context.Context, service stream.ServiceKey) (*EndpointRef, error) {
	// GCP offers no server-side "current value" query for a topic, and
	// this binding keeps no cache of what Watch has observed, so Resolve
	// always reports nil; bindings are learned only from Watch.
	return nil, nil
}

func (g *GCP) Watch(ctx context.Context) (<-chan Changed, error) {
	sub := g.client.Subscription(g.subID)
	out := make(chan Changed, 16)

	go func() {
		defer close(out)
		err := sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
			var wm bindingWireMsg
			if err := json.Unmarshal(m.Data, &wm); err != nil {
				rlog.Error("location/gcploc: malformed binding message, dropping", "err", err)
				m.Ack()
				return
			}
			service := stream.ServiceKey(wm.Service)
			var ref *EndpointRef
			if !wm.Removed {
				ref = &EndpointRef{ServiceKey: service, Address: wm.Address}
			}
			select {
			case out <- Changed{Service: service, Ref: ref}:
			default:
			}
			m.Ack()
		})
		if err != nil && ctx.Err() == nil {
			rlog.Error("location/gcploc: subscription receive loop ended", "err", err)
		}
	}()

	return out, nil
}

// Publish announces a binding change to every watcher.
func (g *GCP) Publish(ctx context.Context, service stream.ServiceKey, ref *EndpointRef) error {
	wm := bindingWireMsg{Service: string(service)}
	if ref != nil {
		wm.Address = ref.Address
	} else {
		wm.Removed = true
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("location/gcploc: marshal: %w", err)
	}
	res := g.topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

func (g *GCP) Close() error {
	g.topic.Stop()
	return g.client.Close()
}
