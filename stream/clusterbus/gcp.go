package clusterbus

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

// GCP is the Google Cloud Pub/Sub alternative cluster bus Transport,
// grounded the same way location.GCP is: one pubsub.Topic per concern
// (command, event) per service, with a dedicated subscription ID per
// subscriber so multiple processes can each see every message.
type GCP struct {
	client *pubsub.Client
}

// NewGCP opens a Pub/Sub client scoped to project.
func NewGCP(ctx context.Context, project string) (*GCP, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("clusterbus/gcp: new client: %w", err)
	}
	return &GCP{client: client}, nil
}

var _ Transport = (*GCP)(nil)

func (t *GCP) PublishCommand(ctx context.Context, service stream.ServiceKey, cmd Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("clusterbus/gcp: encode command: %w", err)
	}
	topic := t.client.Topic(commandTopic(service))
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

func (t *GCP) PublishEvent(ctx context.Context, service stream.ServiceKey, evt Event) error {
	data, err := EncodeEvent(evt)
	if err != nil {
		return fmt.Errorf("clusterbus/gcp: encode event: %w", err)
	}
	topic := t.client.Topic(eventTopic(service))
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

func (t *GCP) SubscribeCommands(ctx context.Context, service stream.ServiceKey) (<-chan Command, error) {
	sub := t.client.Subscription(commandTopic(service) + "-clusterbus")
	out := make(chan Command, 64)
	go func() {
		defer close(out)
		err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			cmd, err := DecodeCommand(m.Data)
			if err != nil {
				rlog.Error("clusterbus/gcp: malformed command, dropping", "err", err)
				m.Ack()
				return
			}
			select {
			case out <- cmd:
				m.Ack()
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			rlog.Error("clusterbus/gcp: command receive failed", "err", err)
		}
	}()
	return out, nil
}

func (t *GCP) SubscribeEvents(ctx context.Context, service stream.ServiceKey) (<-chan Event, error) {
	sub := t.client.Subscription(eventTopic(service) + "-clusterbus")
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			evt, err := DecodeEvent(m.Data)
			if err != nil {
				rlog.Error("clusterbus/gcp: malformed event, dropping", "err", err)
				m.Ack()
				return
			}
			select {
			case out <- evt:
				m.Ack()
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			rlog.Error("clusterbus/gcp: event receive failed", "err", err)
		}
	}()
	return out, nil
}

func (t *GCP) Close() error {
	return t.client.Close()
}
