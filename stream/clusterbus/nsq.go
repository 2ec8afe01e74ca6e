package clusterbus

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

// NSQ is the default cluster bus Transport, grounded on the teacher's
// NSQ pubsub provider (one topic per concern, a dedicated *nsq.Producer
// per publisher, one *nsq.Consumer per subscription channel). Two NSQ
// topics back each ServiceKey: "<service>.cmd" carries Commands toward
// the node hosting the Endpoint, "<service>.evt" carries Events back.
type NSQ struct {
	addr     string
	producer *nsq.Producer
}

// NewNSQ dials addr (the nsqd TCP address) and returns a Transport ready
// to publish; subscriptions are created lazily per service.
func NewNSQ(addr string) (*NSQ, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("clusterbus/nsq: new producer: %w", err)
	}
	return &NSQ{addr: addr, producer: producer}, nil
}

var _ Transport = (*NSQ)(nil)

func commandTopic(service stream.ServiceKey) string { return string(service) + ".cmd" }
func eventTopic(service stream.ServiceKey) string    { return string(service) + ".evt" }

func (t *NSQ) PublishCommand(ctx context.Context, service stream.ServiceKey, cmd Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("clusterbus/nsq: encode command: %w", err)
	}
	return t.producer.Publish(commandTopic(service), data)
}

func (t *NSQ) PublishEvent(ctx context.Context, service stream.ServiceKey, evt Event) error {
	data, err := EncodeEvent(evt)
	if err != nil {
		return fmt.Errorf("clusterbus/nsq: encode event: %w", err)
	}
	return t.producer.Publish(eventTopic(service), data)
}

func (t *NSQ) SubscribeCommands(ctx context.Context, service stream.ServiceKey) (<-chan Command, error) {
	out := make(chan Command, 64)
	consumer, err := nsq.NewConsumer(commandTopic(service), "clusterbus", nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("clusterbus/nsq: new consumer: %w", err)
	}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		cmd, err := DecodeCommand(m.Body)
		if err != nil {
			rlog.Error("clusterbus/nsq: malformed command, dropping", "err", err)
			return nil
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
		}
		return nil
	}))
	if err := consumer.ConnectToNSQD(t.addr); err != nil {
		return nil, fmt.Errorf("clusterbus/nsq: connect: %w", err)
	}
	go func() {
		<-ctx.Done()
		consumer.Stop()
		close(out)
	}()
	return out, nil
}

func (t *NSQ) SubscribeEvents(ctx context.Context, service stream.ServiceKey) (<-chan Event, error) {
	out := make(chan Event, 64)
	consumer, err := nsq.NewConsumer(eventTopic(service), "clusterbus", nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("clusterbus/nsq: new consumer: %w", err)
	}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		evt, err := DecodeEvent(m.Body)
		if err != nil {
			rlog.Error("clusterbus/nsq: malformed event, dropping", "err", err)
			return nil
		}
		select {
		case out <- evt:
		case <-ctx.Done():
		}
		return nil
	}))
	if err := consumer.ConnectToNSQD(t.addr); err != nil {
		return nil, fmt.Errorf("clusterbus/nsq: connect: %w", err)
	}
	go func() {
		<-ctx.Done()
		consumer.Stop()
		close(out)
	}()
	return out, nil
}

func (t *NSQ) Close() error {
	t.producer.Stop()
	return nil
}
