package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nsqio/go-nsq"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

const (
	nsqBindingsTopic   = "flowmesh_service_bindings"
	nsqBindingsChannel = "flowmesh_location"
)

// bindingWireMsg is the JSON body published to nsqBindingsTopic on every
// binding change.
type bindingWireMsg struct {
	Service string `json:"service"`
	Address string `json:"address,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// NSQ is a Binding that treats the cluster's own NSQ control-plane bus
// as the discovery transport, for clusters that already run NSQ for
// clusterbus and would rather not stand up a second mechanism for
// location changes.
type NSQ struct {
	addr        string
	lookupdAddr string

	mu       sync.Mutex
	producer *nsq.Producer
	cache    map[stream.ServiceKey]*EndpointRef
}

// NewNSQ returns a Binding publishing/consuming binding changes over the
// NSQ instance at addr. lookupdAddr is stored but not used: Watch
// connects its consumer directly to the nsqd at addr.
func NewNSQ(addr, lookupdAddr string) (*NSQ, error) {
	producer, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("location/nsqloc: new producer: %w", err)
	}
	return &NSQ{addr: addr, lookupdAddr: lookupdAddr, producer: producer, cache: make(map[stream.ServiceKey]*EndpointRef)}, nil
}

func (n *NSQ) Resolve(_ context.Context, service stream.ServiceKey) (*EndpointRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cache[service], nil
}

func (n *NSQ) Watch(ctx context.Context) (<-chan Changed, error) {
	consumer, err := nsq.NewConsumer(nsqBindingsTopic, nsqBindingsChannel, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("location/nsqloc: new consumer: %w", err)
	}

	out := make(chan Changed, 16)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		var wm bindingWireMsg
		if err := json.Unmarshal(m.Body, &wm); err != nil {
			rlog.Error("location/nsqloc: malformed binding message, dropping", "err", err)
			return nil
		}
		service := stream.ServiceKey(wm.Service)
		var ref *EndpointRef
		if !wm.Removed {
			ref = &EndpointRef{ServiceKey: service, Address: wm.Address}
		}
		n.mu.Lock()
		n.cache[service] = ref
		n.mu.Unlock()
		select {
		case out <- Changed{Service: service, Ref: ref}:
		default:
		}
		return nil
	}))

	if err := consumer.ConnectToNSQD(n.addr); err != nil {
		return nil, fmt.Errorf("location/nsqloc: connect: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumer.Stop()
		<-consumer.StopChan
		close(out)
	}()

	return out, nil
}

// Publish announces a binding change to every watcher on the cluster.
func (n *NSQ) Publish(service stream.ServiceKey, ref *EndpointRef) error {
	wm := bindingWireMsg{Service: string(service)}
	if ref != nil {
		wm.Address = ref.Address
	} else {
		wm.Removed = true
	}
	body, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("location/nsqloc: marshal: %w", err)
	}
	return n.producer.Publish(nsqBindingsTopic, body)
}

func (n *NSQ) Close() error {
	n.producer.Stop()
	return nil
}
