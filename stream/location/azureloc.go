package location

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

// Azure is a Binding built on an Azure Service Bus topic/subscription
// pair, using the same azservicebus.Client + azidentity.DefaultAzureCredential
// pairing the teacher's pubsub package uses for its Azure provider.
type Azure struct {
	client       *azservicebus.Client
	sender       *azservicebus.Sender
	topicName    string
	subscription string
}

// NewAzure returns a Binding publishing/consuming binding changes on
// topicName within the Service Bus namespace, using subscriptionName as
// the subscription every process watching bindings shares.
func NewAzure(namespace, topicName, subscriptionName string) (*Azure, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("location/azureloc: credential: %w", err)
	}
	client, err := azservicebus.NewClient(fmt.Sprintf("%s.servicebus.windows.net", namespace), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("location/azureloc: new client: %w", err)
	}
	sender, err := client.NewSender(topicName, nil)
	if err != nil {
		return nil, fmt.Errorf("location/azureloc: new sender: %w", err)
	}
	return &Azure{client: client, sender: sender, topicName: topicName, subscription: subscriptionName}, nil
}

func (a *Azure) Resolve(context.Context, stream.ServiceKey) (*EndpointRef, error) {
	// Service Bus has no durable "current value" read outside replaying
	// the subscription; Watch is the source of truth, as with the
	// other cloud-queue-backed bindings.
	return nil, nil
}

func (a *Azure) Watch(ctx context.Context) (<-chan Changed, error) {
	receiver, err := a.client.NewReceiverForSubscription(a.topicName, a.subscription, nil)
	if err != nil {
		return nil, fmt.Errorf("location/azureloc: new receiver: %w", err)
	}

	out := make(chan Changed, 16)
	go func() {
		defer close(out)
		defer receiver.Close(context.Background())
		for {
			msgs, err := receiver.ReceiveMessages(ctx, 10, nil)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				rlog.Error("location/azureloc: receive failed", "err", err)
				continue
			}
			for _, m := range msgs {
				var wm bindingWireMsg
				if err := json.Unmarshal(m.Body, &wm); err != nil {
					rlog.Error("location/azureloc: malformed binding message, dropping", "err", err)
				} else {
					service := stream.ServiceKey(wm.Service)
					var ref *EndpointRef
					if !wm.Removed {
						ref = &EndpointRef{ServiceKey: service, Address: wm.Address}
					}
					select {
					case out <- Changed{Service: service, Ref: ref}:
					default:
					}
				}
				receiver.CompleteMessage(ctx, m, nil)
			}
		}
	}()

	return out, nil
}

// Publish announces a binding change to every watcher on the topic.
func (a *Azure) Publish(ctx context.Context, service stream.ServiceKey, ref *EndpointRef) error {
	wm := bindingWireMsg{Service: string(service)}
	if ref != nil {
		wm.Address = ref.Address
	} else {
		wm.Removed = true
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("location/azureloc: marshal: %w", err)
	}
	return a.sender.SendMessage(ctx, &azservicebus.Message{Body: data}, nil)
}

func (a *Azure) Close() error {
	return a.client.Close(context.Background())
}
