package location

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

// AWS is a Binding built on an SNS topic fanning out to an SQS queue per
// watcher, the same SNS/SQS pairing the teacher's pubsub package uses
// for its AWS provider.
type AWS struct {
	sns      *sns.Client
	sqs      *sqs.Client
	topicARN string
	queueURL string
}

// NewAWS returns a Binding publishing binding changes to topicARN and
// consuming them from queueURL (an SQS queue already subscribed to that
// topic).
func NewAWS(cfg aws.Config, topicARN, queueURL string) *AWS {
	return &AWS{sns: sns.NewFromConfig(cfg), sqs: sqs.NewFromConfig(cfg), topicARN: topicARN, queueURL: queueURL}
}

func (a *AWS) Resolve(context.Context, stream.ServiceKey) (*EndpointRef, error) {
	// SNS/SQS offer no durable "current value" read outside of
	// replaying the queue; as with gcploc, freshly-started processes
	// rely on Watch to learn bindings as they are (re)announced.
	return nil, nil
}

func (a *AWS) Watch(ctx context.Context) (<-chan Changed, error) {
	out := make(chan Changed, 16)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			res, err := a.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            aws.String(a.queueURL),
				MaxNumberOfMessages: 10,
				WaitTimeSeconds:     20,
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				rlog.Error("location/awsloc: receive failed", "err", err)
				continue
			}

			for _, m := range res.Messages {
				var wm bindingWireMsg
				if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &wm); err != nil {
					rlog.Error("location/awsloc: malformed binding message, dropping", "err", err)
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
				a.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(a.queueURL),
					ReceiptHandle: m.ReceiptHandle,
				})
			}
		}
	}()

	return out, nil
}

// Publish announces a binding change to every watcher subscribed to the
// SNS topic.
func (a *AWS) Publish(ctx context.Context, service stream.ServiceKey, ref *EndpointRef) error {
	wm := bindingWireMsg{Service: string(service)}
	if ref != nil {
		wm.Address = ref.Address
	} else {
		wm.Removed = true
	}
	data, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("location/awsloc: marshal: %w", err)
	}
	_, err = a.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Message:  aws.String(string(data)),
	})
	return err
}

func (a *AWS) Close() error { return nil }
