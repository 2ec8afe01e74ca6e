package location

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"flowmesh.dev/rlog"
	"flowmesh.dev/stream"
)

const (
	redisBindingsHash = "flowmesh:service_bindings"
	redisChangesTopic = "flowmesh:service_binding_changes"
)

// Redis is a Binding backed by a Redis hash holding ServiceKey → address
// and a pub/sub channel carrying change notifications, grounded on the
// same *redis.Client the teacher's cache keyspaces are built on.
type Redis struct {
	cl *redis.Client
}

// NewRedis returns a Binding that reads and watches bindings on cl.
func NewRedis(cl *redis.Client) *Redis {
	return &Redis{cl: cl}
}

func (r *Redis) Resolve(ctx context.Context, service stream.ServiceKey) (*EndpointRef, error) {
	addr, err := r.cl.HGet(ctx, redisBindingsHash, string(service)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("location/redisloc: resolve %q: %w", service, err)
	}
	if addr == "" {
		return nil, nil
	}
	return &EndpointRef{ServiceKey: service, Address: addr}, nil
}

func (r *Redis) Watch(ctx context.Context) (<-chan Changed, error) {
	sub := r.cl.Subscribe(ctx, redisChangesTopic)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("location/redisloc: subscribe: %w", err)
	}

	out := make(chan Changed, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				service := stream.ServiceKey(msg.Payload)
				ref, err := r.Resolve(ctx, service)
				if err != nil {
					rlog.Error("location/redisloc: resolve after change notification failed", "service", string(service), "err", err)
					continue
				}
				out <- Changed{Service: service, Ref: ref}
			}
		}
	}()
	return out, nil
}

// Publish installs ref (or removes the binding, if ref is nil) and
// notifies every watcher. This is the control-plane write path used by
// whatever discovery process owns binding decisions; the dispatch core
// itself only ever calls Resolve/Watch.
func (r *Redis) Publish(ctx context.Context, service stream.ServiceKey, ref *EndpointRef) error {
	if ref == nil {
		if err := r.cl.HDel(ctx, redisBindingsHash, string(service)).Err(); err != nil {
			return fmt.Errorf("location/redisloc: publish removal for %q: %w", service, err)
		}
	} else {
		if err := r.cl.HSet(ctx, redisBindingsHash, string(service), ref.Address).Err(); err != nil {
			return fmt.Errorf("location/redisloc: publish %q: %w", service, err)
		}
	}
	return r.cl.Publish(ctx, redisChangesTopic, string(service)).Err()
}

func (r *Redis) Close() error {
	return r.cl.Close()
}
