package location

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	qt "github.com/frankban/quicktest"

	"flowmesh.dev/stream"
)

func TestRedisResolveAndWatch(t *testing.T) {
	c := qt.New(t)

	srv := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer cl.Close()

	binding := NewRedis(cl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ref, err := binding.Resolve(ctx, "svcA")
	c.Assert(err, qt.IsNil)
	c.Assert(ref, qt.IsNil)

	changes, err := binding.Watch(ctx)
	c.Assert(err, qt.IsNil)

	c.Assert(binding.Publish(ctx, "svcA", &EndpointRef{ServiceKey: "svcA", Address: "node1:9000"}), qt.IsNil)

	select {
	case got := <-changes:
		c.Assert(got.Service, qt.Equals, stream.ServiceKey("svcA"))
		c.Assert(got.Ref, qt.Not(qt.IsNil))
		c.Assert(got.Ref.Address, qt.Equals, "node1:9000")
	case <-time.After(2 * time.Second):
		c.Fatal("timed out waiting for binding change")
	}

	ref, err = binding.Resolve(ctx, "svcA")
	c.Assert(err, qt.IsNil)
	c.Assert(ref.Address, qt.Equals, "node1:9000")

	c.Assert(binding.Publish(ctx, "svcA", nil), qt.IsNil)
	select {
	case got := <-changes:
		c.Assert(got.Ref, qt.IsNil)
	case <-time.After(2 * time.Second):
		c.Fatal("timed out waiting for binding removal")
	}
}
