// Command flowmeshd is the dispatch core's host process: it accepts
// consumer WebSocket connections, hands each one its own Aggregator and
// Session, and resolves/watches service bindings and cluster-bus
// transport according to the process configuration, grounded on the
// teacher's own daemon-process conventions (config.Load driving a
// single long-running listener, shutdown.Manager owning the exit
// sequence) adapted from the teacher's CLI daemon to a stream server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"

	"flowmesh.dev/config"
	"flowmesh.dev/rlog"
	"flowmesh.dev/session"
	"flowmesh.dev/shutdown"
	"flowmesh.dev/stream"
	"flowmesh.dev/stream/clusterbus"
	"flowmesh.dev/stream/location"
	"flowmesh.dev/transport/ws"
)

const serviceName = "flowmeshd"

func main() {
	if err := run(); err != nil {
		rlog.Error("flowmeshd: fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("flowmeshd: load config: %w", err)
	}

	locBnd, err := newLocationBinding(cfg)
	if err != nil {
		return fmt.Errorf("flowmeshd: location binding: %w", err)
	}

	bus, err := newClusterBusTransport(cfg)
	if err != nil {
		return fmt.Errorf("flowmeshd: cluster bus transport: %w", err)
	}

	mgr := shutdown.NewManager(5*time.Second, 20*time.Second)
	mgr.WatchForSignals()

	srv := &server{cfg: cfg, locBnd: locBnd, bus: bus, mgr: mgr}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebSocketPath, srv.handleUpgrade)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	mgr.Register(&shutdown.AggregatorHandler{Runner: shutdown.CancelFunc(func() { _ = httpSrv.Close() })})

	rlog.Info("flowmeshd: listening", "addr", cfg.ListenAddr, "path", cfg.WebSocketPath, "location", cfg.Location, "cluster_bus", cfg.ClusterBus)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-mgr.Done():
	}
	<-mgr.Done()
	return nil
}

// server holds the process-wide collaborators every accepted connection
// needs: the configured location binding, cluster-bus transport, and
// shutdown manager a per-connection AggregatorHandler registers with.
type server struct {
	cfg    config.Runtime
	locBnd location.Binding
	bus    clusterbus.Transport
	mgr    *shutdown.Manager
}

func (s *server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, ws.AcceptOptions{})
	if err != nil {
		rlog.Warn("flowmeshd: websocket upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	agg := stream.NewAggregator(clock.New(), int64(s.cfg.InitialDemandWindow))
	s.mgr.Register(&shutdown.AggregatorHandler{Runner: shutdown.CancelFunc(cancel)})

	go func() {
		if err := agg.Run(ctx, s.cfg.DispatchTick); err != nil {
			rlog.Warn("flowmeshd: aggregator run ended", "err", err)
		}
	}()

	sessCfg := session.Config{
		InitialDemandWindow:    int64(s.cfg.InitialDemandWindow),
		InitialDemandBurstRate: s.cfg.InitialDemandBurstRate,
		PingInterval:           s.cfg.PingInterval,
		PongTimeout:            s.cfg.PongTimeout,
	}
	sess := session.New(conn, agg, s.locBnd, sessCfg).WithDialer(func(ref location.EndpointRef) stream.EndpointHandle {
		return clusterbus.NewRemoteEndpointHandle(ctx, s.bus, ref.ServiceKey)
	})

	go func() {
		defer cancel()
		if err := sess.Run(ctx); err != nil {
			rlog.Warn("flowmeshd: session ended", "err", err)
		}
	}()
}

// newLocationBinding selects the ServiceLocationBinding named by
// cfg.Location. GCP, AWS, and Azure backends need a topic/subscription
// identifier each that config.Runtime has no field for yet; a process
// that wants one of them today must be wired up in code rather than
// through FLOWMESH_CFG_<SERVICE>.
func newLocationBinding(cfg config.Runtime) (location.Binding, error) {
	switch cfg.Location {
	case config.LocationStatic, "":
		return location.NewStatic(), nil
	case config.LocationRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("location backend %q requires redis_addr", cfg.Location)
		}
		return location.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})), nil
	case config.LocationNSQ:
		if cfg.NSQAddr == "" {
			return nil, fmt.Errorf("location backend %q requires nsq_addr", cfg.Location)
		}
		return location.NewNSQ(cfg.NSQAddr, cfg.NSQAddr)
	default:
		return nil, fmt.Errorf("location backend %q is not wired for config-driven boot; construct it directly in code", cfg.Location)
	}
}

// newClusterBusTransport selects the Remote StreamEndpoint forwarding
// transport named by cfg.ClusterBus.
func newClusterBusTransport(cfg config.Runtime) (clusterbus.Transport, error) {
	switch cfg.ClusterBus {
	case config.ClusterBusLocal, "":
		return clusterbus.NewInMemory(), nil
	case config.ClusterBusNSQ:
		if cfg.NSQAddr == "" {
			return nil, fmt.Errorf("cluster bus backend %q requires nsq_addr", cfg.ClusterBus)
		}
		return clusterbus.NewNSQ(cfg.NSQAddr)
	default:
		return nil, fmt.Errorf("cluster bus backend %q is not wired for config-driven boot; construct it directly in code", cfg.ClusterBus)
	}
}
