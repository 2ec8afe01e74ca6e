// Package config provides the dispatch core's runtime configuration: which
// address a process listens on, the WebSocket upgrade path, the downstream
// demand window, the dispatch tick interval, and which ServiceLocationBinding
// and cluster-bus backend to boot.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// LocationBackend names which ServiceLocationBinding implementation a
// process should boot.
type LocationBackend string

const (
	LocationStatic LocationBackend = "static"
	LocationRedis  LocationBackend = "redis"
	LocationGCP    LocationBackend = "gcp"
	LocationAWS    LocationBackend = "aws"
	LocationAzure  LocationBackend = "azure"
	LocationNSQ    LocationBackend = "nsq"
)

// ClusterBusBackend names which transport a Remote StreamEndpoint uses to
// forward stream updates to an aggregator running on a different node.
type ClusterBusBackend string

const (
	ClusterBusLocal ClusterBusBackend = "local"
	ClusterBusNSQ   ClusterBusBackend = "nsq"
	ClusterBusGCP   ClusterBusBackend = "gcp"
)

// Runtime is the process-wide configuration for a dispatch core host.
type Runtime struct {
	// ListenAddr is the address the consumer-facing WebSocket listener
	// binds to, e.g. ":8080".
	ListenAddr string `json:"listen_addr"`

	// WebSocketPath is the HTTP path the upgrade handler is mounted on.
	WebSocketPath string `json:"websocket_path"`

	// DispatchTick is the liveness safety net interval at which every
	// aggregator re-attempts publishPending regardless of new demand
	// or transition arrival.
	DispatchTick time.Duration `json:"dispatch_tick"`

	// InitialDemandWindow is how many upstream demand tokens a
	// newly-(re)bound endpoint is granted at once.
	InitialDemandWindow int `json:"initial_demand_window"`

	// InitialDemandBurstRate is copied into session.Config. Nothing reads
	// it from there, so it does not limit any demand grant.
	InitialDemandBurstRate float64 `json:"initial_demand_burst_rate"`

	// PingInterval/PongTimeout govern a session's liveness loop.
	PingInterval time.Duration `json:"ping_interval"`
	PongTimeout  time.Duration `json:"pong_timeout"`

	// Location selects the ServiceLocationBinding implementation.
	Location LocationBackend `json:"location_backend"`

	// ClusterBus selects the Remote StreamEndpoint forwarding transport.
	ClusterBus ClusterBusBackend `json:"cluster_bus_backend"`

	// RedisAddr is consulted when Location == LocationRedis.
	RedisAddr string `json:"redis_addr"`

	// NSQAddr is consulted when Location == LocationNSQ or
	// ClusterBus == ClusterBusNSQ.
	NSQAddr string `json:"nsq_addr"`
}

// Default returns the configuration used when no environment override is
// present, suitable for a single-process, static-location deployment.
func Default() Runtime {
	return Runtime{
		ListenAddr:             ":8080",
		WebSocketPath:          "/stream",
		DispatchTick:           200 * time.Millisecond,
		InitialDemandWindow:    1,
		InitialDemandBurstRate: 50,
		PingInterval:           30 * time.Second,
		PongTimeout:            10 * time.Second,
		Location:               LocationStatic,
		ClusterBus:             ClusterBusLocal,
	}
}

// Load returns the configuration for serviceName, overlaying Default()
// with whatever is found in the FLOWMESH_CFG_<SERVICE> environment
// variable, a base64-encoded JSON object.
func Load(serviceName string) (Runtime, error) {
	cfg := Default()

	envVar := os.Getenv(envName(serviceName))
	if envVar == "" {
		return cfg, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(envVar)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to decode configuration for service %q: %w", serviceName, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to unmarshal configuration for service %q: %w", serviceName, err)
	}
	return cfg, nil
}

func envName(serviceName string) string {
	return fmt.Sprintf("FLOWMESH_CFG_%s", strings.ToUpper(serviceName))
}
