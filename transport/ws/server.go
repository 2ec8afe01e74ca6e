package ws

import (
	"net/http"

	"nhooyr.io/websocket"
)

// AcceptOptions controls how incoming connections are upgraded.
type AcceptOptions struct {
	// OriginPatterns restricts which Origin headers are accepted, same
	// shape as websocket.AcceptOptions.OriginPatterns. Leave nil to
	// accept same-origin requests only, matching nhooyr.io/websocket's
	// own default.
	OriginPatterns []string
}

// Accept upgrades an inbound HTTP request to a WebSocket connection,
// negotiating permessage-deflate so large Set/List snapshots compress
// in flight, and returns the dispatch-core Conn wrapper.
func Accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (*Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     opts.OriginPatterns,
		CompressionMode:    websocket.CompressionContextTakeover,
		CompressionThreshold: 512,
	})
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}
