// Package ws is the transport adapter binding the dispatch core's
// binary wire dialect to a WebSocket connection, grounded on the
// teacher's HTTP-handler conventions (appruntime/apisdk/api) adapted to
// a long-lived, server-push-heavy protocol rather than request/response.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"

	"nhooyr.io/websocket"

	"flowmesh.dev/beta/errs"
	"flowmesh.dev/rlog"
	"flowmesh.dev/stream/wire"
)

// ErrTextFrame is returned by ReadMessage when the peer sends a text
// frame: the dialect is binary-only (spec §4.B), and receiving text is
// a protocol violation that must terminate the connection.
var ErrTextFrame = errors.New("transport/ws: peer sent a text frame, binary-only protocol violated")

// Conn is a single dispatch-core connection: a WebSocket wrapped with
// the wire.Decoder framing so callers exchange wire.Message values
// directly instead of raw frames.
type Conn struct {
	ws  *websocket.Conn
	dec wire.Decoder
}

// NewConn wraps an already-accepted or already-dialed *websocket.Conn.
func NewConn(c *websocket.Conn) *Conn {
	c.SetReadLimit(readLimitBytes)
	return &Conn{ws: c}
}

// readLimitBytes bounds a single WebSocket frame; the dispatch core
// never sends a single message anywhere near this size, so a peer
// exceeding it is misbehaving.
const readLimitBytes = 4 << 20

// ReadMessage blocks until a full wire.Message has been decoded from
// the connection. It returns ErrTextFrame immediately, without reading
// further, if the peer sends a text frame. A single WebSocket frame may
// carry several concatenated dialect records (spec §4.B/§6); ReadMessage
// drains the decoder's buffer before touching the socket again, so a
// prior frame's second record is returned immediately instead of
// stalling until another frame happens to arrive.
func (c *Conn) ReadMessage(ctx context.Context) (wire.Message, error) {
	for {
		msg, err := c.dec.Next()
		if err == nil {
			return msg, nil
		}
		// An incomplete record just means more frames are needed; any
		// other decode error is a malformed message the caller should
		// treat as an InvalidRequest / close the connection.
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("transport/ws: decode: %w", err)
		}

		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("transport/ws: read: %w", err)
		}
		if typ != websocket.MessageBinary {
			return nil, ErrTextFrame
		}
		c.dec.Feed(data)
	}
}

// WriteMessage encodes msg and writes it as a single binary frame.
func (c *Conn) WriteMessage(ctx context.Context, msg wire.Message) error {
	buf, err := wire.Encode(nil, msg)
	if err != nil {
		return fmt.Errorf("transport/ws: encode: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageBinary, buf)
}

// Close closes the underlying connection with the given WebSocket close
// code and a human-readable reason.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// CloseProtocolError closes the connection per the binary-only framing
// contract: a text frame, or any other malformed input, is a protocol
// error the server must not tolerate.
func (c *Conn) CloseProtocolError(ctx context.Context, err error) {
	wrapped := errs.WrapCode(err, errs.InvalidArgument, "protocol violation")
	rlog.Warn("transport/ws: closing connection on protocol violation", "err", wrapped)
	_ = c.ws.Close(websocket.StatusProtocolError, err.Error())
}
