// Package wire implements the binary stream dialect: a length-delimited
// framing of typed messages, with per-message structured payloads
// encoded as CBOR. The outer envelope (kind tag, length prefix, alias)
// is hand-rolled to match the dialect's exact bespoke layout; payload
// bodies are left to github.com/fxamacker/cbor/v2 rather than a
// field-by-field binary encoder per StreamState variant.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Kind is the one-byte tag identifying a dialect message's wire shape.
type Kind byte

const (
	KindAlias Kind = iota + 1
	KindOpenSubscription
	KindCloseSubscription
	KindResetSubscription
	KindSignal
	KindPing
	KindPong
	KindStreamStateUpdate
	KindStreamStateTransitionUpdate
	KindSubscriptionClosed
	KindServiceNotAvailable
	KindInvalidRequest
	KindSignalAckOk
	KindSignalAckFailed
)

// Message is satisfied by every dialect message type. aliasOrZero returns 0
// for messages that are not keyed by an alias (e.g. ServiceNotAvailable).
type Message interface {
	Kind() Kind
	aliasOrZero() Alias
}

// Alias mirrors stream.Alias without importing the stream package, so
// the codec has no dependency on aggregator internals.
type Alias uint32

var cborMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// record is the on-the-wire envelope: kind (1 byte), alias (4 bytes,
// big-endian, 0 when not applicable), payload length (4 bytes,
// big-endian), then that many bytes of CBOR-encoded payload.
const envelopeHeaderLen = 1 + 4 + 4

// Encode appends msg's framed record to buf and returns the result.
func Encode(buf []byte, msg Message) ([]byte, error) {
	payload, err := payloadOf(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %T: %w", msg, err)
	}
	var cborBytes []byte
	if payload != nil {
		cborBytes, err = cborMode.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: cbor encode %T: %w", msg, err)
		}
	}

	header := make([]byte, envelopeHeaderLen)
	header[0] = byte(msg.Kind())
	binary.BigEndian.PutUint32(header[1:5], uint32(msg.aliasOrZero()))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(cborBytes)))

	buf = append(buf, header...)
	buf = append(buf, cborBytes...)
	return buf, nil
}

// Decoder iteratively consumes records from a byte stream, producing
// messages in arrival order. It is total: every valid byte sequence
// either produces messages or fails with a decode error that must close
// the connection.
type Decoder struct {
	buf bytes.Buffer
}

// Feed appends newly-received bytes (typically one WebSocket binary
// frame) to the decoder's internal buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf.Write(p)
}

// Next decodes and returns the next complete record in the buffer. It
// returns io.ErrUnexpectedEOF (not an error the caller should treat as
// fatal) when the buffer holds an incomplete record; the caller should
// Feed more bytes and retry.
func (d *Decoder) Next() (Message, error) {
	raw := d.buf.Bytes()
	if len(raw) < envelopeHeaderLen {
		return nil, io.ErrUnexpectedEOF
	}
	kind := Kind(raw[0])
	alias := Alias(binary.BigEndian.Uint32(raw[1:5]))
	length := binary.BigEndian.Uint32(raw[5:9])
	total := envelopeHeaderLen + int(length)
	if len(raw) < total {
		return nil, io.ErrUnexpectedEOF
	}
	payload := raw[envelopeHeaderLen:total]
	d.buf.Next(total)

	msg, err := decodeMessage(kind, alias, payload)
	if err != nil {
		return nil, fmt.Errorf("wire: decode kind %d: %w", kind, err)
	}
	return msg, nil
}

// DecodeAll decodes every complete record currently buffered, in
// arrival order, leaving any trailing partial record for the next Feed.
func (d *Decoder) DecodeAll() ([]Message, error) {
	var msgs []Message
	for {
		msg, err := d.Next()
		if err == io.ErrUnexpectedEOF {
			return msgs, nil
		}
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
}
