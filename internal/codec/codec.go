// Package codec implements C1: encoding and decoding client-facing frames under a
// negotiated wire format (text JSON or binary MsgPack). A Codec value is immutable and
// cheap to copy; negotiation happens once, at connection accept, and the result is
// handed to every component that needs to encode or decode for that connection.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/chatplatform/gateway/internal/gwerr"
	"github.com/chatplatform/gateway/internal/protocol"
	"github.com/chatplatform/gateway/internal/wire"
	"github.com/fasthttp/websocket"
)

// Format is a negotiated frame encoding.
type Format int

const (
	// FormatJSON sends text frames on egress; ingress may be text or binary, both
	// decoded through the same JSON decoder.
	FormatJSON Format = iota
	// FormatMsgPack sends and expects binary frames only.
	FormatMsgPack
)

// ParseFormat maps a query-parameter value to a Format. Any string other than
// "msgpack" (case-sensitive, matching the query parameter's own contract) yields JSON.
func ParseFormat(s string) Format {
	if s == "msgpack" {
		return FormatMsgPack
	}
	return FormatJSON
}

// Codec encodes and decodes protocol.Frame values for one negotiated Format. The zero
// value is the JSON codec.
type Codec struct {
	format Format
}

// New returns a Codec for the given format.
func New(format Format) Codec {
	return Codec{format: format}
}

// Format reports the codec's negotiated format.
func (c Codec) Format() Format {
	return c.format
}

// Encode serializes frame into bytes and the WebSocket message type to send it as.
// Encoding a well-formed protocol.Frame value cannot fail in practice; an error here
// indicates a programmer error (a Data field that is not valid JSON), not a runtime
// condition to recover from.
func (c Codec) Encode(frame protocol.Frame) ([]byte, int, error) {
	switch c.format {
	case FormatMsgPack:
		b, err := wire.Encode(frame)
		if err != nil {
			return nil, 0, fmt.Errorf("codec: msgpack encode: %w", err)
		}
		return b, websocket.BinaryMessage, nil
	default:
		b, err := json.Marshal(frame)
		if err != nil {
			return nil, 0, fmt.Errorf("codec: json encode: %w", err)
		}
		return b, websocket.TextMessage, nil
	}
}

// Decode decodes a raw WebSocket message into a protocol.Frame. messageType is the
// gorilla/fasthttp-style constant reported alongside the message bytes.
//
// Returns (frame, nil) on success. Returns (zero, *gwerr.Outcome) otherwise: a
// non-text/binary message type (ping/pong/close) yields an Ignore outcome; a text
// message under the MsgPack format yields a Close outcome with code 1007; a
// deserialization failure yields a Close outcome, per the codec's fatal-decode-error
// contract.
func (c Codec) Decode(messageType int, data []byte) (protocol.Frame, error) {
	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return protocol.Frame{}, gwerr.Ignore(fmt.Errorf("codec: non-data message type %d", messageType))
	}
	if c.format == FormatMsgPack && messageType != websocket.BinaryMessage {
		return protocol.Frame{}, gwerr.CloseErr(gwerr.CodeInvalidPayload, fmt.Errorf("%w: msgpack format expects binary frames", gwerr.ErrDecodeError))
	}

	var frame protocol.Frame
	var err error
	switch c.format {
	case FormatMsgPack:
		err = wire.Decode(data, &frame)
	default:
		err = json.Unmarshal(data, &frame)
	}
	if err != nil {
		return protocol.Frame{}, gwerr.CloseErr(gwerr.CodeUnsupportedData, fmt.Errorf("%w: %s", gwerr.ErrDecodeError, err))
	}
	return frame, nil
}

// DecodeInto decodes a Frame.Data payload into v. Frame.Data is always JSON text
// (json.RawMessage's own contract), regardless of the negotiated format: Decode above
// normalizes MsgPack frames to JSON-encoded Data via the same transcode wire.Decode
// uses, so the payload only ever needs a plain JSON unmarshal here.
func (c Codec) DecodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return gwerr.CloseErr(gwerr.CodeUnsupportedData, fmt.Errorf("%w: %s", gwerr.ErrDecodeError, err))
	}
	return nil
}
