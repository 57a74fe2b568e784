package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire-format envelope for every client-facing WebSocket message.
// Dispatch frames (op 7) carry an event Type; control frames use only Op and Data.
type Frame struct {
	Op   Opcode          `json:"op"`
	Type EventType       `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// NewHelloFrame returns a Hello frame, sent immediately after the WebSocket upgrade.
func NewHelloFrame() Frame {
	return Frame{Op: OpcodeHello}
}

// NewPongFrame returns a Pong frame in reply to a client Ping.
func NewPongFrame() Frame {
	return Frame{Op: OpcodePong}
}

// NewReadyFrame returns a Ready frame carrying the assembled ReadyPayload.
func NewReadyFrame(payload ReadyPayload) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: marshal ready payload: %w", err)
	}
	return Frame{Op: OpcodeReady, Data: data}, nil
}

// NewPresenceUpdateFrame returns a PresenceUpdate frame reporting another user's
// presence change.
func NewPresenceUpdateFrame(p Presence) (Frame, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: marshal presence payload: %w", err)
	}
	return Frame{Op: OpcodePresenceUpdate, Data: data}, nil
}

// NewDispatchFrame returns a Dispatch frame forwarding a platform event of the given
// type, with data already encoded in the client's negotiated format's intermediate
// representation (raw JSON; the codec re-encodes it to MsgPack if negotiated).
func NewDispatchFrame(eventType EventType, data json.RawMessage) Frame {
	return Frame{Op: OpcodeDispatch, Type: eventType, Data: data}
}
