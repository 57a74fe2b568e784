// Package wire provides a single compact binary encoding used by three different
// components: the MsgPack codec format (C1), presence session records that must stay
// binary-stable across gateway processes (C3), and broker delivery payloads (C4). All
// three need the same thing — take an arbitrary JSON-taggable Go value, produce compact
// bytes, and get the value back — so they share one Encode/Decode pair instead of each
// hand-rolling MarshalMsg/UnmarshalMsg methods.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Encode transcodes v (anything encoding/json can marshal) into MessagePack bytes. It
// goes through an intermediate generic representation (map[string]interface{} /
// []interface{} / scalars) via msgp's AppendIntf rather than generated per-type
// MarshalMsg methods, so it works for any value without codegen.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal to intermediate form: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("wire: unmarshal to intermediate form: %w", err)
	}

	b, err := msgp.AppendIntf(nil, generic)
	if err != nil {
		return nil, fmt.Errorf("wire: append msgpack: %w", err)
	}
	return b, nil
}

// Decode transcodes MessagePack bytes produced by Encode back into v, which must be a
// pointer. Remaining trailing bytes in b (there should be none for values Encode
// produced) are ignored.
func Decode(b []byte, v any) error {
	generic, _, err := msgp.ReadIntfBytes(b)
	if err != nil {
		return fmt.Errorf("wire: read msgpack: %w", err)
	}

	raw, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("wire: marshal intermediate form: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("wire: unmarshal into destination: %w", err)
	}
	return nil
}
