// Package envelope implements the text message codec: the
// {"type":"...","payload":{...}} framing used by every non-binary message
// in the protocol. The shape mirrors a WSRequest/WSResponse
// pair (envelope.Type + json.RawMessage payload, deferred-decoded per
// message type) generalized from a single bespoke type switch to a
// registry keyed by the recognized type strings in protocol.Type*.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/aurasync/core/pkg/protocol"
)

// raw is the wire shape: type plus a deferred-decode payload.
type raw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message is a decoded envelope: Type identifies which protocol.* struct
// Payload was deserialized into.
type Message struct {
	Type    string
	Payload any
}

// PrescanType returns only the "type" field of a text message without
// allocating or decoding the payload — used to route dispatch before
// committing to a full decode.
func PrescanType(data []byte) (string, error) {
	var t struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return "", protocol.Wrap(protocol.KindMalformedMessage, "prescan failed", err)
	}
	if t.Type == "" {
		return "", protocol.Wrap(protocol.KindMalformedMessage, "missing type field", nil)
	}
	return t.Type, nil
}

// payloadFactory returns a fresh pointer to the payload struct for a
// recognized type. Unknown types are not registered here;
// unknown `type` values are ignored for forward compatibility, not errors.
var payloadFactory = map[string]func() any{
	protocol.TypeClientHello:         func() any { return &protocol.ClientHello{} },
	protocol.TypeServerHello:         func() any { return &protocol.ServerHello{} },
	protocol.TypeClientGoodbye:       func() any { return &protocol.ClientGoodbye{} },
	protocol.TypeClientTime:          func() any { return &protocol.ClientTime{} },
	protocol.TypeServerTime:          func() any { return &protocol.ServerTime{} },
	protocol.TypeStreamStart:         func() any { return &protocol.StreamStart{} },
	protocol.TypeStreamEnd:           func() any { return &protocol.StreamEnd{} },
	protocol.TypeStreamClear:         func() any { return &protocol.StreamClear{} },
	protocol.TypeStreamRequestFormat: func() any { return &protocol.StreamRequestFormat{} },
	protocol.TypeGroupUpdate:         func() any { return &protocol.GroupUpdate{} },
	protocol.TypeServerState:         func() any { return &protocol.ServerState{} },
	protocol.TypeClientState:         func() any { return &protocol.ClientState{} },
	protocol.TypeClientCommand:       func() any { return &protocol.ClientCommand{} },
	protocol.TypeServerCommand:       func() any { return &protocol.ServerCommand{} },
	protocol.TypeClientSyncOffset:    func() any { return &protocol.ClientSyncOffset{} },
	protocol.TypeClientSyncOffsetAck: func() any { return &protocol.ClientSyncOffsetAck{} },
}

// Decode parses a text frame into a Message. Unknown types decode with a
// nil Payload and no error — callers should check Recognized before acting.
// Unparseable JSON or a missing type is *protocol.Error{Kind: KindMalformedMessage}.
func Decode(data []byte) (Message, error) {
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return Message{}, protocol.Wrap(protocol.KindMalformedMessage, "invalid envelope JSON", err)
	}
	if r.Type == "" {
		return Message{}, protocol.Wrap(protocol.KindMalformedMessage, "missing type field", nil)
	}

	factory, known := payloadFactory[r.Type]
	if !known {
		return Message{Type: r.Type}, nil
	}

	payload := factory()
	if len(r.Payload) > 0 {
		normalized, err := tolerantNumerics(r.Payload)
		if err != nil {
			return Message{}, protocol.Wrap(protocol.KindMalformedMessage,
				fmt.Sprintf("invalid payload for type %q", r.Type), err)
		}
		if err := json.Unmarshal(normalized, payload); err != nil {
			return Message{}, protocol.Wrap(protocol.KindMalformedMessage,
				fmt.Sprintf("invalid payload for type %q", r.Type), err)
		}
	}
	return Message{Type: r.Type, Payload: payload}, nil
}

// tolerantNumerics rewrites whole-valued JSON float literals (e.g.
// "1000000.0") in data into bare integer literals ("1000000") so they
// decode cleanly into int64 struct fields — encoding/json otherwise
// rejects a fractional literal against an integer destination even when
// the fraction is zero. Fields legitimately typed float64 are unaffected:
// an integer literal unmarshals into a float just fine either way. This
// gives every payload field the "numeric sent as either integer or
// float" tolerance the codec promises, without a per-field custom
// UnmarshalJSON for each int64 wire field.
func tolerantNumerics(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeNumbers(v))
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, vv := range x {
			x[k] = normalizeNumbers(vv)
		}
		return x
	case []any:
		for i, vv := range x {
			x[i] = normalizeNumbers(vv)
		}
		return x
	case json.Number:
		if f, err := x.Float64(); err == nil && !math.IsInf(f, 0) && f == math.Trunc(f) {
			return json.Number(strconv.FormatInt(int64(f), 10))
		}
		return x
	default:
		return x
	}
}

// Recognized reports whether Decode produced a typed payload for m.
func (m Message) Recognized() bool { return m.Payload != nil }

// Encode serializes a known type string and payload into an envelope.
func Encode(msgType string, payload any) ([]byte, error) {
	r := raw{Type: msgType}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for type %q: %w", msgType, err)
		}
		r.Payload = b
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope for type %q: %w", msgType, err)
	}
	return data, nil
}

// As type-asserts m.Payload to *T, returning false if it doesn't match —
// the generic counterpart to a per-case json.Unmarshal(resp.Data, &x)
// idiom, here the assertion replaces a second unmarshal since Decode already
// produced the concrete type.
func As[T any](m Message) (*T, bool) {
	v, ok := m.Payload.(*T)
	return v, ok
}
