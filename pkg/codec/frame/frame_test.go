package frame

import (
	"bytes"
	"testing"

	"github.com/aurasync/core/pkg/protocol"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		frameType byte
		ts        int64
		payload   []byte
	}{
		{"player audio slot 0", 4, 1_000_000, []byte{0xAA, 0xBB, 0xCC}},
		{"player audio slot 3", 7, 0, []byte{}},
		{"artwork channel 2", 10, 42, []byte{1, 2, 3, 4, 5}},
		{"visualizer slot 7", 23, -1, bytes.Repeat([]byte{0x7F}, 64)},
		{"application", 255, 1 << 40, []byte("hello")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.frameType, tc.ts, tc.payload)
			got, err := Parse(encoded)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != tc.frameType || got.Timestamp != tc.ts {
				t.Fatalf("got type=%d ts=%d, want type=%d ts=%d", got.Type, got.Timestamp, tc.frameType, tc.ts)
			}
			if !bytes.Equal(got.Payload, tc.payload) && !(len(got.Payload) == 0 && len(tc.payload) == 0) {
				t.Fatalf("payload mismatch: got %v want %v", got.Payload, tc.payload)
			}
		})
	}
}

func TestParseShortFrameIsMalformed(t *testing.T) {
	for i := 0; i < HeaderSize; i++ {
		_, err := Parse(make([]byte, i))
		var perr *protocol.Error
		if err == nil {
			t.Fatalf("len %d: expected error", i)
		}
		if pe, ok := err.(*protocol.Error); !ok || pe.Kind != protocol.KindMalformedMessage {
			t.Fatalf("len %d: expected MalformedMessage, got %v", i, err)
		}
		_ = perr
	}
}

// Exact byte vector from scenario S4.
func TestScenarioS4ExactBytes(t *testing.T) {
	data := []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0F, 0x42, 0x40, 0xAA, 0xBB, 0xCC}
	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != 4 {
		t.Fatalf("type = %d, want 4", f.Type)
	}
	if f.Timestamp != 1_000_000 {
		t.Fatalf("timestamp = %d, want 1000000", f.Timestamp)
	}
	if !bytes.Equal(f.Payload, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("payload = %v, want [AA BB CC]", f.Payload)
	}
	cat, slot := f.Category()
	if cat != protocol.CategoryPlayerAudio || slot != 0 {
		t.Fatalf("category = %v slot = %d, want PlayerAudio slot 0", cat, slot)
	}
}
