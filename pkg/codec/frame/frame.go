// Package frame implements the binary audio frame codec: a fixed 9-byte
// header (1 byte type, 8 byte big-endian timestamp in microseconds)
// followed by an opaque payload. Grounded on explicit
// byte-layout handling in default_audio_recorder.go's createWAVFile, which
// builds a binary header with binary.Write and binary.BigEndian/LittleEndian
// rather than a struct tag based codec — the same approach generalizes
// cleanly to a tiny fixed header with no further fields.
package frame

import (
	"encoding/binary"

	"github.com/aurasync/core/pkg/protocol"
)

// HeaderSize is the fixed header length: 1 type byte + 8 timestamp bytes.
const HeaderSize = 9

// Frame is a decoded binary frame.
type Frame struct {
	Type      byte
	Timestamp int64
	Payload   []byte
}

// Encode serializes a frame type, timestamp (microseconds), and payload into
// a single binary frame. The returned slice is freshly allocated.
func Encode(frameType byte, timestamp int64, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = frameType
	binary.BigEndian.PutUint64(buf[1:HeaderSize], uint64(timestamp))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Parse decodes a binary frame. data is not retained beyond the returned
// Frame.Payload, which aliases data's backing array — callers that need to
// hold onto it past the next read should copy it.
func Parse(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, protocol.Wrap(protocol.KindMalformedMessage,
			"binary frame shorter than header", nil)
	}
	return Frame{
		Type:      data[0],
		Timestamp: int64(binary.BigEndian.Uint64(data[1:HeaderSize])),
		Payload:   data[HeaderSize:],
	}, nil
}

// Category classifies Type via protocol.ClassifyFrameType.
func (f Frame) Category() (protocol.FrameCategory, int) {
	return protocol.ClassifyFrameType(f.Type)
}
