package decode

import (
	"fmt"

	"github.com/aurasync/core/pkg/audio/format"
	"github.com/aurasync/core/pkg/protocol"
)

// pcmMaxFrameSamples bounds the largest single PCM chunk this decoder
// expects, for caller-side buffer sizing — generous relative to the
// ~10-20ms runs the timed buffer deals in.
const pcmMaxFrameSamples = 48000 // 1s @ 48kHz, per channel

// pcmDecoder is a trivial bit-depth-aware little-endian unpacker; no
// external library is involved, so it is self-contained per the codec's
// own design.
type pcmDecoder struct {
	channels int
	bitDepth int
}

// NewPCM constructs a raw PCM decoder for f.
func NewPCM(f format.Format) (Decoder, error) {
	bitDepth := f.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, protocol.Wrap(protocol.KindUnsupportedFormat,
			fmt.Sprintf("pcm bit depth %d unsupported", bitDepth), nil)
	}
	return &pcmDecoder{channels: f.Channels, bitDepth: bitDepth}, nil
}

func (d *pcmDecoder) Decode(encoded []byte) ([]float32, error) {
	bytesPerSample := d.bitDepth / 8
	if len(encoded)%bytesPerSample != 0 {
		return nil, protocol.Wrap(protocol.KindDecodeError,
			fmt.Sprintf("pcm payload length %d not a multiple of sample width %d", len(encoded), bytesPerSample), nil)
	}
	n := len(encoded) / bytesPerSample
	out := make([]float32, n)
	switch d.bitDepth {
	case 16:
		for i := 0; i < n; i++ {
			v := int16(uint16(encoded[2*i]) | uint16(encoded[2*i+1])<<8)
			out[i] = float32(v) / float32(1<<15)
		}
	case 24:
		for i := 0; i < n; i++ {
			off := 3 * i
			raw := int32(encoded[off]) | int32(encoded[off+1])<<8 | int32(encoded[off+2])<<16
			if raw&0x800000 != 0 {
				raw |= -(1 << 24) // sign-extend
			}
			out[i] = float32(raw) / float32(1<<23)
		}
	case 32:
		for i := 0; i < n; i++ {
			off := 4 * i
			v := int32(uint32(encoded[off]) | uint32(encoded[off+1])<<8 | uint32(encoded[off+2])<<16 | uint32(encoded[off+3])<<24)
			out[i] = float32(v) / float32(1<<31)
		}
	}
	return out, nil
}

func (d *pcmDecoder) Reset() {}

func (d *pcmDecoder) MaxSamplesPerFrame() int { return pcmMaxFrameSamples * d.channels }
