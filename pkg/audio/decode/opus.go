package decode

import (
	"fmt"

	hrabanopus "gopkg.in/hraban/opus.v2"

	"github.com/aurasync/core/pkg/audio/format"
	"github.com/aurasync/core/pkg/protocol"
)

// maxOpusFrameMs bounds the largest Opus frame duration (RFC 6716 allows up
// to 120ms) used to size the per-call output buffer.
const maxOpusFrameMs = 120

// opusDecoder wraps gopkg.in/hraban/opus.v2, the Opus binding already used
// throughout a WebRTC-based voice channel for the same codec
// (webrtc_internal.OpusCodec in streamer.go), decoding straight to
// interleaved float32.
type opusDecoder struct {
	dec      *hrabanopus.Decoder
	channels int
	maxSamp  int
}

// NewOpus constructs an Opus decoder for f's sample rate and channel count.
func NewOpus(f format.Format) (Decoder, error) {
	dec, err := hrabanopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindUnsupportedFormat,
			fmt.Sprintf("opus decoder init (rate=%d channels=%d)", f.SampleRate, f.Channels), err)
	}
	maxSamp := f.SampleRate * maxOpusFrameMs / 1000 * f.Channels
	return &opusDecoder{dec: dec, channels: f.Channels, maxSamp: maxSamp}, nil
}

func (d *opusDecoder) Decode(encoded []byte) ([]float32, error) {
	out := make([]float32, d.maxSamp)
	n, err := d.dec.DecodeFloat32(encoded, out)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindDecodeError, "opus decode failed", err)
	}
	return out[:n*d.channels], nil
}

func (d *opusDecoder) Reset() {
	// hraban/opus has no explicit decoder reset; constructing fresh state
	// only matters across stream boundaries, handled by NewDecoder.
}

func (d *opusDecoder) MaxSamplesPerFrame() int { return d.maxSamp }
