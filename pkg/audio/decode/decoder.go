// Package decode implements the codec-specific audio decoders: opus, flac,
// and pcm, each satisfying Decoder. Dispatch mirrors the switch-on-codec
// factory pattern (decode.NewPCM/NewOpus/NewFLAC) the Resonate-protocol
// player example uses in its handleStreamStart, generalized here into a
// single NewDecoder factory over format.Format.
package decode

import (
	"fmt"

	"github.com/aurasync/core/pkg/audio/format"
	"github.com/aurasync/core/pkg/protocol"
)

// Decoder turns codec-specific encoded frames into interleaved float32 PCM
// in [-1, 1]. A decode failure on one frame is non-fatal: callers should
// treat a returned error as "skip this chunk," not "abort the stream."
type Decoder interface {
	// Decode decodes one encoded frame into interleaved float32 samples.
	Decode(encoded []byte) ([]float32, error)
	// Reset clears codec state carried between frames, without requiring
	// a new Decoder. The FLAC and PCM decoders carry no such state, and
	// the Opus decoder's Reset is a no-op.
	Reset()
	// MaxSamplesPerFrame bounds the largest sample count Decode can
	// produce for one frame, for caller-side buffer sizing.
	MaxSamplesPerFrame() int
}

// NewDecoder constructs the Decoder for f.Codec, or an
// *protocol.Error{Kind: KindUnsupportedFormat} if no decoder recognizes it.
func NewDecoder(f format.Format) (Decoder, error) {
	switch f.Codec {
	case protocol.CodecOpus:
		return NewOpus(f)
	case protocol.CodecFLAC:
		return NewFLAC(f)
	case protocol.CodecPCM:
		return NewPCM(f)
	default:
		return nil, protocol.Wrap(protocol.KindUnsupportedFormat,
			fmt.Sprintf("no decoder for codec %q", f.Codec), nil)
	}
}
