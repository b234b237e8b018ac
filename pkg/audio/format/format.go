// Package format defines the codec-agnostic audio format descriptor shared
// across decoders, the resampler, and the pipeline — distinct from
// protocol.AudioFormat, which is the wire DTO negotiated over the envelope
// codec. Format is the internal, always-fully-resolved counterpart built
// from a negotiated protocol.AudioFormat.
package format

import "github.com/aurasync/core/pkg/protocol"

// Format describes one negotiated audio stream.
type Format struct {
	Codec       string
	SampleRate  int
	Channels    int
	BitDepth    int // 0 if not applicable to Codec
	Bitrate     int // 0 if unknown
	CodecHeader []byte
}

// FromProtocol converts a wire-level protocol.AudioFormat into a Format,
// resolving its nullable fields to zero values when absent.
func FromProtocol(pf protocol.AudioFormat) Format {
	f := Format{
		Codec:      pf.Codec,
		SampleRate: pf.SampleRate,
		Channels:   pf.Channels,
		CodecHeader: pf.CodecHeader,
	}
	if pf.BitDepth != nil {
		f.BitDepth = *pf.BitDepth
	}
	if pf.Bitrate != nil {
		f.Bitrate = *pf.Bitrate
	}
	return f
}

// BytesPerSample returns the PCM sample width in bytes implied by BitDepth,
// defaulting to 2 (16-bit) when BitDepth is unset — the common case for
// opus/flac output and the protocol's PCM fallback.
func (f Format) BytesPerSample() int {
	if f.BitDepth <= 0 {
		return 2
	}
	return f.BitDepth / 8
}
