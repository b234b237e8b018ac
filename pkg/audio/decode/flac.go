package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mewkiz/flac"

	"github.com/aurasync/core/pkg/audio/format"
	"github.com/aurasync/core/pkg/protocol"
)

// flacMaxBlockSize bounds the block size this decoder's synthesized
// STREAMINFO header declares. FLAC's own block-size field is 16 bits wide,
// but header synthesis here is only verified correct up to the protocol's
// practical frame size.
const flacMaxBlockSize = 16384

// flacDecoder wraps github.com/mewkiz/flac, adopted from the
// Resonate-protocol player example (the retrieval pack repo whose domain
// matches this one almost exactly) for exactly this role: mewkiz/flac
// expects a full FLAC stream (magic + STREAMINFO metadata block + frames),
// not bare frames, so a minimal STREAMINFO is synthesized once from the
// negotiated format and re-prepended to every incoming compressed frame.
type flacDecoder struct {
	header   []byte
	channels int
	bitDepth int
	maxSamp  int
}

// NewFLAC constructs a FLAC decoder for f.
func NewFLAC(f format.Format) (Decoder, error) {
	bitDepth := f.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	header, err := synthesizeStreamInfo(f.SampleRate, f.Channels, bitDepth)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindUnsupportedFormat, "flac header synthesis", err)
	}
	return &flacDecoder{
		header:   header,
		channels: f.Channels,
		bitDepth: bitDepth,
		maxSamp:  flacMaxBlockSize * f.Channels,
	}, nil
}

func (d *flacDecoder) Decode(encoded []byte) ([]float32, error) {
	full := make([]byte, 0, len(d.header)+len(encoded))
	full = append(full, d.header...)
	full = append(full, encoded...)

	stream, err := flac.New(bytes.NewReader(full))
	if err != nil {
		return nil, protocol.Wrap(protocol.KindDecodeError, "flac stream parse", err)
	}
	defer stream.Close()

	fr, err := stream.ParseNext()
	if err != nil {
		return nil, protocol.Wrap(protocol.KindDecodeError, "flac frame parse", err)
	}

	if len(fr.Subframes) == 0 {
		return nil, nil
	}
	nSamples := len(fr.Subframes[0].Samples)
	out := make([]float32, 0, nSamples*len(fr.Subframes))
	scale := float32(int64(1) << uint(d.bitDepth-1))
	for i := 0; i < nSamples; i++ {
		for _, sub := range fr.Subframes {
			out = append(out, float32(sub.Samples[i])/scale)
		}
	}
	return out, nil
}

func (d *flacDecoder) Reset() {}

func (d *flacDecoder) MaxSamplesPerFrame() int { return d.maxSamp }

// synthesizeStreamInfo builds a minimal "fLaC" marker plus a single
// STREAMINFO metadata block (marked last) sufficient for mewkiz/flac to
// begin parsing frames. Frame size and total sample count are left
// unknown (0, per the format's "unknown" convention); the MD5 checksum is
// left zeroed, which mewkiz/flac treats as "not provided."
func synthesizeStreamInfo(sampleRate, channels, bitDepth int) ([]byte, error) {
	if channels < 1 || channels > 8 {
		return nil, fmt.Errorf("flac: channels %d out of range", channels)
	}
	if bitDepth < 4 || bitDepth > 32 {
		return nil, fmt.Errorf("flac: bit depth %d out of range", bitDepth)
	}

	body := make([]byte, 34)
	pos := 0
	pos = writeBits(body, pos, 16, uint64(flacMaxBlockSize)) // min block size
	pos = writeBits(body, pos, 16, uint64(flacMaxBlockSize)) // max block size
	pos += 24                                                // min frame size: unknown (0)
	pos += 24                                                // max frame size: unknown (0)
	pos = writeBits(body, pos, 20, uint64(sampleRate))
	pos = writeBits(body, pos, 3, uint64(channels-1))
	pos = writeBits(body, pos, 5, uint64(bitDepth-1))
	pos += 36  // total samples: unknown (0)
	pos += 128 // md5: not provided (0)
	_ = pos

	var buf bytes.Buffer
	buf.WriteString("fLaC")
	buf.WriteByte(0x80) // last-metadata-block flag set, type 0 (STREAMINFO)
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, uint32(len(body)))
	buf.Write(lenBytes[1:]) // 24-bit big-endian length
	buf.Write(body)
	return buf.Bytes(), nil
}

// writeBits writes the low numBits bits of value into buf starting at bit
// offset bitOffset (MSB-first within each byte, matching FLAC's bitstream
// convention), returning the offset just past the written field. Only used
// here for numBits <= 64.
func writeBits(buf []byte, bitOffset, numBits int, value uint64) int {
	for i := numBits - 1; i >= 0; i-- {
		bit := (value >> uint(i)) & 1
		byteIdx := bitOffset / 8
		bitIdx := 7 - (bitOffset % 8)
		if bit == 1 {
			buf[byteIdx] |= 1 << uint(bitIdx)
		}
		bitOffset++
	}
	return bitOffset
}
