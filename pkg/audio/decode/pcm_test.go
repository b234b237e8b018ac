package decode

import (
	"math"
	"testing"

	"github.com/aurasync/core/pkg/audio/format"
)

func TestPCM16Decode(t *testing.T) {
	d, err := NewPCM(format.Format{Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	// int16 max and -1, little-endian.
	encoded := []byte{0xFF, 0x7F, 0xFF, 0xFF}
	out, err := d.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if math.Abs(float64(out[0])-1.0) > 1e-4 {
		t.Fatalf("sample 0 = %v, want ~1.0", out[0])
	}
	wantNeg := -1.0 / 32768.0
	if math.Abs(float64(out[1])-wantNeg) > 1e-6 {
		t.Fatalf("sample 1 = %v, want %v", out[1], wantNeg)
	}
}

func TestPCM24DecodeSignExtension(t *testing.T) {
	d, err := NewPCM(format.Format{Channels: 1, BitDepth: 24})
	if err != nil {
		t.Fatal(err)
	}
	// -1 in 24-bit little-endian two's complement: FF FF FF.
	out, err := d.Decode([]byte{0xFF, 0xFF, 0xFF})
	if err != nil {
		t.Fatal(err)
	}
	wantNeg := -1.0 / float64(1<<23)
	if math.Abs(float64(out[0])-wantNeg) > 1e-9 {
		t.Fatalf("sample = %v, want %v", out[0], wantNeg)
	}
}

func TestPCMRejectsMisalignedPayload(t *testing.T) {
	d, _ := NewPCM(format.Format{Channels: 1, BitDepth: 16})
	if _, err := d.Decode([]byte{0x01}); err == nil {
		t.Fatal("expected error for odd-length 16-bit payload")
	}
}

func TestPCMRejectsUnsupportedBitDepth(t *testing.T) {
	if _, err := NewPCM(format.Format{Channels: 1, BitDepth: 8}); err == nil {
		t.Fatal("expected error for unsupported bit depth")
	}
}

func TestNewDecoderDispatchesByCodec(t *testing.T) {
	d, err := NewDecoder(format.Format{Codec: "pcm", Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatal(err)
	}
	if d.MaxSamplesPerFrame() <= 0 {
		t.Fatal("expected positive MaxSamplesPerFrame")
	}
}

func TestNewDecoderRejectsUnknownCodec(t *testing.T) {
	if _, err := NewDecoder(format.Format{Codec: "vorbis"}); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}
