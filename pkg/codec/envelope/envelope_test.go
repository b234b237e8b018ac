package envelope

import (
	"testing"

	"github.com/aurasync/core/pkg/protocol"
)

func TestRoundTripClientHello(t *testing.T) {
	hello := &protocol.ClientHello{
		ClientID:       "c1",
		Name:           "test-client",
		Version:        1,
		SupportedRoles: []string{protocol.RolePlayer},
		PlayerSupport: &protocol.PlayerSupport{
			SupportedFormats: []protocol.SupportedFormat{
				{Codec: protocol.CodecOpus, Channels: 2, SampleRate: 48000},
			},
			BufferCapacity:    1024,
			SupportedCommands: []string{"volume"},
		},
	}
	data, err := Encode(protocol.TypeClientHello, hello)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := As[protocol.ClientHello](msg)
	if !ok {
		t.Fatalf("expected *ClientHello, got %T", msg.Payload)
	}
	if got.ClientID != hello.ClientID || got.PlayerSupport.SupportedFormats[0].Codec != protocol.CodecOpus {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestUnknownTypeIsIgnoredNotError(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"vendor/extension","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("unknown type must not error, got %v", err)
	}
	if msg.Recognized() {
		t.Fatal("unknown type must not be Recognized")
	}
	if msg.Type != "vendor/extension" {
		t.Fatalf("expected type preserved, got %q", msg.Type)
	}
}

func TestMissingTypeIsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	var perr *protocol.Error
	if err == nil {
		t.Fatal("expected error")
	}
	if !asProtocolError(err, &perr) || perr.Kind != protocol.KindMalformedMessage {
		t.Fatalf("expected MalformedMessage, got %v", err)
	}
}

func TestInvalidJSONIsMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	var perr *protocol.Error
	if !asProtocolError(err, &perr) || perr.Kind != protocol.KindMalformedMessage {
		t.Fatalf("expected MalformedMessage, got %v", err)
	}
}

func TestPrescanTypeDoesNotDecodePayload(t *testing.T) {
	typ, err := PrescanType([]byte(`{"type":"client/time","payload":{"client_transmitted":123}}`))
	if err != nil {
		t.Fatal(err)
	}
	if typ != protocol.TypeClientTime {
		t.Fatalf("expected %q, got %q", protocol.TypeClientTime, typ)
	}
}

func TestTolerantNumericDecode(t *testing.T) {
	// client_transmitted sent as a JSON float with no fractional part.
	msg, err := Decode([]byte(`{"type":"client/time","payload":{"client_transmitted":1000000.0}}`))
	if err != nil {
		t.Fatal(err)
	}
	ct, ok := As[protocol.ClientTime](msg)
	if !ok || ct.ClientTransmitted != 1000000 {
		t.Fatalf("expected tolerant numeric decode, got %+v ok=%v", ct, ok)
	}
}

func asProtocolError(err error, target **protocol.Error) bool {
	if pe, ok := err.(*protocol.Error); ok {
		*target = pe
		return true
	}
	return false
}
