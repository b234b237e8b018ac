package client

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aurasync/core/pkg/clocksync"
	"github.com/aurasync/core/pkg/protocol"
)

var validate = validator.New()

// Config enumerates the client's configuration surface, validated the
// way AppConfig is elsewhere in this stack: struct tags checked
// by a single shared go-playground/validator instance rather than
// hand-rolled field checks.
type Config struct {
	// ClientID and Name identify this client in client/hello.
	ClientID string `validate:"required"`
	Name     string `validate:"required"`

	// SupportedRoles lists the roles advertised in client/hello
	// ("player", "controller", "metadata", "artwork", "visualizer").
	SupportedRoles []string `validate:"required,min=1,dive,oneof=player controller metadata artwork visualizer"`

	// SupportedFormats is this client's player capability list. Entries
	// are reordered so PreferredCodec sorts first in client/hello.
	SupportedFormats []protocol.SupportedFormat `validate:"omitempty,dive"`
	BufferCapacity   int
	DeviceInfo       *protocol.DeviceInfo

	// PreferredCodec orders the advertised format list; "opus" or "flac".
	PreferredCodec string `validate:"omitempty,oneof=opus flac"`

	MaxReconnectAttempts       int     // -1 = unlimited
	ReconnectInitialDelayMs    int     `validate:"min=0"`
	ReconnectMaxDelayMs        int     `validate:"min=0"`
	ReconnectBackoffMultiplier float64 `validate:"min=1"`
	ConnectTimeoutMs           int     `validate:"min=1"`
	KeepaliveIntervalMs        int     // 0 disables
	ReceiveBufferSize          int
	AutoReconnect              bool

	BufferPrerollMs   int `validate:"min=0"`
	ConvergenceWaitMs int `validate:"min=0"`

	KalmanQOffset float64 `validate:"min=0"`
	KalmanQDrift  float64 `validate:"min=0"`
	KalmanR0      float64 `validate:"min=0"`

	// OutputSampleRate is the native rate the device audio output
	// expects; the resampler converts every negotiated stream to it.
	OutputSampleRate int `validate:"min=1"`
}

// DefaultConfig returns sensible defaults for every option. An empty
// clientID is replaced with a freshly generated UUID, the same way a
// session store mints an identifier when the caller doesn't supply one
// of its own.
func DefaultConfig(clientID, name string) Config {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return Config{
		ClientID:                   clientID,
		Name:                       name,
		SupportedRoles:             []string{protocol.RolePlayer},
		SupportedFormats:           defaultSupportedFormats,
		BufferCapacity:             1 << 20,
		PreferredCodec:             protocol.CodecOpus,
		MaxReconnectAttempts:       -1,
		ReconnectInitialDelayMs:    1000,
		ReconnectMaxDelayMs:        30000,
		ReconnectBackoffMultiplier: 2.0,
		ConnectTimeoutMs:           10000,
		KeepaliveIntervalMs:        0,
		ReceiveBufferSize:          64 * 1024,
		AutoReconnect:              true,
		BufferPrerollMs:            100,
		ConvergenceWaitMs:          3000,
		KalmanQOffset:              clocksync.DefaultQOffset,
		KalmanQDrift:               clocksync.DefaultQDrift,
		KalmanR0:                   clocksync.DefaultR0,
		OutputSampleRate:           48000,
	}
}

var defaultSupportedFormats = []protocol.SupportedFormat{
	{Codec: protocol.CodecOpus, Channels: 2, SampleRate: 48000},
	{Codec: protocol.CodecFLAC, Channels: 2, SampleRate: 48000, BitDepth: 16},
	{Codec: protocol.CodecPCM, Channels: 2, SampleRate: 48000, BitDepth: 16},
}

// Validate checks the config against its struct tags.
func (c Config) Validate() error {
	return validate.Struct(c)
}

func (c Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c Config) bufferPrerollUs() int64 {
	return int64(c.BufferPrerollMs) * 1000
}

func (c Config) convergenceWait() time.Duration {
	return time.Duration(c.ConvergenceWaitMs) * time.Millisecond
}

// orderedSupportedFormats returns SupportedFormats with PreferredCodec's
// entries moved to the front ("supported codecs, preferred
// first").
func (c Config) orderedSupportedFormats() []protocol.SupportedFormat {
	formats := c.SupportedFormats
	if formats == nil {
		formats = defaultSupportedFormats
	}
	if c.PreferredCodec == "" {
		return formats
	}
	ordered := make([]protocol.SupportedFormat, 0, len(formats))
	var rest []protocol.SupportedFormat
	for _, f := range formats {
		if f.Codec == c.PreferredCodec {
			ordered = append(ordered, f)
		} else {
			rest = append(rest, f)
		}
	}
	return append(ordered, rest...)
}
