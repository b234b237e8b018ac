// Package protocol defines the wire-level data model for the synchronized
// multi-room audio protocol: envelope message types and payloads, audio
// format descriptors, and group/playback state.
package protocol

import "github.com/aurasync/core/internal/optional"

// Envelope message type strings.
const (
	TypeClientHello           = "client/hello"
	TypeServerHello           = "server/hello"
	TypeClientGoodbye         = "client/goodbye"
	TypeClientTime            = "client/time"
	TypeServerTime            = "server/time"
	TypeStreamStart           = "stream/start"
	TypeStreamEnd             = "stream/end"
	TypeStreamClear           = "stream/clear"
	TypeStreamRequestFormat   = "stream/request-format"
	TypeGroupUpdate           = "group/update"
	TypeServerState           = "server/state"
	TypeClientState           = "client/state"
	TypeClientCommand         = "client/command"
	TypeServerCommand         = "server/command"
	TypeClientSyncOffset      = "client/sync_offset"
	TypeClientSyncOffsetAck   = "client/sync_offset_ack"
)

// Role identifiers a client may advertise in client/hello.
const (
	RolePlayer      = "player"
	RoleController  = "controller"
	RoleMetadata    = "metadata"
	RoleArtwork     = "artwork"
	RoleVisualizer  = "visualizer"
)

// Codec identifiers.
const (
	CodecOpus = "opus"
	CodecFLAC = "flac"
	CodecPCM  = "pcm"
)

// SupportedFormat describes one codec/rate/channel/depth combination a
// client can accept, advertised in client/hello.
type SupportedFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth,omitempty"`
}

// PlayerSupport is the player-role capability block of client/hello.
type PlayerSupport struct {
	SupportedFormats   []SupportedFormat `json:"supported_formats"`
	BufferCapacity     int               `json:"buffer_capacity"`
	SupportedCommands  []string          `json:"supported_commands"`
}

// DeviceInfo optionally identifies the client's hardware/software.
type DeviceInfo struct {
	ProductName     string `json:"product_name,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
}

// ClientHello is the client/hello payload (C->S).
type ClientHello struct {
	ClientID         string         `json:"client_id"`
	Name             string         `json:"name"`
	Version          int            `json:"version"`
	SupportedRoles   []string       `json:"supported_roles"`
	PlayerSupport    *PlayerSupport `json:"player_support,omitempty"`
	ArtworkSupport   map[string]any `json:"artwork_support,omitempty"`
	DeviceInfo       *DeviceInfo    `json:"device_info,omitempty"`
}

// ServerHello is the server/hello payload (S->C).
type ServerHello struct {
	ServerID         string   `json:"server_id"`
	Name             string   `json:"name,omitempty"`
	Version          int      `json:"version"`
	ActiveRoles      []string `json:"active_roles"`
	ConnectionReason string   `json:"connection_reason,omitempty"`
}

// ClientGoodbye is the client/goodbye payload (C->S).
type ClientGoodbye struct {
	Reason string `json:"reason"`
}

// ClientTime is the client/time payload (C->S).
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

// ServerTime is the server/time payload (S->C).
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// AudioFormat describes a negotiated audio stream.
type AudioFormat struct {
	Codec        string `json:"codec"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	BitDepth     *int   `json:"bit_depth,omitempty"`
	Bitrate      *int   `json:"bitrate,omitempty"`
	CodecHeader  []byte `json:"codec_header,omitempty"`
}

// StreamStart is the stream/start payload (S->C).
type StreamStart struct {
	Player AudioFormat `json:"player"`
}

// StreamEnd is the stream/end payload (S->C).
type StreamEnd struct {
	Reason   string `json:"reason,omitempty"`
	StreamID string `json:"stream_id,omitempty"`
}

// StreamClear is the stream/clear payload (S->C).
type StreamClear struct {
	StreamID         string `json:"stream_id,omitempty"`
	TargetTimestamp  *int64 `json:"target_timestamp,omitempty"`
}

// StreamRequestFormat is the stream/request-format payload (C->S).
type StreamRequestFormat struct {
	Format   AudioFormat `json:"format"`
	StreamID string      `json:"stream_id,omitempty"`
}

// GroupUpdate is the group/update payload (S->C) — a partial, field-wise
// merge into the client's GroupState.
type GroupUpdate struct {
	GroupID       string                    `json:"group_id"`
	GroupName     optional.Field[string]    `json:"group_name,omitempty"`
	PlaybackState optional.Field[string]    `json:"playback_state,omitempty"`
}

// TrackProgress describes playback position within the current track.
type TrackProgress struct {
	TrackProgress  float64 `json:"track_progress"`
	TrackDuration  float64 `json:"track_duration"`
	PlaybackSpeed  int     `json:"playback_speed"` // x1000
}

// Metadata is the metadata block of server/state.
type Metadata struct {
	Title       optional.Field[string]        `json:"title,omitempty"`
	Artist      optional.Field[string]        `json:"artist,omitempty"`
	AlbumArtist optional.Field[string]        `json:"album_artist,omitempty"`
	Album       optional.Field[string]        `json:"album,omitempty"`
	ArtworkURL  optional.Field[string]        `json:"artwork_url,omitempty"`
	Year        optional.Field[int]           `json:"year,omitempty"`
	Track       optional.Field[int]           `json:"track,omitempty"`
	Progress    optional.Field[TrackProgress] `json:"progress,omitempty"`
	Repeat      optional.Field[string]        `json:"repeat,omitempty"`
	Shuffle     optional.Field[bool]          `json:"shuffle,omitempty"`
}

// Controller is the controller block of server/state.
type Controller struct {
	SupportedCommands []string `json:"supported_commands"`
	Volume            int      `json:"volume"`
	Muted             bool     `json:"muted"`
}

// ServerState is the server/state payload (S->C).
type ServerState struct {
	Metadata   *Metadata   `json:"metadata,omitempty"`
	Controller *Controller `json:"controller,omitempty"`
}

// PlayerClientState is the player block of client/state.
type PlayerClientState struct {
	Volume      int    `json:"volume"`
	Muted       bool   `json:"muted"`
	BufferLevel int    `json:"buffer_level"`
	Error       string `json:"error,omitempty"`
}

// ClientState is the client/state payload (C->S).
type ClientState struct {
	State  string             `json:"state"` // synchronized | error | external_source
	Player *PlayerClientState `json:"player,omitempty"`
}

// ControllerCommand is the controller block of client/command.
type ControllerCommand struct {
	Command string `json:"command"`
	Volume  *int   `json:"volume,omitempty"`
	Mute    *bool  `json:"mute,omitempty"`
}

// ClientCommand is the client/command payload (C->S).
type ClientCommand struct {
	Controller ControllerCommand `json:"controller"`
}

// PlayerCommand is the player block of server/command.
type PlayerCommand struct {
	Command string `json:"command"`
	Volume  *int   `json:"volume,omitempty"`
	Mute    *bool  `json:"mute,omitempty"`
}

// ServerCommand is the server/command payload (S->C).
type ServerCommand struct {
	Player PlayerCommand `json:"player"`
}

// ClientSyncOffset is the client/sync_offset payload (C->S).
type ClientSyncOffset struct {
	PlayerID  string  `json:"player_id"`
	OffsetMS  float64 `json:"offset_ms"`
	Source    string  `json:"source,omitempty"`
	Timestamp *int64  `json:"timestamp,omitempty"`
}

// ClientSyncOffsetAck is the client/sync_offset_ack payload (C->S).
type ClientSyncOffsetAck struct {
	PlayerID       string  `json:"player_id"`
	AppliedOffsetMS float64 `json:"applied_offset_ms"`
	Success        bool    `json:"success"`
	Error          string  `json:"error,omitempty"`
}
