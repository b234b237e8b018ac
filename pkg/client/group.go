package client

import "github.com/aurasync/core/pkg/protocol"

// PlaybackState is the group's playback lifecycle stage.
type PlaybackState string

const (
	PlaybackIdle    PlaybackState = "idle"
	PlaybackStopped PlaybackState = "stopped"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackError   PlaybackState = "error"
)

// GroupState is the client's resolved view of group/playback state, built
// from field-wise merges of group/update and server/state messages — the
// only writer is the orchestrator; readers get a snapshot via
// OnGroupChange.
type GroupState struct {
	GroupID       string
	Name          string
	PlaybackState PlaybackState

	Volume int
	Muted  bool

	Metadata GroupMetadata

	Shuffle bool
	Repeat  string

	SupportedCommands []string
}

// GroupMetadata is the resolved (non-optional) counterpart of
// protocol.Metadata, exposed to callers after merging.
type GroupMetadata struct {
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	ArtworkURL  string
	Year        int
	Track       int
	Progress    protocol.TrackProgress
}

// mergeGroupUpdate applies a group/update payload onto prior following
// Absent=keep, PresentNull=clear, PresentValue=replace semantics (spec
// §3, §9 "Partial vs absent fields").
func mergeGroupUpdate(prior GroupState, u protocol.GroupUpdate) GroupState {
	next := prior
	next.GroupID = u.GroupID
	next.Name = u.GroupName.Merge(prior.Name)
	next.PlaybackState = PlaybackState(u.PlaybackState.Merge(string(prior.PlaybackState)))
	return next
}

// mergeServerState applies a server/state payload's metadata and
// controller blocks onto prior.
func mergeServerState(prior GroupState, s protocol.ServerState) GroupState {
	next := prior
	if s.Metadata != nil {
		m := s.Metadata
		md := next.Metadata
		md.Title = m.Title.Merge(md.Title)
		md.Artist = m.Artist.Merge(md.Artist)
		md.AlbumArtist = m.AlbumArtist.Merge(md.AlbumArtist)
		md.Album = m.Album.Merge(md.Album)
		md.ArtworkURL = m.ArtworkURL.Merge(md.ArtworkURL)
		md.Year = m.Year.Merge(md.Year)
		md.Track = m.Track.Merge(md.Track)
		md.Progress = m.Progress.Merge(md.Progress)
		next.Metadata = md
		next.Repeat = m.Repeat.Merge(next.Repeat)
		next.Shuffle = m.Shuffle.Merge(next.Shuffle)
	}
	if s.Controller != nil {
		next.Volume = s.Controller.Volume
		next.Muted = s.Controller.Muted
		next.SupportedCommands = s.Controller.SupportedCommands
	}
	return next
}
