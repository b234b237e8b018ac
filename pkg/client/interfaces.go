// Package client implements the connection orchestrator: connect →
// handshake → adaptive time-sync loop → message dispatch, maintaining
// group state and driving the audio pipeline. External collaborators
// (audio output device, mDNS-style discovery, logging sinks) are declared
// here as Go interfaces only — no concrete binding ships in this module;
// the embedding application supplies one.
package client

import (
	"context"
	"time"

	"github.com/aurasync/core/pkg/audio/format"
	"github.com/aurasync/core/pkg/audio/pipeline"
)

// AudioOutputAdapter is the platform audio output device, out of scope for
// this module per its non-goals.
type AudioOutputAdapter interface {
	Initialize(format format.Format) error
	SetSampleSource(src SampleSource)
	Play() error
	Pause() error
	Stop() error
	Dispose() error
	OnStateChange(func(pipeline.State))
}

// SampleSource is the pull-based audio source an AudioOutputAdapter reads
// from — satisfied in production by pipelineSampleSource, which adapts
// *pipeline.Pipeline's Read to this signature.
type SampleSource interface {
	Read(buf []float32, offset, count int) (int, error)
}

// ServerInfo describes one discovered server.
type ServerInfo struct {
	ID      string
	Name    string
	Address string
	Port    int
}

// Discovery is the mDNS-style service discovery collaborator, out of scope
// for this module per its non-goals.
type Discovery interface {
	Start(ctx context.Context) error
	Stop() error
	Scan(ctx context.Context, timeout time.Duration) ([]ServerInfo, error)
	OnFound(func(ServerInfo))
	OnLost(func(ServerInfo))
	OnUpdated(func(ServerInfo))
}

// Logger is the structured-logging sink every component logs through —
// consumed via this interface rather than a concrete sink, per spec.
// internal/logging provides a zap-backed default implementation.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// pipelineSampleSource adapts *pipeline.Pipeline to SampleSource.
type pipelineSampleSource struct {
	p *pipeline.Pipeline
}

func (s pipelineSampleSource) Read(buf []float32, offset, count int) (int, error) {
	n := s.p.Read(buf[offset:offset+count], count)
	return n, nil
}
