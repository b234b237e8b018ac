// Package resample implements the dynamic resampler: source-rate to
// target-rate conversion combined with continuous, small playback-rate
// nudging in a single filter stage, so corrective retiming never stacks a
// second resampler on top of the format conversion.
package resample

import (
	tphakala "github.com/tphakala/go-audio-resampler"
)

// engine is the narrow surface this package needs from the underlying
// windowed-sinc resampler, isolated to this file the way a
// internal_type.AudioResampler façade isolates its own
// internal_audio_resampler.GetResampler implementation from every caller
// (streamer.go, grpc_streamer.go, and the telephony base streamer all code
// against the façade, never the concrete library).
type engine interface {
	// Process converts in (interleaved float32, the engine's configured
	// source rate/ratio) into the engine's target-rate output.
	Process(in []float32) []float32
	// SetRatio updates the combined source->target * playback-rate ratio
	// without discarding the filter's internal history.
	SetRatio(ratio float64)
	// Reset clears interpolation history, used on a coarse re-anchor.
	Reset()
}

// tphakalaEngine adapts tphakala/go-audio-resampler to engine.
type tphakalaEngine struct {
	r        *tphakala.Resampler
	channels int
}

func newTphakalaEngine(sourceRate, targetRate, channels int) (engine, error) {
	r, err := tphakala.New(tphakala.Config{
		InputRate:  sourceRate,
		OutputRate: targetRate,
		Channels:   channels,
		Quality:    tphakala.QualityHigh,
	})
	if err != nil {
		return nil, err
	}
	return &tphakalaEngine{r: r, channels: channels}, nil
}

func (e *tphakalaEngine) Process(in []float32) []float32 {
	out, _ := e.r.ProcessFloat32(in)
	return out
}

func (e *tphakalaEngine) SetRatio(ratio float64) {
	e.r.SetRatio(ratio)
}

func (e *tphakalaEngine) Reset() {
	e.r.Reset()
}
