package resample

import (
	"math"
	"sync"
)

// Playback-rate bounds and coalescing threshold. Beyond ±4% the pitch
// shift becomes audibly distorting; rate changes smaller than the
// threshold are ignored to avoid churning the engine's filter state.
const (
	MinPlaybackRate        = 0.96
	MaxPlaybackRate        = 1.04
	rateCoalesceThreshold  = 0.0001 // ~0.01%
)

// Source is the upstream sample provider the resampler pulls from — the
// timed buffer in production use.
type Source interface {
	// Read fills out with up to len(out) samples, returning the count
	// actually written. A short read signals underrun.
	Read(out []float32) int
}

// Stats reports resampler-level counters.
type Stats struct {
	Underruns int
}

// Resampler combines source->target sample-rate conversion with continuous
// playback-rate nudging in one filter stage.
type Resampler struct {
	mu sync.Mutex

	source     Source
	sourceRate int
	targetRate int
	channels   int

	playbackRate float64
	eng          engine
	stats        Stats

	newEngine func(sourceRate, targetRate, channels int) (engine, error)
}

// New constructs a Resampler converting from sourceRate to targetRate for
// channels interleaved channels, starting at playback rate 1.0.
func New(sourceRate, targetRate, channels int) (*Resampler, error) {
	r := &Resampler{
		sourceRate:   sourceRate,
		targetRate:   targetRate,
		channels:     channels,
		playbackRate: 1.0,
		newEngine:    newTphakalaEngine,
	}
	eng, err := r.newEngine(sourceRate, targetRate, channels)
	if err != nil {
		return nil, err
	}
	r.eng = eng
	return r, nil
}

// SetSource assigns the upstream sample provider.
func (r *Resampler) SetSource(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = s
}

// SetPlaybackRate sets the fine-grained playback-rate nudge, clamped to
// [MinPlaybackRate, MaxPlaybackRate]. Changes smaller than
// rateCoalesceThreshold relative to the current rate are ignored.
func (r *Resampler) SetPlaybackRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rate < MinPlaybackRate {
		rate = MinPlaybackRate
	} else if rate > MaxPlaybackRate {
		rate = MaxPlaybackRate
	}
	if math.Abs(rate-r.playbackRate) < rateCoalesceThreshold {
		return
	}
	r.playbackRate = rate
	r.eng.SetRatio(r.combinedRatioLocked())
}

func (r *Resampler) combinedRatioLocked() float64 {
	return float64(r.sourceRate) / float64(r.targetRate) * r.playbackRate
}

// Read produces exactly n interleaved samples into out (len(out) must be
// >= n), pulling source samples in proportion to the combined
// source->target/playback ratio. Source underrun is zero-padded and
// counted in Stats().Underruns.
func (r *Resampler) Read(out []float32, n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ratio := r.combinedRatioLocked()
	wantSource := int(math.Ceil(float64(n) * ratio))
	if wantSource < 1 {
		wantSource = 1
	}

	sourceBuf := make([]float32, wantSource)
	got := 0
	if r.source != nil {
		got = r.source.Read(sourceBuf)
	}
	if got < wantSource {
		r.stats.Underruns++
		for i := got; i < wantSource; i++ {
			sourceBuf[i] = 0
		}
	}

	converted := r.eng.Process(sourceBuf)
	copied := copy(out[:n], converted)
	for i := copied; i < n; i++ {
		out[i] = 0
	}
	return n
}

// Stats returns the resampler's current counters.
func (r *Resampler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Reset clears the underlying engine's filter history, used after a
// coarse re-anchor.
func (r *Resampler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eng.Reset()
}
