// Package timedbuffer implements the timed audio buffer: the critical data
// structure sitting between decode and the resampler/output. It holds
// decoded samples tagged with the server playback timestamp of their first
// sample, written by the network-facing goroutine and read by the audio
// output path.
//
// There is no single teacher analog at this granularity; the ordered,
// threshold-flushed accumulation is generalized from
// inputAudioBuffer idiom in streamer.go (a mutex-guarded bytes.Buffer
// accumulating resampled audio, flushed once it crosses a size threshold)
// — here the accumulation unit is a timestamp-tagged run of float32 samples
// rather than an untagged byte blob, and draining is driven by wall-clock
// comparison instead of a size threshold.
package timedbuffer

import (
	"sync"

	"github.com/aurasync/core/pkg/clocksync"
)

// run is one contiguous span of samples tagged with the server timestamp
// of its first sample.
type run struct {
	samples         []float32
	serverTimestamp int64 // µs, timestamp of samples[0]
}

// durationUs returns the run's duration in microseconds given sampleRate
// and channels (samples is interleaved).
func (r run) durationUs(sampleRate, channels int) int64 {
	if channels == 0 || sampleRate == 0 {
		return 0
	}
	frames := len(r.samples) / channels
	return int64(frames) * 1_000_000 / int64(sampleRate)
}

// Stats reports buffer-level counters and state for observability.
type Stats struct {
	BufferedDurationUs int64
	SyncErrorMs        float64
	CoarseDrops        int
	CoarseInserts       int
	Reanchors          int
}

// Buffer is the single-producer/single-consumer timed sample buffer for
// one stream.
type Buffer struct {
	mu sync.Mutex

	sampleRate int
	channels   int
	preRollUs  int64
	toleranceUs int64
	reanchorThresholdUs int64
	syncErrorAlpha      float64

	runs []run

	syncErrorMs float64
	coarseDrops int
	coarseInserts int
	reanchors   int

	sync *clocksync.Synchronizer

	// ReanchorRequired fires after every Read step in which the smoothed
	// |sync_error| exceeds reanchorThresholdUs; there is no once-per-breach
	// latch, so it keeps firing until Clear resets the error. The pipeline
	// responds by clearing and returning to buffering.
	ReanchorRequired func()
}

// Option configures a Buffer at construction.
type Option func(*Buffer)

// WithPreRoll sets the minimum buffered duration (µs) before
// IsReadyForPlayback reports true. Default 100ms.
func WithPreRoll(us int64) Option { return func(b *Buffer) { b.preRollUs = us } }

// WithTolerance sets the fine-correction tolerance (µs) within which a run
// is considered "on time." Default 10ms.
func WithTolerance(us int64) Option { return func(b *Buffer) { b.toleranceUs = us } }

// WithReanchorThreshold sets the hard sync-error threshold (µs) beyond
// which ReanchorRequired fires. Default 200ms.
func WithReanchorThreshold(us int64) Option {
	return func(b *Buffer) { b.reanchorThresholdUs = us }
}

// New constructs a Buffer for a stream at sampleRate/channels, using sync
// for all timestamp conversions between server and client time.
func New(sampleRate, channels int, sync *clocksync.Synchronizer, opts ...Option) *Buffer {
	b := &Buffer{
		sampleRate:          sampleRate,
		channels:            channels,
		preRollUs:           100_000,
		toleranceUs:         10_000,
		reanchorThresholdUs: 200_000,
		syncErrorAlpha:      0.2,
		sync:                sync,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Write appends a run of interleaved samples tagged with the server
// timestamp of its first sample. Runs must arrive in non-decreasing
// timestamp order; an out-of-order run is dropped rather than violating
// the buffer's ordering invariant.
func (b *Buffer) Write(samples []float32, firstSampleServerTimestampUs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.runs) > 0 {
		last := b.runs[len(b.runs)-1]
		if firstSampleServerTimestampUs < last.serverTimestamp {
			return
		}
	}
	b.runs = append(b.runs, run{samples: samples, serverTimestamp: firstSampleServerTimestampUs})
}

// IsReadyForPlayback reports whether buffered duration has reached the
// pre-roll threshold.
func (b *Buffer) IsReadyForPlayback() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bufferedDurationUsLocked() >= b.preRollUs
}

func (b *Buffer) bufferedDurationUsLocked() int64 {
	var total int64
	for _, r := range b.runs {
		total += r.durationUs(b.sampleRate, b.channels)
	}
	return total
}

// Read fills out with n interleaved samples appropriate for rendering
// starting at nowClientUs, per the component's drop/insert/copy policy.
// It returns the number of samples written (always n; gaps are silence
// filled and excess is dropped internally).
func (b *Buffer) Read(out []float32, n int, nowClientUs int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for written < n {
		if len(b.runs) == 0 {
			// Underrun: silence-fill the remainder.
			for ; written < n; written++ {
				out[written] = 0
			}
			break
		}

		r := &b.runs[0]
		intendedServerTime := b.sync.ClientToServer(nowClientUs)
		runClientTime := b.sync.ServerToClient(r.serverTimestamp)
		// Positive = playing late (the run's client-mapped time is behind
		// now), negative = playing early (it's still in the future).
		errorUs := nowClientUs - runClientTime

		switch {
		case absInt64(errorUs) <= b.toleranceUs:
			// On time: copy as many samples as available, up to n-written.
			avail := len(r.samples)
			take := n - written
			if take > avail {
				take = avail
			}
			copy(out[written:written+take], r.samples[:take])
			written += take
			if take == avail {
				b.runs = b.runs[1:]
			} else {
				r.samples = r.samples[take:]
			}
			b.recordSyncError(errorUs)

		case errorUs < -b.toleranceUs:
			// Run is in the future beyond tolerance (playing early):
			// output silence for the gap rather than consuming samples.
			out[written] = 0
			written++
			b.coarseInserts++
			b.recordSyncError(errorUs)

		default:
			// Run is in the past beyond tolerance (playing late): drop
			// samples to catch up.
			dropFrames := int(errorUs * int64(b.sampleRate) / 1_000_000)
			dropSamples := dropFrames * b.channels
			if dropSamples <= 0 {
				dropSamples = b.channels
			}
			if dropSamples >= len(r.samples) {
				b.runs = b.runs[1:]
			} else {
				r.samples = r.samples[dropSamples:]
				r.serverTimestamp += int64(dropFrames) * 1_000_000 / int64(b.sampleRate)
			}
			b.coarseDrops++
			b.recordSyncError(errorUs)
		}

		_ = intendedServerTime
		b.maybeReanchorLocked()
	}
	return written
}

func (b *Buffer) recordSyncError(errorUs int64) {
	errorMs := float64(errorUs) / 1000
	b.syncErrorMs = b.syncErrorAlpha*errorMs + (1-b.syncErrorAlpha)*b.syncErrorMs
}

func (b *Buffer) maybeReanchorLocked() {
	if absFloat64(b.syncErrorMs*1000) <= float64(b.reanchorThresholdUs) {
		return
	}
	b.reanchors++
	cb := b.ReanchorRequired
	if cb != nil {
		// Release the lock before invoking the callback so it may safely
		// call back into Clear without self-deadlocking.
		b.mu.Unlock()
		cb()
		b.mu.Lock()
	}
}

// SyncErrorMs returns the EMA-smoothed sync error: positive means playing
// late, negative means playing early.
func (b *Buffer) SyncErrorMs() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncErrorMs
}

// Clear drops all buffered entries and resets anchoring/error state.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs = nil
	b.syncErrorMs = 0
}

// Stats reports the buffer's current counters and state.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		BufferedDurationUs: b.bufferedDurationUsLocked(),
		SyncErrorMs:        b.syncErrorMs,
		CoarseDrops:        b.coarseDrops,
		CoarseInserts:      b.coarseInserts,
		Reanchors:          b.reanchors,
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absFloat64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
