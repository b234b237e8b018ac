// Package pipeline drives a single audio stream's state machine: format
// negotiation, decode wiring, buffering, playback, and teardown. A Pipeline
// exclusively owns one decoder, one timed buffer, one resampler, and one
// externally supplied output adapter for the stream's lifetime.
//
// The overall shape — a base struct owning buffer/resampler/decoder wiring,
// configured via functional options, with concrete callers only supplying
// the pieces specific to their stream — is grounded on
// BaseTelephonyStreamer embedding channel_base.BaseStreamer and configuring
// it via TelephonyOption/channel_base.Option. Goroutine teardown (cancel
// then WaitGroup.Wait, guarded by the same mutex that protects the
// context) is grounded on webrtcStreamer's stopAudioProcessing/audioWg
// pattern.
package pipeline

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aurasync/core/pkg/audio/decode"
	"github.com/aurasync/core/pkg/audio/format"
	"github.com/aurasync/core/pkg/audio/resample"
	"github.com/aurasync/core/pkg/audio/timedbuffer"
	"github.com/aurasync/core/pkg/clock"
	"github.com/aurasync/core/pkg/clocksync"
	"github.com/aurasync/core/pkg/protocol"
)

// State is the pipeline's lifecycle stage.
type State int

const (
	Idle State = iota
	Starting
	Buffering
	Playing
	Stopping
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Buffering:
		return "Buffering"
	case Playing:
		return "Playing"
	case Stopping:
		return "Stopping"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// OutputAdapter is the external collaborator that actually renders audio.
// No concrete implementation ships in this module; the embedding
// application binds it to a real output device.
type OutputAdapter interface {
	// Open configures the device for the negotiated format.
	Open(sampleRate, channels, bitDepth int) error
	// Close releases the device.
	Close() error
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithConvergenceWait overrides how long Buffering waits for the clock
// synchronizer to converge before proceeding to Playing anyway. Default 3s.
func WithConvergenceWait(d time.Duration) Option {
	return func(p *Pipeline) { p.convergenceWait = d }
}

// WithPreRoll forwards to timedbuffer.WithPreRoll for the buffer this
// pipeline constructs in Start.
func WithPreRoll(us int64) Option {
	return func(p *Pipeline) { p.preRollUs = us }
}

// WithOutputAdapter supplies the external audio-output collaborator.
func WithOutputAdapter(out OutputAdapter) Option {
	return func(p *Pipeline) { p.output = out }
}

// Pipeline owns the decode -> timed buffer -> resample chain for a single
// stream and drives its state machine.
type Pipeline struct {
	mu    sync.Mutex
	state State

	sync *clocksync.Synchronizer
	clk  *clock.Clock

	decoder    decode.Decoder
	buffer     *timedbuffer.Buffer
	resampler  *resample.Resampler
	output     OutputAdapter
	outputRate int

	volume atomic.Uint32 // bit pattern of a float32 in [0,1]
	muted  atomic.Bool

	convergenceWait time.Duration
	preRollUs       int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnStateChange fires on every state transition.
	OnStateChange func(from, to State)
}

// New constructs an idle Pipeline bound to sync for all timestamp mapping
// and outputRate as the device's native sample rate.
func New(sync *clocksync.Synchronizer, outputRate int, opts ...Option) *Pipeline {
	p := &Pipeline{
		state:           Idle,
		sync:            sync,
		clk:             clock.Default(),
		outputRate:      outputRate,
		convergenceWait: 3 * time.Second,
		preRollUs:       100_000,
	}
	p.volume.Store(math.Float32bits(1.0))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start builds the decoder/buffer/resampler for f and transitions
// Idle/Error -> Starting -> Buffering.
func (p *Pipeline) Start(parent context.Context, f format.Format, targetTimestampUs int64) error {
	p.mu.Lock()
	if p.state != Idle && p.state != Error {
		p.mu.Unlock()
		return protocol.Wrap(protocol.KindUnsupportedFormat, "Start called outside Idle/Error", nil)
	}
	p.transitionLocked(Starting)
	p.mu.Unlock()

	dec, err := decode.NewDecoder(f)
	if err != nil {
		p.mu.Lock()
		p.transitionLocked(Error)
		p.mu.Unlock()
		return err
	}

	buf := timedbuffer.New(f.SampleRate, f.Channels, p.sync, timedbuffer.WithPreRoll(p.preRollUs))
	rs, err := resample.New(f.SampleRate, p.outputRate, f.Channels)
	if err != nil {
		p.mu.Lock()
		p.transitionLocked(Error)
		p.mu.Unlock()
		return protocol.Wrap(protocol.KindUnsupportedFormat, "resampler init", err)
	}
	rs.SetSource(bufferSource{buf: buf, clk: p.clk})

	if p.output != nil {
		if err := p.output.Open(p.outputRate, f.Channels, f.BitDepth); err != nil {
			p.mu.Lock()
			p.transitionLocked(Error)
			p.mu.Unlock()
			return protocol.Wrap(protocol.KindTransport, "output adapter open", err)
		}
	}

	buf.ReanchorRequired = p.onReanchorRequired

	p.mu.Lock()
	p.decoder = dec
	p.buffer = buf
	p.resampler = rs
	p.ctx, p.cancel = context.WithCancel(parent)
	p.transitionLocked(Buffering)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runBufferingWatch()

	return nil
}

// runBufferingWatch waits for the buffer to reach pre-roll and the clock
// synchronizer to converge (or the bounded wait to elapse) before
// transitioning to Playing.
func (p *Pipeline) runBufferingWatch() {
	defer p.wg.Done()

	ctx := p.ctx
	deadline := time.Now().Add(p.convergenceWait)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.state != Buffering {
			p.mu.Unlock()
			return
		}
		ready := p.buffer.IsReadyForPlayback()
		converged := p.sync.IsConverged()
		p.mu.Unlock()

		if ready && converged {
			p.mu.Lock()
			if p.state == Buffering {
				p.transitionLocked(Playing)
				p.wg.Add(1)
				go p.runRateCorrection()
			}
			p.mu.Unlock()
			return
		}
		if ready && time.Now().After(deadline) {
			p.mu.Lock()
			if p.state == Buffering {
				p.transitionLocked(Playing)
				p.wg.Add(1)
				go p.runRateCorrection()
			}
			p.mu.Unlock()
			return
		}
	}
}

// rateCorrectionGain converts milliseconds of sync error into a playback
// rate nudge: playing late (positive error) speeds up slightly to catch
// up, playing early (negative error) slows down. The resampler itself
// clamps the result to [MinPlaybackRate, MaxPlaybackRate].
const rateCorrectionGain = 0.002 // rate units per ms of sync error

// runRateCorrection continuously nudges the resampler's playback rate
// from the buffer's smoothed sync error while Playing — the fine-grained
// correction this buffer's error feeds into, as an alternative to a coarse re-anchor.
// Re-anchoring (buffer.ReanchorRequired) remains the fallback for gaps
// this loop can't close fast enough.
func (p *Pipeline) runRateCorrection() {
	defer p.wg.Done()

	ctx := p.ctx
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if p.state != Playing {
			p.mu.Unlock()
			return
		}
		buf, rs := p.buffer, p.resampler
		p.mu.Unlock()
		if buf == nil || rs == nil {
			continue
		}

		errMs := buf.SyncErrorMs()
		rs.SetPlaybackRate(1.0 + errMs*rateCorrectionGain)
	}
}

// WriteChunk decodes one encoded audio frame and appends it to the timed
// buffer. A decode error on this chunk is non-fatal and simply skipped.
func (p *Pipeline) WriteChunk(encoded []byte, firstSampleServerTimestampUs int64) error {
	p.mu.Lock()
	dec, buf := p.decoder, p.buffer
	p.mu.Unlock()
	if dec == nil || buf == nil {
		return protocol.Wrap(protocol.KindUnsupportedFormat, "WriteChunk before Start", nil)
	}
	samples, err := dec.Decode(encoded)
	if err != nil {
		return nil //nolint:nilerr // per-frame decode failures are non-fatal, logged by the caller
	}
	buf.Write(samples, firstSampleServerTimestampUs)
	return nil
}

// Read fills out with n samples of output audio (post-resample,
// volume/mute applied), for the external output adapter's callback.
func (p *Pipeline) Read(out []float32, n int) int {
	p.mu.Lock()
	rs := p.resampler
	p.mu.Unlock()
	if rs == nil {
		for i := range out[:n] {
			out[i] = 0
		}
		return n
	}

	written := rs.Read(out[:n], n)

	if p.muted.Load() {
		for i := 0; i < written; i++ {
			out[i] = 0
		}
		return written
	}
	vol := math.Float32frombits(p.volume.Load())
	if vol != 1.0 {
		for i := 0; i < written; i++ {
			out[i] *= vol
		}
	}
	return written
}

// SetVolume sets the linear gain applied in the sample-source read path.
func (p *Pipeline) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.volume.Store(math.Float32bits(v))
}

// SetMuted enables or disables zero-fill in the sample-source read path.
func (p *Pipeline) SetMuted(m bool) { p.muted.Store(m) }

// Clear drops the buffer, resets the resampler and decoder, and returns to
// Buffering if currently Playing. newTargetTimestampUs is not used; playback
// re-anchors on the timestamps of the chunks written afterwards.
func (p *Pipeline) Clear(newTargetTimestampUs *int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buffer != nil {
		p.buffer.Clear()
	}
	if p.resampler != nil {
		p.resampler.Reset()
	}
	if p.decoder != nil {
		p.decoder.Reset()
	}
	if p.state == Playing {
		p.transitionLocked(Buffering)
		p.wg.Add(1)
		go p.runBufferingWatch()
	}
}

func (p *Pipeline) onReanchorRequired() {
	t := int64(0)
	p.Clear(&t)
}

// Stop drains and tears the pipeline down, returning to Idle.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return
	}
	p.transitionLocked(Stopping)
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.output != nil {
		_ = p.output.Close()
	}
	p.decoder = nil
	p.buffer = nil
	p.resampler = nil
	p.transitionLocked(Idle)
	p.mu.Unlock()
}

// State returns the pipeline's current lifecycle stage.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) transitionLocked(to State) {
	from := p.state
	p.state = to
	cb := p.OnStateChange
	if cb != nil && from != to {
		p.mu.Unlock()
		cb(from, to)
		p.mu.Lock()
	}
}

// bufferSource adapts *timedbuffer.Buffer to resample.Source.
type bufferSource struct {
	buf *timedbuffer.Buffer
	clk *clock.Clock
}

func (b bufferSource) Read(out []float32) int {
	return b.buf.Read(out, len(out), b.clk.NowUs())
}
