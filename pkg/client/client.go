// Package client implements the connection orchestrator: connect →
// handshake → adaptive time-sync loop → message dispatch, maintaining
// group state and driving the audio pipeline. External collaborators
// (audio output device, mDNS-style discovery, logging sinks) are declared
// here as Go interfaces only — no concrete binding ships in this module;
// the embedding application supplies one.
//
// Grounded on resonate-go's Player.Connect/clockSyncLoop/performInitialSync
// (the adaptive-interval ticker-driven resync loop) recast in the
// teacher's idiom: errgroup-style goroutine startup
// (websocketExecutor.Initialize), mutex-guarded shared state with a
// single writer, and OnX callback fields invoked by the owning goroutine
// only.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aurasync/core/pkg/audio/format"
	"github.com/aurasync/core/pkg/audio/pipeline"
	"github.com/aurasync/core/pkg/clock"
	"github.com/aurasync/core/pkg/clocksync"
	"github.com/aurasync/core/internal/ring"
	"github.com/aurasync/core/pkg/codec/envelope"
	"github.com/aurasync/core/pkg/codec/frame"
	"github.com/aurasync/core/pkg/protocol"
	"github.com/aurasync/core/pkg/transport"
)

const (
	handshakeTimeout   = 10 * time.Second
	protocolVersion    = 1
	diagnosticRingSize = 256
)

// SyncDiagnostic is one entry in the diagnostic sync-metric ring, per
// a lock-free ring buffer.
type SyncDiagnostic struct {
	AtClientUs int64
	OffsetUs   float64
	DriftUsSec float64
	SigmaUs    float64
	RTTUs      float64
}

// Client drives everything: one Transport, one clocksync.Synchronizer, one
// optional audio Pipeline, and the current GroupState.
type Client struct {
	cfg    Config
	logger Logger
	clk    *clock.Clock
	output AudioOutputAdapter

	transport *transport.Transport
	sync      *clocksync.Synchronizer

	mu       sync.Mutex
	group    GroupState
	pipeline *pipeline.Pipeline
	serverID string

	runCancel context.CancelFunc
	runGroup  *errgroup.Group

	handshakeCh chan *protocol.ServerHello

	diagnostics *ring.Ring[SyncDiagnostic]

	// OnGroupChange fires with a snapshot after every group/update or
	// server/state merge.
	OnGroupChange func(GroupState)
	// OnError surfaces steady-state errors; connect/handshake errors are
	// returned directly from Connect instead.
	OnError func(error)
	// OnPipelineState mirrors the audio pipeline's state transitions.
	OnPipelineState func(pipeline.State)
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger installs a structured logging sink. Defaults to a no-op.
func WithLogger(l Logger) Option { return func(c *Client) { c.logger = l } }

// WithOutputAdapter installs the platform audio output device.
func WithOutputAdapter(o AudioOutputAdapter) Option { return func(c *Client) { c.output = o } }

// WithClock overrides the monotonic clock source. Defaults to clock.Default().
func WithClock(clk *clock.Clock) Option { return func(c *Client) { c.clk = clk } }

// New constructs a disconnected Client. Call Connect to bring it up.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:         cfg,
		clk:         clock.Default(),
		group:       GroupState{PlaybackState: PlaybackIdle},
		diagnostics: ring.New[SyncDiagnostic](diagnosticRingSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	c.sync = clocksync.New(clocksync.WithNoise(cfg.KalmanQOffset, cfg.KalmanQDrift, cfg.KalmanR0))
	return c
}

// Group returns a snapshot of the current group state.
func (c *Client) Group() GroupState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group
}

// Synchronizer exposes the clock synchronizer for diagnostics/tests.
func (c *Client) Synchronizer() *clocksync.Synchronizer { return c.sync }

// Transport exposes the transport for diagnostics/tests.
func (c *Client) Transport() *transport.Transport { return c.transport }

// Diagnostics returns a point-in-time snapshot of the sync-metric ring,
// oldest first, backed
// by internal/ring's SPSC overwrite-oldest-on-full ring.
func (c *Client) Diagnostics() []SyncDiagnostic { return c.diagnostics.Snapshot() }

// Connect dials uri, performs the client/hello <-> server/hello
// handshake, and — on success — resets the clock synchronizer and starts
// the adaptive time-sync loop. A handshake timeout
// surfaces *protocol.Error{Kind: KindHandshakeFailed} and leaves the
// transport Disconnected with reason "handshake_timeout".
func (c *Client) Connect(ctx context.Context, uri string) error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	t := transport.New(uri,
		transport.WithHandshakeTimeout(c.cfg.connectTimeout()),
		transport.WithAutoReconnect(c.cfg.AutoReconnect),
		transport.WithReconnectPolicy(transport.ReconnectPolicy{
			InitialDelay: time.Duration(c.cfg.ReconnectInitialDelayMs) * time.Millisecond,
			Factor:       c.cfg.ReconnectBackoffMultiplier,
			MaxDelay:     time.Duration(c.cfg.ReconnectMaxDelayMs) * time.Millisecond,
			MaxAttempts:  c.cfg.MaxReconnectAttempts,
		}),
	)
	t.OnTextMessage = c.onText
	t.OnBinaryMessage = c.onBinary
	t.OnError = c.emitError
	t.OnStateChange = func(from, to transport.State) {
		c.logger.Debugf("transport %s -> %s", from, to)
	}

	c.mu.Lock()
	c.transport = t
	c.handshakeCh = make(chan *protocol.ServerHello, 1)
	c.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout())
	defer cancel()

	if err := t.Connect(connectCtx); err != nil {
		return err
	}

	hello := protocol.ClientHello{
		ClientID:       c.cfg.ClientID,
		Name:           c.cfg.Name,
		Version:        protocolVersion,
		SupportedRoles: c.cfg.SupportedRoles,
		PlayerSupport: &protocol.PlayerSupport{
			SupportedFormats:  c.cfg.orderedSupportedFormats(),
			BufferCapacity:    c.cfg.BufferCapacity,
			SupportedCommands: []string{"play", "pause", "stop", "volume", "mute"},
		},
		DeviceInfo: c.cfg.DeviceInfo,
	}
	data, err := envelope.Encode(protocol.TypeClientHello, hello)
	if err != nil {
		return fmt.Errorf("encode client/hello: %w", err)
	}
	if err := t.SendText(data); err != nil {
		return err
	}

	select {
	case sh := <-c.handshakeCh:
		c.mu.Lock()
		c.serverID = sh.ServerID
		c.mu.Unlock()
	case <-time.After(handshakeTimeout):
		_ = t.Disconnect([]byte(`{"type":"client/goodbye","payload":{"reason":"handshake_timeout"}}`))
		return protocol.Wrap(protocol.KindHandshakeFailed, "no server/hello within timeout", nil)
	case <-ctx.Done():
		_ = t.Disconnect(nil)
		return protocol.Wrap(protocol.KindHandshakeFailed, "connect canceled during handshake", ctx.Err())
	}

	if err := t.MarkConnected(); err != nil {
		return err
	}
	c.sync.Reset()

	stateMsg := protocol.ClientState{State: "synchronized"}
	if data, err := envelope.Encode(protocol.TypeClientState, stateMsg); err == nil {
		_ = t.SendText(data)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	var g errgroup.Group
	c.mu.Lock()
	c.runCancel = runCancel
	c.runGroup = &g
	c.mu.Unlock()

	g.Go(func() error {
		c.syncLoop(runCtx)
		return nil
	})

	if c.cfg.KeepaliveIntervalMs > 0 {
		g.Go(func() error {
			c.keepaliveLoop(runCtx)
			return nil
		})
	}

	return nil
}

// Disconnect cancels the time-sync and keepalive loops, tears down the
// audio pipeline if one is running, and gracefully closes the transport.
// It does not interrupt a handshake wait still pending inside Connect;
// that wait ends on server/hello, the handshake timeout, or Connect's ctx.
// A second Disconnect while already Disconnecting is a no-op (delegated to
// Transport.Disconnect).
func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	runCancel := c.runCancel
	c.runCancel = nil
	g := c.runGroup
	c.runGroup = nil
	p := c.pipeline
	c.pipeline = nil
	t := c.transport
	c.mu.Unlock()

	if runCancel != nil {
		runCancel()
	}
	if g != nil {
		_ = g.Wait()
	}

	if p != nil {
		p.Stop()
	}

	if t == nil {
		return nil
	}
	goodbye, err := envelope.Encode(protocol.TypeClientGoodbye, protocol.ClientGoodbye{Reason: reason})
	if err != nil {
		goodbye = nil
	}
	return t.Disconnect(goodbye)
}

// SendCommand wraps cmd in a client/command envelope, clamping volume to
// [0, 100].
func (c *Client) SendCommand(cmd string, volume *int, mute *bool) error {
	if volume != nil {
		v := clampVolume(*volume)
		volume = &v
	}
	payload := protocol.ClientCommand{Controller: protocol.ControllerCommand{
		Command: cmd,
		Volume:  volume,
		Mute:    mute,
	}}
	data, err := envelope.Encode(protocol.TypeClientCommand, payload)
	if err != nil {
		return err
	}
	return c.transport.SendText(data)
}

// RequestFormat asks the server to switch the negotiated stream format
// (stream/request-format, C->S).
func (c *Client) RequestFormat(f protocol.AudioFormat, streamID string) error {
	data, err := envelope.Encode(protocol.TypeStreamRequestFormat,
		protocol.StreamRequestFormat{Format: f, StreamID: streamID})
	if err != nil {
		return err
	}
	return c.transport.SendText(data)
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// onText dispatches one received text frame against the message
// dispatch table. Malformed payloads are logged and skipped; unrecognized
// types are ignored — a failing frame never terminates the connection (§7).
func (c *Client) onText(data []byte) {
	msg, err := envelope.Decode(data)
	if err != nil {
		c.logger.Warnf("malformed text message: %v", err)
		c.emitError(err)
		return
	}
	if !msg.Recognized() {
		return
	}

	switch msg.Type {
	case protocol.TypeServerHello:
		if sh, ok := envelope.As[protocol.ServerHello](msg); ok {
			select {
			case c.handshakeCh <- sh:
			default:
			}
		}
	case protocol.TypeServerTime:
		if st, ok := envelope.As[protocol.ServerTime](msg); ok {
			t4 := c.clk.NowUs()
			c.sync.Process(st.ClientTransmitted, st.ServerReceived, st.ServerTransmitted, t4)
			est := c.sync.Snapshot()
			c.diagnostics.Push(SyncDiagnostic{
				AtClientUs: t4,
				OffsetUs:   est.OffsetUs,
				DriftUsSec: est.DriftUsPerSec,
				SigmaUs:    est.SigmaOffsetUs,
				RTTUs:      float64((t4 - st.ClientTransmitted) - (st.ServerTransmitted - st.ServerReceived)),
			})
		}
	case protocol.TypeGroupUpdate:
		if gu, ok := envelope.As[protocol.GroupUpdate](msg); ok {
			c.mu.Lock()
			c.group = mergeGroupUpdate(c.group, *gu)
			snapshot := c.group
			c.mu.Unlock()
			if cb := c.OnGroupChange; cb != nil {
				cb(snapshot)
			}
		}
	case protocol.TypeServerState:
		if ss, ok := envelope.As[protocol.ServerState](msg); ok {
			c.mu.Lock()
			c.group = mergeServerState(c.group, *ss)
			snapshot := c.group
			c.mu.Unlock()
			if cb := c.OnGroupChange; cb != nil {
				cb(snapshot)
			}
		}
	case protocol.TypeStreamStart:
		if ss, ok := envelope.As[protocol.StreamStart](msg); ok {
			c.startStream(ss.Player)
		}
	case protocol.TypeStreamEnd:
		c.stopStream()
	case protocol.TypeStreamClear:
		if sc, ok := envelope.As[protocol.StreamClear](msg); ok {
			c.mu.Lock()
			p := c.pipeline
			c.mu.Unlock()
			if p != nil {
				p.Clear(sc.TargetTimestamp)
			}
		}
	case protocol.TypeServerCommand:
		if sc, ok := envelope.As[protocol.ServerCommand](msg); ok {
			c.applyServerCommand(sc.Player)
		}
	}
}

// onBinary dispatches one received binary frame. Audio frames route to
// the pipeline; artwork, visualizer and application frames are parsed and
// then dropped, with no callback to the embedding application.
func (c *Client) onBinary(data []byte) {
	fr, err := frame.Parse(data)
	if err != nil {
		c.logger.Warnf("malformed binary frame: %v", err)
		c.emitError(err)
		return
	}

	cat, _ := fr.Category()
	if cat != protocol.CategoryPlayerAudio {
		return
	}

	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	if p == nil {
		return
	}
	if err := p.WriteChunk(fr.Payload, fr.Timestamp); err != nil {
		c.emitError(protocol.Wrap(protocol.KindDecodeError, "write audio chunk", err))
	}
}

func (c *Client) startStream(pf protocol.AudioFormat) {
	f := format.FromProtocol(pf)

	c.mu.Lock()
	if c.pipeline != nil {
		c.pipeline.Stop()
	}
	p := pipeline.New(c.sync, c.cfg.OutputSampleRate,
		pipeline.WithPreRoll(c.cfg.bufferPrerollUs()),
		pipeline.WithConvergenceWait(c.cfg.convergenceWait()),
	)
	if cb := c.OnPipelineState; cb != nil {
		p.OnStateChange = func(from, to pipeline.State) { cb(to) }
	}
	c.pipeline = p
	out := c.output
	c.mu.Unlock()

	if err := p.Start(context.Background(), f, c.sync.ClientToServer(c.clk.NowUs())); err != nil {
		c.emitError(err)
		return
	}

	if out != nil {
		if err := out.Initialize(f); err != nil {
			c.emitError(protocol.Wrap(protocol.KindTransport, "output adapter initialize", err))
			return
		}
		out.SetSampleSource(pipelineSampleSource{p: p})
		if err := out.Play(); err != nil {
			c.emitError(protocol.Wrap(protocol.KindTransport, "output adapter play", err))
		}
	}
}

func (c *Client) stopStream() {
	c.mu.Lock()
	p := c.pipeline
	c.pipeline = nil
	out := c.output
	c.mu.Unlock()

	if out != nil {
		_ = out.Stop()
		_ = out.Dispose()
	}
	if p != nil {
		p.Stop()
	}
}

func (c *Client) applyServerCommand(pc protocol.PlayerCommand) {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	if p == nil {
		return
	}
	if pc.Mute != nil {
		p.SetMuted(*pc.Mute)
	}
	if pc.Volume != nil {
		p.SetVolume(float32(clampVolume(*pc.Volume)) / 100)
	}
}

func (c *Client) emitError(err error) {
	if cb := c.OnError; cb != nil {
		cb(err)
	}
}

// syncLoop emits client/time at an adaptive cadence, driven by the
// synchronizer's own measurement count and offset
// uncertainty so the interval tightens automatically while convergence is
// poor and relaxes once it's tight.
func (c *Client) syncLoop(ctx context.Context) {
	for {
		now := c.clk.NowUs()
		data, err := envelope.Encode(protocol.TypeClientTime, protocol.ClientTime{ClientTransmitted: now})
		if err != nil {
			c.emitError(err)
		} else if err := c.transport.SendText(data); err != nil {
			c.emitError(err)
		}

		est := c.sync.Snapshot()
		interval := nextSyncInterval(est.MeasurementCount, est.SigmaOffsetUs)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// nextSyncInterval is a pure function of (measurement_count,
// offset_uncertainty).
func nextSyncInterval(measurementCount int, sigmaOffsetUs float64) time.Duration {
	if measurementCount < 3 {
		return 200 * time.Millisecond
	}
	sigmaMs := sigmaOffsetUs / 1000
	switch {
	case sigmaMs >= 5:
		return 200 * time.Millisecond
	case sigmaMs >= 2:
		return 500 * time.Millisecond
	case sigmaMs >= 1:
		return 1000 * time.Millisecond
	default:
		return 3000 * time.Millisecond
	}
}

// keepaliveLoop sends WebSocket ping frames on the configured interval —
// separate from the application-level time-sync loop, driven by the
// keepalive_interval_ms option.
func (c *Client) keepaliveLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.KeepaliveIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.transport.Ping()
		}
	}
}

// noopLogger discards every call — the default when no Logger is wired.
type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}
