// Package transport implements frame-level send/receive over a single
// bidirectional WebSocket connection: the connection state machine,
// reconnection with exponential backoff, and serialized text/binary sends.
//
// Grounded line-for-line on websocket_executor.go's establishConnection/
// responseListener/sendMessage trio: a dialer with handshake timeout,
// SetReadLimit, SetPongHandler, and a writeMu sync.Mutex serializing
// writes. The done channel field is created by New but never closed or
// read; Disconnect signals shutdown through the state and by closing the
// connection. Reconnection with
// backoff is new code grounded on the same file's errgroup-based goroutine
// startup (Initialize's errgroup.WithContext) generalized into a
// persistent retry loop instead of a one-shot connect.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aurasync/core/pkg/protocol"
)

// State is the transport's connection lifecycle stage.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Connected
	Reconnecting
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// legalTransitions enumerates the edges of this protocol's connection
// lifecycle diagram, queried through CanTransition. The Transport's own
// state changes do not consult it: Disconnect enters Disconnecting from
// any state other than Disconnected/Disconnecting, including Connecting,
// Handshaking and Reconnecting, which the table does not list.
var legalTransitions = map[State]map[State]bool{
	Disconnected:  {Connecting: true},
	Connecting:    {Handshaking: true, Disconnected: true, Reconnecting: true},
	Handshaking:   {Connected: true, Disconnected: true, Reconnecting: true},
	Connected:     {Reconnecting: true, Disconnecting: true},
	Reconnecting:  {Connecting: true, Disconnected: true},
	Disconnecting: {Disconnected: true},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to State) bool {
	return legalTransitions[from][to]
}

// ReconnectPolicy configures exponential backoff reconnection.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int // 0 = unbounded
}

// DefaultReconnectPolicy mirrors common client defaults: 1s initial delay,
// doubling, capped at 30s, unbounded attempts.
var DefaultReconnectPolicy = ReconnectPolicy{
	InitialDelay: 1 * time.Second,
	Factor:       2.0,
	MaxDelay:     30 * time.Second,
	MaxAttempts:  0,
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithHandshakeTimeout overrides the dial handshake timeout. Default 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) { t.handshakeTimeout = d }
}

// WithReconnectPolicy overrides the reconnect backoff policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(t *Transport) { t.reconnect = p }
}

// WithAutoReconnect enables/disables automatic reconnection on an
// unexpected close. Default enabled.
func WithAutoReconnect(enabled bool) Option {
	return func(t *Transport) { t.autoReconnect = enabled }
}

// Transport manages one WebSocket connection's lifecycle.
type Transport struct {
	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}

	uri              string
	handshakeTimeout time.Duration
	reconnect        ReconnectPolicy
	autoReconnect    bool

	cancelReconnect context.CancelFunc

	// OnStateChange fires on every state transition.
	OnStateChange func(from, to State)
	// OnTextMessage fires for every received text frame.
	OnTextMessage func([]byte)
	// OnBinaryMessage fires for every received binary frame.
	OnBinaryMessage func([]byte)
	// OnError fires for non-fatal errors surfaced during send/receive.
	OnError func(error)
}

// New constructs a Transport targeting uri, initially Disconnected.
func New(uri string, opts ...Option) *Transport {
	t := &Transport{
		state:            Disconnected,
		uri:              uri,
		handshakeTimeout: 10 * time.Second,
		reconnect:        DefaultReconnectPolicy,
		autoReconnect:    true,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setStateLocked(to State) {
	from := t.state
	if from == to {
		return
	}
	t.state = to
	cb := t.OnStateChange
	if cb != nil {
		t.mu.Unlock()
		cb(from, to)
		t.mu.Lock()
	}
}

// Connect dials uri and transitions Disconnected (or Reconnecting) ->
// Connecting -> Handshaking. Returns once the WebSocket handshake succeeds;
// the caller is expected to mark Connected itself once the application
// handshake (server/hello) also completes, via MarkConnected.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != Disconnected && t.state != Reconnecting {
		t.mu.Unlock()
		return protocol.Wrap(protocol.KindTransport, "Connect called outside Disconnected/Reconnecting", nil)
	}
	t.setStateLocked(Connecting)
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.mu.Lock()
		t.setStateLocked(Disconnected)
		t.mu.Unlock()
		return protocol.Wrap(protocol.KindTransport, "connect failed", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.setStateLocked(Handshaking)
	t.mu.Unlock()

	go t.receiveLoop()
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := url.Parse(t.uri)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)
	conn.SetPongHandler(func(string) error { return nil })
	return conn, nil
}

// MarkConnected transitions Handshaking -> Connected once the caller's
// application-level handshake has succeeded.
func (t *Transport) MarkConnected() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Handshaking {
		return protocol.Wrap(protocol.KindTransport, "MarkConnected called outside Handshaking", nil)
	}
	t.setStateLocked(Connected)
	return nil
}

// SendText serializes and writes a text frame, serialized against
// concurrent sends by writeMu.
func (t *Transport) SendText(data []byte) error {
	return t.send(websocket.TextMessage, data)
}

// SendBinary writes a binary frame.
func (t *Transport) SendBinary(data []byte) error {
	return t.send(websocket.BinaryMessage, data)
}

func (t *Transport) send(messageType int, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return protocol.Wrap(protocol.KindTransport, "send on nil connection", nil)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, data); err != nil {
		return protocol.Wrap(protocol.KindTransport, "write failed", err)
	}
	return nil
}

// Ping sends a WebSocket ping frame, used by the keepalive loop
// (keepalive_interval_ms). Errors are swallowed here; a dead connection
// surfaces through the receive loop's next read error instead.
func (t *Transport) Ping() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}
	t.writeMu.Lock()
	_ = conn.WriteMessage(websocket.PingMessage, nil)
	t.writeMu.Unlock()
}

// receiveLoop reads frames until the connection closes, dispatching to
// OnTextMessage/OnBinaryMessage. A normal or going-away close frame then
// transitions to Disconnected; any other read error transitions to
// Reconnecting (if auto-reconnect is enabled) or Disconnected.
func (t *Transport) receiveLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReceiveError(err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if cb := t.OnTextMessage; cb != nil {
				cb(data)
			}
		case websocket.BinaryMessage:
			if cb := t.OnBinaryMessage; cb != nil {
				cb(data)
			}
		}
	}
}

func (t *Transport) handleReceiveError(err error) {
	// A read error caused by Disconnect closing the socket is not a lost
	// connection: leave the state to Disconnect and do not reconnect.
	t.mu.Lock()
	closing := t.state == Disconnecting || t.state == Disconnected
	t.mu.Unlock()
	if closing {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.mu.Lock()
		t.setStateLocked(Disconnected)
		t.mu.Unlock()
		return
	}

	if cb := t.OnError; cb != nil {
		cb(protocol.Wrap(protocol.KindTransport, "receive error", err))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autoReconnect {
		t.setStateLocked(Reconnecting)
		go t.reconnectLoop()
	} else {
		t.setStateLocked(Disconnected)
	}
}

// reconnectLoop retries Connect with exponential backoff until it
// succeeds, the policy's attempt cap is hit, or Disconnect cancels it.
func (t *Transport) reconnectLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancelReconnect = cancel
	t.mu.Unlock()
	defer cancel()

	delay := t.reconnect.InitialDelay
	attempt := 0
	for {
		attempt++
		if t.reconnect.MaxAttempts > 0 && attempt > t.reconnect.MaxAttempts {
			t.mu.Lock()
			t.setStateLocked(Disconnected)
			t.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := t.Connect(ctx); err == nil {
			return
		}

		delay = time.Duration(float64(delay) * t.reconnect.Factor)
		if delay > t.reconnect.MaxDelay {
			delay = t.reconnect.MaxDelay
		}
	}
}

// Disconnect gracefully closes the connection: best-effort sends reason as
// a client/goodbye-style text payload first when provided, then a
// normal-closure close frame.
func (t *Transport) Disconnect(reason []byte) error {
	t.mu.Lock()
	if t.state == Disconnected || t.state == Disconnecting {
		t.mu.Unlock()
		return nil
	}
	t.setStateLocked(Disconnecting)
	if t.cancelReconnect != nil {
		t.cancelReconnect()
		t.cancelReconnect = nil
	}
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		if reason != nil {
			_ = t.send(websocket.TextMessage, reason)
		}
		t.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		_ = conn.Close()
	}

	t.mu.Lock()
	t.conn = nil
	t.setStateLocked(Disconnected)
	t.mu.Unlock()
	return nil
}
