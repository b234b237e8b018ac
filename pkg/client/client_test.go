package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/aurasync/core/internal/optional"
	"github.com/aurasync/core/pkg/codec/envelope"
	"github.com/aurasync/core/pkg/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig("client-1", "test client")
	cfg.ConnectTimeoutMs = 2000
	return cfg
}

// helloServer answers client/hello with a server/hello and, when
// respondTime is true, echoes server/time for every client/time it
// receives.
func helloServer(t *testing.T, serverID string, respondTime bool) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := envelope.Decode(data)
			if err != nil {
				continue
			}
			switch msg.Type {
			case protocol.TypeClientHello:
				resp, _ := envelope.Encode(protocol.TypeServerHello, protocol.ServerHello{
					ServerID:    serverID,
					Version:     1,
					ActiveRoles: []string{"player@v1"},
				})
				_ = conn.WriteMessage(websocket.TextMessage, resp)
			case protocol.TypeClientTime:
				if !respondTime {
					continue
				}
				ct, _ := envelope.As[protocol.ClientTime](msg)
				now := ct.ClientTransmitted
				resp, _ := envelope.Encode(protocol.TypeServerTime, protocol.ServerTime{
					ClientTransmitted: ct.ClientTransmitted,
					ServerReceived:    now + 1_000_000,
					ServerTransmitted: now + 1_000_000,
				})
				_ = conn.WriteMessage(websocket.TextMessage, resp)
			}
		}
	}))
	wsURL := "ws" + srv.URL[len("http"):]
	return srv, wsURL
}

// TestScenarioS1HandshakeHappyPath verifies S1: after Connect, ServerID is
// populated and the time-sync loop has started sending client/time.
func TestScenarioS1HandshakeHappyPath(t *testing.T) {
	srv, url := helloServer(t, "srv-1", true)
	defer srv.Close()

	c := New(testConfig())
	err := c.Connect(context.Background(), url)
	require.NoError(t, err)
	defer c.Disconnect("test done")

	c.mu.Lock()
	serverID := c.serverID
	c.mu.Unlock()
	require.Equal(t, "srv-1", serverID)

	require.Eventually(t, func() bool {
		return c.sync.Snapshot().MeasurementCount >= 1
	}, 300*time.Millisecond, 5*time.Millisecond)
}

// TestScenarioS2HandshakeTimeout verifies S2: a server that never answers
// client/hello fails Connect after the fixed 10s handshake timeout (not
// ConnectTimeoutMs, which bounds only the dial), with
// *protocol.Error{Kind: KindHandshakeFailed}.
func TestScenarioS2HandshakeTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never respond; just keep the socket open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	wsURL := "ws" + srv.URL[len("http"):]

	cfg := testConfig()
	c := New(cfg)

	start := time.Now()
	err := c.Connect(context.Background(), wsURL)
	elapsed := time.Since(start)

	require.Error(t, err)
	perr, ok := err.(*protocol.Error)
	require.True(t, ok)
	require.Equal(t, protocol.KindHandshakeFailed, perr.Kind)
	require.Less(t, elapsed, 11*time.Second)
}

func TestNextSyncIntervalMatchesSpecTable(t *testing.T) {
	cases := []struct {
		count int
		sigma float64
		want  time.Duration
	}{
		{0, 50000, 200 * time.Millisecond},
		{2, 100, 200 * time.Millisecond},
		{3, 6000, 200 * time.Millisecond},
		{5, 5000, 200 * time.Millisecond},
		{5, 3000, 500 * time.Millisecond},
		{5, 2000, 500 * time.Millisecond},
		{5, 1500, 1000 * time.Millisecond},
		{5, 1000, 1000 * time.Millisecond},
		{5, 500, 3000 * time.Millisecond},
	}
	for _, tc := range cases {
		got := nextSyncInterval(tc.count, tc.sigma)
		require.Equalf(t, tc.want, got, "count=%d sigma=%f", tc.count, tc.sigma)
	}
}

func TestMergeGroupUpdateAppliesAbsentPresentNullPresentValue(t *testing.T) {
	prior := GroupState{GroupID: "g1", Name: "Kitchen", PlaybackState: PlaybackPlaying}

	// PresentValue replaces.
	next := mergeGroupUpdate(prior, protocol.GroupUpdate{
		GroupID:   "g1",
		GroupName: optional.Of("Living Room"),
	})
	require.Equal(t, "Living Room", next.Name)
	require.Equal(t, PlaybackPlaying, next.PlaybackState) // Absent: keep.

	// PresentNull clears.
	next2 := mergeGroupUpdate(next, protocol.GroupUpdate{
		GroupID:       "g1",
		PlaybackState: optional.Null[string](),
	})
	require.Equal(t, "Living Room", next2.Name) // Absent: keep.
	require.Equal(t, PlaybackState(""), next2.PlaybackState)
}

func TestMergeServerStateAppliesMetadataAndController(t *testing.T) {
	prior := GroupState{}
	title := "Song A"
	next := mergeServerState(prior, protocol.ServerState{
		Metadata: &protocol.Metadata{Title: optional.Of(title)},
		Controller: &protocol.Controller{
			Volume:            42,
			Muted:             true,
			SupportedCommands: []string{"play", "pause"},
		},
	})
	require.Equal(t, "Song A", next.Metadata.Title)
	require.Equal(t, 42, next.Volume)
	require.True(t, next.Muted)
}

func TestClampVolume(t *testing.T) {
	require.Equal(t, 0, clampVolume(-5))
	require.Equal(t, 100, clampVolume(150))
	require.Equal(t, 50, clampVolume(50))
}
