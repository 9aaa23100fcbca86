package devserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/emoine/internal/store"
	emoinews "github.com/zfogg/emoine/pkg/websocket"
)

const testTimeout = 5 * time.Second

// startServer serves on a loopback port and returns its address and a
// function that stops it and reports Serve's result.
func startServer(t *testing.T) (*Server, string, func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(ln.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.Serve(ctx, ln) }()

	var stopped bool
	var stopErr error
	stop := func() error {
		if stopped {
			return stopErr
		}
		stopped = true
		cancel()
		select {
		case stopErr = <-result:
		case <-time.After(testTimeout):
			t.Error("server did not stop")
		}
		return stopErr
	}
	t.Cleanup(func() { _ = stop() })
	return s, ln.Addr().String(), stop
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+WebSocketPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// readBinary returns the next binary frame, skipping viewer announcements
func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		if typ == websocket.MessageBinary {
			return data
		}
	}
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == n }, testTimeout, 10*time.Millisecond)
}

func TestBroadcastRelaysBinaryFrames(t *testing.T) {
	s, addr, _ := startServer(t)
	a := dial(t, addr)
	b := dial(t, addr)
	waitClients(t, s, 2)

	payload := []byte{0x01, 0x02, 0x03}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, a.Write(ctx, websocket.MessageBinary, payload))

	assert.Equal(t, payload, readBinary(t, b))
	assert.Equal(t, payload, readBinary(t, a), "the sender receives its own frame")

	stats := s.Hub().Stats()
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, int64(2), stats.Connections)
}

func TestViewerAnnouncement(t *testing.T) {
	s, addr, _ := startServer(t)
	conn := dial(t, addr)
	waitClients(t, s, 1)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg viewerMessage
	require.NoError(t, jsoniter.Unmarshal(data, &msg))
	assert.Equal(t, viewerMessage{Type: "viewers", Count: 1}, msg)
}

func TestShutdownSendsServiceRestart(t *testing.T) {
	s, addr, stop := startServer(t)
	conn := dial(t, addr)
	waitClients(t, s, 1)

	// Read in the background so the close handshake can complete
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				readErr <- err
				return
			}
		}
	}()

	require.NoError(t, stop())

	select {
	case err := <-readErr:
		assert.Equal(t, websocket.StatusServiceRestart, websocket.CloseStatus(err))
		var ce websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, shutdownReason, ce.Reason)
	case <-time.After(testTimeout):
		t.Fatal("client was not closed")
	}
	assert.Equal(t, 0, s.Hub().ClientCount())
}

func TestHTTPRoutes(t *testing.T) {
	s := New("127.0.0.1:0")
	go s.Hub().Run()
	t.Cleanup(func() { _ = s.Hub().Shutdown(context.Background()) })

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get("/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"clients":0`)

	status, body = get("/api/ws/stats")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"clients":0,"connections":0,"broadcasts":0,"dropped":0}`, body)

	status, body = get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "emoine_server_connections_total"))

	status, body = get("/api/ws/frames")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "recording_disabled")

	status, _ = get("/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRecordsFrames(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { _ = st.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(ln.Addr().String())
	s.Hub().SetRecorder(st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn := dial(t, ln.Addr().String())
	waitClients(t, s, 1)

	writeCtx, writeCancel := context.WithTimeout(context.Background(), testTimeout)
	defer writeCancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageBinary, []byte{0xca, 0xfe}))
	readBinary(t, conn)

	frames, err := st.RecentFrames(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xca, 0xfe}, frames[0].Payload)
	assert.True(t, frames[0].Binary)
	assert.NotEmpty(t, frames[0].ClientID)

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/ws/frames?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count  int           `json:"count"`
		Frames []store.Frame `json:"frames"`
	}
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)

	bad, err := http.Get("http://" + ln.Addr().String() + "/api/ws/frames?limit=0")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestReconnectingSocketAgainstServer(t *testing.T) {
	s, addr, stop := startServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	cfg := emoinews.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.HeartbeatIntervalMs = 0
	cfg.MaxRetries = 0

	sock := emoinews.NewSocket(cfg)
	sock.SetBinaryType(emoinews.BinaryTypeBinary)
	events, _ := sock.Subscribe(64)
	sock.Start(context.Background())
	t.Cleanup(func() { _ = sock.Close(emoinews.CloseNormalClosure, "") })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, sock.WaitOpen(ctx))
	waitClients(t, s, 1)

	require.NoError(t, sock.Send([]byte("binary-frame")))

	var echoed, closed *emoinews.Event
	deadline := time.After(testTimeout)
	for echoed == nil {
		select {
		case ev := <-events:
			if ev.Type == emoinews.EventMessage && ev.IsBinary() {
				echoed = &ev
			}
		case <-deadline:
			t.Fatal("no broadcast received")
		}
	}
	assert.Equal(t, "binary-frame", string(echoed.Data))

	require.NoError(t, stop())
	for closed == nil {
		select {
		case ev := <-events:
			if ev.Type == emoinews.EventClose {
				closed = &ev
			}
		case <-deadline:
			t.Fatal("no close event received")
		}
	}
	assert.Equal(t, emoinews.CloseServiceRestart, closed.Code)
	assert.Equal(t, shutdownReason, closed.Reason)
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSharedConnectionLogsToStderrByDefault(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stderr
	os.Stderr = w

	var captured syncBuffer
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(&captured, r)
	}()
	defer func() {
		os.Stderr = orig
		_ = w.Close()
		<-copied
	}()

	_, addr, _ := startServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	cfg := emoinews.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.HeartbeatIntervalMs = 0
	conn := emoinews.GetConnection(cfg)
	defer func() {
		_ = conn.Close(emoinews.CloseNormalClosure, "")
		<-conn.Done()
	}()

	// The hub greets every client with a viewer count, which arrives as the
	// first message
	assert.Eventually(t, func() bool {
		out := captured.String()
		return strings.Contains(out, "connected event=") && strings.Contains(out, `{"type":"viewers","count":1}`)
	}, testTimeout, 10*time.Millisecond, "open and message lines on stderr")
}
