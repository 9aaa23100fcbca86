package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/emoine/internal/devserver"
	"github.com/zfogg/emoine/internal/store"
	apperrors "github.com/zfogg/emoine/pkg/errors"
	"github.com/zfogg/emoine/pkg/output"
	"github.com/zfogg/emoine/pkg/websocket"
)

const commandTimeout = 10 * time.Second

// startServer runs a development server on a loopback port
func startServer(t *testing.T) (*devserver.Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := devserver.New(ln.Addr().String())
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
	return s, ln.Addr().String()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// writeConfig writes a config file whose ws.* settings point at addr
func writeConfig(t *testing.T, addr, extra string) string {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	content := fmt.Sprintf(`[ws]
host = %q
port = %s
min_reconnect_delay_ms = 10
max_reconnect_delay_ms = 50
heartbeat_interval_ms = 0
%s`, host, port, extra)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// useFreshConnections gives every command run its own socket instead of the
// process-wide one
func useFreshConnections(t *testing.T) {
	t.Helper()
	orig := getConnection
	getConnection = func(cfg ...websocket.Config) *websocket.Socket {
		s := websocket.NewConnection(cfg[0])
		s.Start(context.Background())
		return s
	}
	t.Cleanup(func() { getConnection = orig })
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := output.Writer
	output.Writer = &buf
	t.Cleanup(func() { output.Writer = orig })
	return &buf
}

func dialPeer(t *testing.T, addr string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial("ws://"+addr+devserver.WebSocketPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readBinary returns the next binary frame, skipping viewer announcements
func readBinary(t *testing.T, conn *gorilla.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(commandTimeout)))
	for {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if mt == gorilla.BinaryMessage {
			return data
		}
	}
}

// drain keeps reading so close handshakes from the server complete
func drain(conn *gorilla.Conn) {
	go func() {
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func waitClients(t *testing.T, s *devserver.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == n }, commandTimeout, 10*time.Millisecond)
}

func TestConnectExitsAfterCount(t *testing.T) {
	useFreshConnections(t)
	out := captureOutput(t)
	srv, addr := startServer(t)
	path := writeConfig(t, addr, "")
	t.Cleanup(func() { _ = connectCmd.Flags().Set("count", "0") })

	result := make(chan error, 1)
	go func() {
		_, err := execute(t, "--config", path, "connect", "--count", "3")
		result <- err
	}()

	// Messages: viewers=1 on join, viewers=2 when the peer joins, then the
	// peer's frame
	waitClients(t, srv, 1)
	peer := dialPeer(t, addr)
	drain(peer)
	waitClients(t, srv, 2)
	require.NoError(t, peer.WriteMessage(gorilla.BinaryMessage, []byte("reaction-frame")))

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(commandTimeout):
		t.Fatal("connect did not exit after three messages")
	}

	text := out.String()
	assert.Contains(t, text, "Connecting to ws://"+addr+"/api/ws")
	assert.Contains(t, text, `{"type":"viewers","count":2}`)
	assert.Contains(t, text, "reaction-frame")
}

func TestSendDeliversFrame(t *testing.T) {
	useFreshConnections(t)
	out := captureOutput(t)
	srv, addr := startServer(t)
	path := writeConfig(t, addr, "")
	t.Cleanup(func() { _ = sendCmd.Flags().Set("hex", "false") })

	peer := dialPeer(t, addr)
	waitClients(t, srv, 1)

	_, err := execute(t, "--config", path, "send", "--hex", "cafe01")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Sent 3 bytes to ws://"+addr+"/api/ws")

	assert.Equal(t, []byte{0xca, 0xfe, 0x01}, readBinary(t, peer))
}

func TestSendFailsWhenServerIsDown(t *testing.T) {
	useFreshConnections(t)
	captureOutput(t)
	path := writeConfig(t, freeAddr(t), "max_retries = 0\n")
	t.Cleanup(func() { _ = sendCmd.Flags().Set("timeout", "10s") })

	_, err := execute(t, "--config", path, "send", "--timeout", "2s", "hello")
	require.Error(t, err)
}

func TestServeRecordsFrames(t *testing.T) {
	addr := freeAddr(t)
	dbPath := filepath.Join(t.TempDir(), "frames.db")
	path := writeConfig(t, addr, "")
	t.Cleanup(func() {
		_ = serveCmd.Flags().Set("addr", "")
		_ = serveCmd.Flags().Set("store", "")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() {
		_, err := executeContext(ctx, t, "--config", path, "serve", "--addr", addr, "--store", dbPath)
		result <- err
	}()

	var peer *gorilla.Conn
	require.Eventually(t, func() bool {
		c, _, err := gorilla.DefaultDialer.Dial("ws://"+addr+devserver.WebSocketPath, nil)
		if err != nil {
			return false
		}
		peer = c
		return true
	}, commandTimeout, 20*time.Millisecond)
	defer peer.Close()

	require.NoError(t, peer.WriteMessage(gorilla.BinaryMessage, []byte("kept-frame")))
	// Frames are stored before they are relayed
	assert.Equal(t, []byte("kept-frame"), readBinary(t, peer))

	resp, err := http.Get("http://" + addr + devserver.WebSocketPath + "/frames")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	drain(peer)
	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(commandTimeout):
		t.Fatal("serve did not stop")
	}

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	frames, err := st.RecentFrames(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "kept-frame", string(frames[0].Payload))
}

func TestPingReportsHealth(t *testing.T) {
	out := captureOutput(t)
	_, addr := startServer(t)
	path := writeConfig(t, addr, "")

	_, err := execute(t, "--config", path, "ping")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "healthy")
	assert.Contains(t, out.String(), "connections")
}

func TestPingMapsErrorStatus(t *testing.T) {
	captureOutput(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	path := writeConfig(t, "127.0.0.1:1", fmt.Sprintf("\n[api]\nbase_url = %q\n", srv.URL))

	_, err := execute(t, "--config", path, "ping")
	require.Error(t, err)
	cliErr := apperrors.CategorizeError(err)
	assert.Equal(t, apperrors.ErrorTypeServer, cliErr.Type)
	assert.Contains(t, cliErr.Message, "503")
}
