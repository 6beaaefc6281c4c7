package server_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/wsecho/internal/server"
)

// logBuffer collects JSON log lines from concurrent connection goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) countMessages(msg string) int {
	return strings.Count(b.String(), `"message":"`+msg+`"`)
}

func newTestLogger() (zerolog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return zerolog.New(buf).Level(zerolog.DebugLevel), buf
}

func testConfig(customize func(cfg *server.Config)) server.Config {
	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Keepalive.PingInterval = 0
	if customize != nil {
		customize(&cfg)
	}
	return cfg
}

// startTestServer mounts the echo handler on an httptest server and returns
// the ws:// URL of the echo endpoint.
func startTestServer(t *testing.T, customize func(cfg *server.Config), opts ...server.Option) (*server.Server, string, *logBuffer) {
	t.Helper()

	logger, logs := newTestLogger()
	opts = append([]server.Option{server.WithLogger(logger)}, opts...)
	srv := server.New(testConfig(customize), opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/", logs
}

func dialWithOrigin(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := dialWithOrigin(t, url, "")
	require.NoError(t, err, "failed to connect to %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

func receive(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	messageType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(payload)
}

// expectClosed reads until the connection fails and returns the close error
// the server sent, if any.
func expectClosed(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return closeErr
		}
		require.NotContains(t, err.Error(), "i/o timeout", "connection was not closed by the server")
		return nil
	}
}
