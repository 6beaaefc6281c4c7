package relay_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/wsecho/internal/relay"
	"github.com/Tyrowin/wsecho/internal/server"
)

func startEcho(t *testing.T, customize func(cfg *server.Config)) string {
	t.Helper()
	_, url := startEchoServer(t, customize)
	return url
}

func startEchoServer(t *testing.T, customize func(cfg *server.Config)) (*server.Server, string) {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.Keepalive.PingInterval = 0
	if customize != nil {
		customize(&cfg)
	}
	srv := server.New(cfg, server.WithLogger(zerolog.Nop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func receiveCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRoundtrip(t *testing.T) {
	url := startEcho(t, nil)

	client, err := relay.Dial(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.True(t, client.IsConnected())
	assert.Equal(t, url, client.URL())

	reply, err := client.Roundtrip(receiveCtx(t), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Server received message: hello", reply)
}

func TestSendThenReceiveKeepsOrder(t *testing.T) {
	url := startEcho(t, nil)

	client, err := relay.Dial(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	messages := []string{"one", "two", "", "three"}
	for _, msg := range messages {
		require.NoError(t, client.Send(msg))
	}
	for _, msg := range messages {
		reply, err := client.Receive(receiveCtx(t))
		require.NoError(t, err)
		assert.Equal(t, server.Reply(msg), reply)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	url := startEcho(t, nil)

	client, err := relay.Dial(context.Background(), url)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
	assert.NoError(t, client.Close())

	assert.ErrorIs(t, client.Send("late"), relay.ErrNotConnected)
	_, err = client.Receive(context.Background())
	assert.ErrorIs(t, err, relay.ErrNotConnected)
}

func TestServerCloseDisconnectsClient(t *testing.T) {
	srv, url := startEchoServer(t, nil)

	client, err := relay.Dial(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	reply, err := client.Roundtrip(receiveCtx(t), "before shutdown")
	require.NoError(t, err)
	assert.Equal(t, server.Reply("before shutdown"), reply)

	require.NoError(t, srv.Shutdown(receiveCtx(t)))

	_, err = client.Receive(receiveCtx(t))
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.Send("after shutdown"), relay.ErrNotConnected)
	_, err = client.Receive(receiveCtx(t))
	assert.ErrorIs(t, err, relay.ErrNotConnected)
	assert.NoError(t, client.Close())
}

func TestCloseSendsReason(t *testing.T) {
	reasons := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _, err = conn.ReadMessage()
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			reasons <- fmt.Sprintf("%d %s", closeErr.Code, closeErr.Text)
		}
	}))
	defer ts.Close()

	client, err := relay.Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	select {
	case got := <-reasons:
		assert.Equal(t, fmt.Sprintf("%d %s", websocket.CloseNormalClosure, relay.CloseReason), got)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the close frame")
	}
}

func TestReceiveHonoursDeadline(t *testing.T) {
	url := startEcho(t, nil)

	client, err := relay.Dial(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = client.Receive(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDialWithOrigin(t *testing.T) {
	url := startEcho(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"http://relay.example"}
	})

	_, err := relay.Dial(context.Background(), url, relay.WithOrigin("http://other.example"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	client, err := relay.Dial(context.Background(), url,
		relay.WithOrigin("http://relay.example"),
		relay.WithHandshakeTimeout(time.Second),
		relay.WithWriteTimeout(time.Second))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	reply, err := client.Roundtrip(receiveCtx(t), "with origin")
	require.NoError(t, err)
	assert.Equal(t, server.Reply("with origin"), reply)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := relay.Dial(ctx, "ws://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ws://127.0.0.1:1")
}
