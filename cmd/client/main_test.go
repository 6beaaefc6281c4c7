package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/wsecho/internal/server"
)

func startEcho(t *testing.T) string {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Keepalive.PingInterval = 0
	srv := server.New(cfg, server.WithLogger(zerolog.Nop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("a\n\nb c\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "b c"}, lines)
}

func TestClientCommandSendsArguments(t *testing.T) {
	url := startEcho(t)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--url", url, "hello", "world"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Server received message: hello\nServer received message: world\n", out.String())
}

func TestClientCommandReadsStdin(t *testing.T) {
	url := startEcho(t)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetIn(strings.NewReader("first\nsecond\n"))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-u", url})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Server received message: first\nServer received message: second\n", out.String())
}

func TestClientCommandDialFailure(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--url", "ws://127.0.0.1:1", "hello"})

	assert.Error(t, cmd.Execute())
}
