// Package server implements the WebSocket echo service.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Server is the echo service. It owns its listening socket from Listen until
// Shutdown; open connections share nothing but the server's base context.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
	httpSrv  *http.Server

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu           sync.Mutex
	listener     net.Listener
	shuttingDown bool
	sessions     sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger replaces the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock replaces time.Now for the timestamp logged with each message.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Server for cfg. The configuration is used as given; call
// Config.Validate first when it comes from user input.
func New(cfg Config, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		logger:     log.Logger,
		now:        time.Now,
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "echo").Logger()

	origins := newOriginPolicy(cfg.AllowedOrigins, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	s.httpSrv = CreateServer(cfg.Addr(), s.Routes())
	return s
}

// Start binds host:port and serves until ctx is cancelled. A *BindError is
// returned when the address cannot be acquired.
func Start(ctx context.Context, host string, port int, opts ...Option) error {
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	if err := cfg.Validate(); err != nil {
		return err
	}
	return New(cfg, opts...).ListenAndServe(ctx)
}

// Config returns the configuration the server was built with.
func (s *Server) Config() Config {
	return s.cfg
}

// Handler returns the HTTP handler serving the echo endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Listen acquires the listening socket.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown {
		return errors.New("server is shut down")
	}
	if s.listener != nil {
		return errors.Errorf("already listening on %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return &BindError{Addr: s.cfg.Addr(), Err: err}
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the ws:// address clients can reach, using the bound port once
// the server is listening.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == nil {
		return s.cfg.URL()
	}
	port := s.cfg.Port
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	return "ws://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
}

// ListenAndServe binds the listener and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections on the listener acquired by Listen. When ctx is
// cancelled the server shuts down, bounded by ShutdownTimeout, and Serve
// returns nil.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	s.logger.Info().
		Str("url", s.URL()).
		Msgf("WebSocket server started successfully, accessible at %s", s.URL())

	// Also cancelled when Serve returns on its own, e.g. after a direct
	// Shutdown call, so the watcher below never outlives it.
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	eg, egCtx := errgroup.WithContext(serveCtx)

	eg.Go(func() error {
		defer stop()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Shutdown stops accepting connections, closes the open ones with a
// going-away close frame and waits for their loops to exit or ctx to expire.
// Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down echo server")

	s.mu.Lock()
	s.shuttingDown = true
	ln := s.listener
	s.mu.Unlock()

	s.cancelBase()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("http server shutdown error")
		return errors.Wrap(err, "shutdown http server")
	}
	// Serve may never have run, in which case the listener is still ours.
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Msg("error closing listener")
		}
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("echo server shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("shutdown timeout reached, some connections may still be open")
		return errors.Wrap(ctx.Err(), "wait for connections")
	}
}

// trackSession registers a connection loop unless shutdown has begun.
func (s *Server) trackSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.sessions.Add(1)
	return true
}
