// Package server runs the per-connection echo loop: read a frame, log it,
// reply on the same connection, then read the next one.
package server

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// session owns one upgraded connection for its whole lifetime. Nothing in it
// is shared with other sessions.
type session struct {
	id     string
	conn   *websocket.Conn
	addr   string
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func newSession(conn *websocket.Conn, addr string, cfg Config, logger zerolog.Logger, now func() time.Time) *session {
	id := uuid.NewString()
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if now == nil {
		now = time.Now
	}

	return &session{
		id:   id,
		conn: conn,
		addr: addr,
		cfg:  cfg,
		logger: logger.With().
			Str("conn_id", id).
			Str("remote_addr", addr).
			Logger(),
		now: now,
	}
}

// run processes messages until the peer goes away, the transport fails or
// ctx is cancelled. Errors end the loop and are never returned.
func (s *session) run(ctx context.Context) {
	s.logger.Trace().Msg("client connected")

	stopShutdownWatch := context.AfterFunc(ctx, s.goingAway)
	stopKeepalive := s.startKeepalive()
	defer func() {
		stopKeepalive()
		stopShutdownWatch()
		s.closeConnection()
		s.logger.Trace().Msg("client disconnected")
	}()

	s.setupReadConnection()

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		s.extendReadDeadline()

		if messageType != websocket.TextMessage {
			s.logger.Debug().Int("frame_type", messageType).Int("size", len(payload)).Msg("ignoring non-text frame")
			continue
		}

		if !utf8.Valid(payload) {
			s.logger.Warn().Msg("text frame is not valid UTF-8; closing connection")
			s.writeClose(websocket.CloseInvalidFramePayloadData, "invalid utf-8")
			return
		}

		if !s.handleText(string(payload)) {
			return
		}
	}
}

// handleText logs one message and sends its reply. It returns false when the
// reply could not be written and the loop has to stop.
func (s *session) handleText(message string) bool {
	s.logger.Info().
		Str("received_at", s.now().Format(time.ANSIC)).
		Str("text", message).
		Msg("message received")

	return s.writeText(Reply(message))
}

func (s *session) writeText(reply string) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.logger.Warn().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Warn().Err(err).Msg("error writing reply")
		}
		return false
	}
	return true
}

// setupReadConnection configures read deadlines and the pong handler when
// keepalive is enabled. Without keepalive an idle connection stays open.
func (s *session) setupReadConnection() {
	if s.cfg.Keepalive.PingInterval <= 0 {
		return
	}
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})
}

func (s *session) extendReadDeadline() {
	if s.cfg.Keepalive.PingInterval <= 0 {
		return
	}
	deadline := time.Now().Add(s.cfg.Keepalive.PingInterval + s.cfg.Keepalive.PongTimeout)
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		s.logger.Debug().Err(err).Msg("error setting read deadline")
	}
}

// startKeepalive pings the peer every PingInterval. WriteControl is safe to
// call concurrently with the loop's writes. The returned func stops the pinger
// and waits for it to exit.
func (s *session) startKeepalive() func() {
	if s.cfg.Keepalive.PingInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(s.cfg.Keepalive.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !s.ping() {
					// Unblocks the reader so the loop can finish.
					s.closeConnection()
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (s *session) ping() bool {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Debug().Err(err).Msg("error writing ping")
		}
		return false
	}
	return true
}

// handleReadError logs why the read loop stopped.
func (s *session) handleReadError(err error) {
	if errors.Is(err, websocket.ErrReadLimit) {
		s.logger.Warn().Int64("max_message_size", s.cfg.MaxMessageSize).Msg("message exceeded maximum size")
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		s.logger.Trace().Err(err).Msg("client closed connection")
		return
	}

	if isExpectedCloseError(err) {
		s.logger.Trace().Err(err).Msg("connection closed")
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure) {
		s.logger.Warn().Err(err).Msg("unexpected close from client")
		return
	}

	s.logger.Warn().Err(err).Msg("websocket read error")
}

// goingAway tells the peer the server is shutting down and closes the
// socket, which unblocks a pending read.
func (s *session) goingAway() {
	s.writeClose(websocket.CloseGoingAway, "server shutting down")
	s.closeConnection()
}

func (s *session) writeClose(code int, text string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(code, text)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Debug().Err(err).Msg("error writing close message")
		}
	}
}

// closeConnection is safe to call more than once.
func (s *session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug().Err(err).Msg("error closing connection")
	}
}
