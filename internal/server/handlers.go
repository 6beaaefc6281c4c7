// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades the request and runs the echo loop for the new
// connection until it ends. Every request gets its own goroutine from
// net/http, so connections never wait on each other.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if !s.trackSession() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	newSession(conn, r.RemoteAddr, s.cfg, s.logger, s.now).run(s.baseCtx)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Echo server is running!")
}

// TestPageHandler serves an HTML page that connects back to the echo endpoint
// on the same host and shows every reply.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.logger.Warn().Err(err).Msg("error writing test page")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Echo WebSocket Test</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
        .sent { color: blue; }
        .received { color: green; }
        .info { color: gray; font-style: italic; }
    </style>
</head>
<body>
    <h1>Echo WebSocket Test</h1>
    <div>
        <input type="text" id="text" placeholder="Type a message..." disabled>
        <button id="send" disabled>Send</button>
    </div>
    <div id="log"></div>
    <script>
        const log = document.getElementById('log');
        const text = document.getElementById('text');
        const send = document.getElementById('send');

        function append(line, kind) {
            const el = document.createElement('div');
            el.className = kind;
            el.textContent = line;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(scheme + location.host + '/');
        ws.onopen = () => { append('connected', 'info'); text.disabled = false; send.disabled = false; };
        ws.onmessage = (ev) => append(ev.data, 'received');
        ws.onclose = (ev) => { append('closed (' + ev.code + ')', 'info'); text.disabled = true; send.disabled = true; };

        function sendText() {
            if (ws.readyState !== WebSocket.OPEN) return;
            ws.send(text.value);
            append(text.value, 'sent');
            text.value = '';
        }
        send.onclick = sendText;
        text.addEventListener('keypress', (e) => { if (e.key === 'Enter') sendText(); });
    </script>
</body>
</html>`
