// Package server constructs the HTTP server that carries the WebSocket
// endpoint.
package server

import (
	"net/http"
	"time"
)

// CreateServer creates an HTTP server for addr and handler with timeouts for
// the plain HTTP phase. Upgraded connections clear these deadlines, so they
// only bound the handshake and the health/test endpoints.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
