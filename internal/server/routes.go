// Package server wires HTTP handlers into a ServeMux for the echo service.
package server

import "net/http"

// Routes returns the ServeMux for the echo service. The WebSocket endpoint is
// mounted at "/" so clients can connect to ws://host:port with any path.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.WebSocketHandler)
	mux.HandleFunc("/healthz", HealthHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	return mux
}
