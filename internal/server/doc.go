// Package server implements the WebSocket echo service.
//
// Every accepted connection runs its own loop: read one text frame, log it
// with a timestamp, reply with "Server received message: " followed by the
// text, then read the next frame. Connections share no state, and an error
// on one of them only ends that connection's loop.
//
// The implementation is organized into files for configuration, origin
// checks, the per-connection session, HTTP handlers and server lifecycle.
package server
