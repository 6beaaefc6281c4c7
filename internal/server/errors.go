// Package server defines the error types returned by the echo service and
// helpers that classify transport errors.
package server

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// BindError reports that the listening socket could not be acquired, for
// example because the address is already in use.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// IsBindError reports whether err, or anything it wraps, is a *BindError.
func IsBindError(err error) bool {
	var bindErr *BindError
	return errors.As(err, &bindErr)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
