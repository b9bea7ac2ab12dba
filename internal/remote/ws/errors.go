package ws

import (
	"errors"
	"fmt"
)

var (
	ErrClientClosed   = errors.New("ws: client is closed")
	ErrSendBufferFull = errors.New("ws: send buffer is full")
	ErrUnknownOp      = errors.New("ws: unknown op")
)

// RemoteError is an error frame reported by the server.
type RemoteError struct {
	ID      string
	Path    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("ws: remote error for %s (%s): %s", e.ID, e.Path, e.Message)
	}
	return fmt.Sprintf("ws: remote error at %q: %s", e.Path, e.Message)
}
