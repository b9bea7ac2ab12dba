package store

import "errors"

var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrInvalidPriority = errors.New("priority must be nil, a number or a string")
	ErrNilHandler      = errors.New("handler is nil")
)
