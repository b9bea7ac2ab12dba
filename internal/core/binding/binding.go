// Package binding keeps local reactive state in sync with remote store
// locations.
//
// Every binding registers store subscriptions when it is built and holds them
// until Unbind is called; there is no other teardown. Writes to a binding are
// forwarded to the store and reach local state only when the store echoes
// them back.
package binding

import (
	"errors"
	"time"

	"github.com/zeusync/refmirror/internal/core/mirror"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
)

var (
	ErrNilRef    = errors.New("binding: ref is nil")
	ErrNoParent  = errors.New("binding: priority binding needs a ref with a parent")
	ErrNilCreate = errors.New("binding: create func is nil")
)

// Unbinder is implemented by every binding. Unbind cancels the binding's
// subscriptions; calling it again is a no-op.
type Unbinder interface {
	Unbind() error
}

type options struct {
	logger   log.Log
	metrics  *metrics.Metrics
	throttle time.Duration
}

type Option func(*options)

func WithLogger(l log.Log) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithThrottle sets the notification window of collection sequences.
func WithThrottle(d time.Duration) Option {
	return func(o *options) { o.throttle = d }
}

func newOptions(opts []Option) options {
	o := options{throttle: mirror.DefaultThrottle}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = log.OrNop(o.logger)
	return o
}
