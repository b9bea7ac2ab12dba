// Package mirror maintains the local ordering of a remote keyed collection.
//
// A Mirror is driven by predecessor references: every element is placed
// directly after the element whose key it names, or at the head. There is no
// index of truth besides the order itself; positions are found by a linear
// scan on every insert and move. Mutations are reserved to the owner of the
// Mirror; everyone else observes it through the read-only Sequence.
package mirror

import (
	"slices"
	"sync"
	"time"

	"github.com/zeusync/refmirror/internal/core/cell"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
)

// DefaultThrottle is the coalescing window of Sequence notifications.
const DefaultThrottle = 100 * time.Millisecond

// Entry pairs an element with the key it was inserted under.
type Entry[T any] struct {
	Key   string
	Value T
}

type options struct {
	throttle time.Duration
	logger   log.Log
	metrics  *metrics.Metrics
}

type Option func(*options)

// WithThrottle sets the notification window. Zero notifies synchronously.
func WithThrottle(d time.Duration) Option {
	return func(o *options) { o.throttle = d }
}

func WithLogger(l log.Log) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type Mirror[T any] struct {
	mu       sync.Mutex
	tagField string
	items    *cell.Value[[]Entry[T]]
	view     *Sequence[T]
	logger   log.Log
	metrics  *metrics.Metrics
}

// New creates an empty Mirror. The process tag field is read, and frozen, here.
func New[T any](opts ...Option) *Mirror[T] {
	o := options{throttle: DefaultThrottle}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Mirror[T]{
		tagField: freezeTagField(),
		items:    cell.New[[]Entry[T]](nil),
		logger:   log.OrNop(o.logger),
		metrics:  o.metrics,
	}
	m.view = newSequence(m.items, o.throttle, o.metrics)
	return m
}

// Sequence returns the read-only view of the mirror.
func (m *Mirror[T]) Sequence() *Sequence[T] {
	return m.view
}

// TagField returns the field this mirror tags elements with.
func (m *Mirror[T]) TagField() string {
	return m.tagField
}

// InsertAfter tags elem with key and places it right after prevKey, or at the
// head when prevKey is "". A map[string]any element is copied before tagging,
// so the caller's map is never modified. When prevKey is not present the element goes to
// the head as well and InsertAfter returns false.
//
// Callers insert a key at most once between removals.
func (m *Mirror[T]) InsertAfter(key string, elem T, prevKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem = tag(elem, m.tagField, key)
	next, found := insertAfter(m.items.Get(), Entry[T]{Key: key, Value: elem}, prevKey)
	_ = m.items.Set(next)

	m.metrics.MirrorOp("insert")
	if !found {
		m.metrics.HeadFallback()
		m.logger.Debug("predecessor missing, inserted at head", log.Key(key), log.Prev(prevKey))
	}
	return found
}

// RemoveByKey removes every element tagged key and returns them in order.
// An absent key yields nil and publishes nothing.
func (m *Mirror[T]) RemoveByKey(key string) []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, removed := removeKey(m.items.Get(), key)
	if len(removed) == 0 {
		return nil
	}
	_ = m.items.Set(next)
	m.metrics.MirrorOp("remove")

	out := make([]T, len(removed))
	for i, e := range removed {
		out[i] = e.Value
	}
	return out
}

// MoveByKey relocates key right after prevKey (head when "" or missing) and
// publishes a single change. It returns false when key is not present.
func (m *Mirror[T]) MoveByKey(key, prevKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, removed := removeKey(m.items.Get(), key)
	if len(removed) == 0 {
		return false
	}
	found := true
	for _, e := range removed {
		var ok bool
		next, ok = insertAfter(next, e, prevKey)
		found = found && ok
	}
	_ = m.items.Set(next)

	m.metrics.MirrorOp("move")
	if !found {
		m.metrics.HeadFallback()
		m.logger.Debug("predecessor missing, moved to head", log.Key(key), log.Prev(prevKey))
	}
	return true
}

// Clear removes all elements in one change and returns them in order.
func (m *Mirror[T]) Clear() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.items.Get()
	if len(current) == 0 {
		return nil
	}
	_ = m.items.Set(nil)
	m.metrics.MirrorOp("clear")

	out := make([]T, len(current))
	for i, e := range current {
		out[i] = e.Value
	}
	return out
}

// insertAfter returns a new slice; entries is never modified.
func insertAfter[T any](entries []Entry[T], e Entry[T], prevKey string) ([]Entry[T], bool) {
	idx, found := 0, true
	if prevKey != "" {
		if i := indexOf(entries, prevKey); i >= 0 {
			idx = i + 1
		} else {
			found = false
		}
	}
	out := make([]Entry[T], 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, e)
	out = append(out, entries[idx:]...)
	return out, found
}

func removeKey[T any](entries []Entry[T], key string) ([]Entry[T], []Entry[T]) {
	if indexOf(entries, key) < 0 {
		return entries, nil
	}
	var removed []Entry[T]
	kept := make([]Entry[T], 0, len(entries))
	for _, e := range entries {
		if e.Key == key {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

func indexOf[T any](entries []Entry[T], key string) int {
	return slices.IndexFunc(entries, func(e Entry[T]) bool { return e.Key == key })
}
