package mirror

import (
	"iter"
	"slices"
	"time"

	"github.com/zeusync/refmirror/internal/core/cell"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
)

// Sequence is the read-only view of a Mirror. Reads see the latest state;
// observers are notified at most once per throttle window.
//
// Sequence satisfies cell.Writable so that code writing to cells generically
// hits ErrReadOnly instead of silently diverging from the remote store.
type Sequence[T any] struct {
	items     *cell.Value[[]Entry[T]]
	throttled *cell.Throttled[[]Entry[T]]
}

var _ cell.Writable[[]int] = (*Sequence[int])(nil)

func newSequence[T any](items *cell.Value[[]Entry[T]], window time.Duration, m *metrics.Metrics) *Sequence[T] {
	s := &Sequence[T]{
		items:     items,
		throttled: cell.NewThrottled[[]Entry[T]](items, window),
	}
	if m != nil {
		s.throttled.Subscribe(func([]Entry[T]) { m.SequenceNotified() })
	}
	return s
}

// Get returns the elements in order.
func (s *Sequence[T]) Get() []T {
	return values(s.items.Get())
}

// Set always fails: the sequence only changes through remote notifications.
func (s *Sequence[T]) Set([]T) error {
	return ErrReadOnly
}

// Subscribe registers fn for throttled change notifications.
func (s *Sequence[T]) Subscribe(fn func([]T)) cell.Subscription {
	return s.throttled.Subscribe(func(es []Entry[T]) { fn(values(es)) })
}

// SubscribeEntries is Subscribe with keys attached.
func (s *Sequence[T]) SubscribeEntries(fn func([]Entry[T])) cell.Subscription {
	return s.throttled.Subscribe(func(es []Entry[T]) { fn(slices.Clone(es)) })
}

// Flush delivers a pending notification now instead of at the end of the window.
func (s *Sequence[T]) Flush() {
	s.throttled.Flush()
}

func (s *Sequence[T]) Entries() []Entry[T] {
	return slices.Clone(s.items.Get())
}

func (s *Sequence[T]) Keys() []string {
	es := s.items.Get()
	keys := make([]string, len(es))
	for i, e := range es {
		keys[i] = e.Key
	}
	return keys
}

func (s *Sequence[T]) Len() int {
	return len(s.items.Get())
}

func (s *Sequence[T]) At(i int) (T, bool) {
	es := s.items.Get()
	if i < 0 || i >= len(es) {
		var zero T
		return zero, false
	}
	return es[i].Value, true
}

func (s *Sequence[T]) Lookup(key string) (T, bool) {
	es := s.items.Get()
	if i := indexOf(es, key); i >= 0 {
		return es[i].Value, true
	}
	var zero T
	return zero, false
}

// IndexOf returns the position of key, or -1.
func (s *Sequence[T]) IndexOf(key string) int {
	return indexOf(s.items.Get(), key)
}

// All iterates key/element pairs of the state at call time.
func (s *Sequence[T]) All() iter.Seq2[string, T] {
	es := s.items.Get()
	return func(yield func(string, T) bool) {
		for _, e := range es {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// Version counts published changes.
func (s *Sequence[T]) Version() uint64 {
	return s.items.Version()
}

func values[T any](es []Entry[T]) []T {
	out := make([]T, len(es))
	for i, e := range es {
		out[i] = e.Value
	}
	return out
}
