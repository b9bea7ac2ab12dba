package binding

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zeusync/refmirror/internal/core/mirror"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
	"github.com/zeusync/refmirror/internal/core/store"
)

// CreateFunc builds the local element for a child that appeared remotely.
type CreateFunc[T any] func(snap store.Snapshot) (T, error)

// RemoveFunc tears down an element whose child went away or whose
// collection was unbound.
type RemoveFunc[T any] func(elem T)

// DefaultRemove unbinds elements that are bindings themselves.
func DefaultRemove[T any](elem T) {
	if u, ok := any(elem).(Unbinder); ok {
		_ = u.Unbind()
	}
}

// Collection mirrors the ordered children of a store location as a read-only
// sequence of locally built elements.
type Collection[T any] struct {
	*mirror.Sequence[T]

	ref    store.Ref
	mirror *mirror.Mirror[T]
	create CreateFunc[T]
	remove RemoveFunc[T]

	mu     sync.Mutex
	subs   []store.Subscription
	closed bool

	logger  log.Log
	metrics *metrics.Metrics
}

// BindCollection follows the children of ref. create is called for each
// child, existing or new; remove (DefaultRemove when nil) for each element
// that leaves.
func BindCollection[T any](ref store.Ref, create CreateFunc[T], remove RemoveFunc[T], opts ...Option) (*Collection[T], error) {
	if ref == nil {
		return nil, ErrNilRef
	}
	if create == nil {
		return nil, ErrNilCreate
	}
	if remove == nil {
		remove = DefaultRemove[T]
	}
	o := newOptions(opts)
	logger := o.logger.With(log.Path(ref.Path()))

	m := mirror.New[T](mirror.WithThrottle(o.throttle), mirror.WithLogger(logger), mirror.WithMetrics(o.metrics))
	c := &Collection[T]{
		Sequence: m.Sequence(),
		ref:      ref,
		mirror:   m,
		create:   create,
		remove:   remove,
		logger:   logger,
		metrics:  o.metrics,
	}

	handlers := []struct {
		event store.EventType
		h     store.Handler
	}{
		{store.EventChildAdded, c.onAdded},
		{store.EventChildRemoved, c.onRemoved},
		{store.EventChildMoved, c.onMoved},
	}
	// no lock around On: stores may deliver the initial children before it returns
	for _, h := range handlers {
		sub, err := ref.On(h.event, h.h)
		if err != nil {
			_, _ = c.teardown()
			return nil, fmt.Errorf("bind collection %q: %s: %w", ref.Path(), h.event, err)
		}
		c.mu.Lock()
		c.subs = append(c.subs, sub)
		c.mu.Unlock()
	}

	c.metrics.BindingOpened(metrics.KindCollection)
	return c, nil
}

// BindValueCollection binds every child as a Value.
func BindValueCollection(ref store.Ref, opts ...Option) (*Collection[*Value], error) {
	create := func(snap store.Snapshot) (*Value, error) {
		return BindValue(snap.Ref(), snap.Val(), opts...)
	}
	return BindCollection(ref, create, DefaultRemove[*Value], opts...)
}

// AsCollection is BindValueCollection.
func AsCollection(ref store.Ref, opts ...Option) (*Collection[*Value], error) {
	return BindValueCollection(ref, opts...)
}

func (c *Collection[T]) Ref() store.Ref {
	return c.ref
}

// Unbind cancels the subscriptions, removes every element and empties the
// sequence.
func (c *Collection[T]) Unbind() error {
	closed, err := c.teardown()
	if closed {
		c.metrics.BindingClosed(metrics.KindCollection)
	}
	return err
}

// teardown reports false when the collection was already closed.
func (c *Collection[T]) teardown() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, nil
	}
	c.closed = true

	var errs error
	for _, sub := range c.subs {
		errs = errors.Join(errs, sub.Cancel())
	}
	c.subs = nil

	for _, elem := range c.Sequence.Get() {
		c.remove(elem)
	}
	c.mirror.Clear()
	return true, errs
}

func (c *Collection[T]) onAdded(snap store.Snapshot, prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	key := snap.Key()
	// stores announce a key once, but a replayed add must not duplicate it
	for _, old := range c.mirror.RemoveByKey(key) {
		c.remove(old)
	}

	elem, err := c.create(snap)
	if err != nil {
		c.logger.Warn("create failed, child skipped", log.Key(key), log.Error(err))
		return
	}
	c.mirror.InsertAfter(key, elem, prev)
}

func (c *Collection[T]) onRemoved(snap store.Snapshot, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, elem := range c.mirror.RemoveByKey(snap.Key()) {
		c.remove(elem)
	}
}

func (c *Collection[T]) onMoved(snap store.Snapshot, prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.mirror.MoveByKey(snap.Key(), prev)
}
