// Package cell provides the reactive cell primitive the bindings are built on:
// a versioned observable value, a two-way cell whose writes go to a custom
// handler, and a throttled view that coalesces bursts of changes.
package cell

import (
	"sync"
	"sync/atomic"
)

// Subscription is returned by Subscribe. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

type Readable[T any] interface {
	Get() T
	// Subscribe registers fn to be called with the new value after each change.
	Subscribe(fn func(T)) Subscription
}

type Writable[T any] interface {
	Readable[T]
	Set(T) error
}

type observer[T any] struct {
	fn     func(T)
	active atomic.Bool
	owner  *observers[T]
}

func (o *observer[T]) Cancel() {
	if o.active.CompareAndSwap(true, false) {
		o.owner.remove(o)
	}
}

// observers is an ordered observer list; notify runs callbacks outside the lock.
type observers[T any] struct {
	mu   sync.Mutex
	list []*observer[T]
}

func (o *observers[T]) add(fn func(T)) Subscription {
	obs := &observer[T]{fn: fn, owner: o}
	obs.active.Store(true)
	o.mu.Lock()
	o.list = append(o.list, obs)
	o.mu.Unlock()
	return obs
}

func (o *observers[T]) remove(target *observer[T]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, obs := range o.list {
		if obs == target {
			o.list = append(o.list[:i:i], o.list[i+1:]...)
			return
		}
	}
}

func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	list := o.list
	o.mu.Unlock()
	for _, obs := range list {
		if obs.active.Load() {
			obs.fn(v)
		}
	}
}

func (o *observers[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.list)
}

var _ Writable[int] = (*Value[int])(nil)

// Value holds a current value and notifies observers on every Set.
type Value[T any] struct {
	mu        sync.RWMutex
	value     T
	version   uint64
	observers observers[T]
}

// New creates a Value seeded with initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{value: initial}
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores value and notifies observers synchronously. It never fails.
func (v *Value[T]) Set(value T) error {
	v.mu.Lock()
	v.value = value
	v.version++
	v.mu.Unlock()
	v.observers.notify(value)
	return nil
}

// Version counts Sets since construction.
func (v *Value[T]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

func (v *Value[T]) Subscribe(fn func(T)) Subscription {
	return v.observers.add(fn)
}

// Observers returns the number of registered observers.
func (v *Value[T]) Observers() int {
	return v.observers.len()
}
