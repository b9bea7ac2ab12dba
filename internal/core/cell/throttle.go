package cell

import (
	"sync"
	"time"
)

// Throttled republishes a source's changes at most once per window. The first
// change after a quiet period arms a timer; every change until it fires is
// coalesced, and observers then receive the source's value at fire time.
//
// Get always returns the source's current value. A window <= 0 republishes
// synchronously.
type Throttled[T any] struct {
	source    Readable[T]
	window    time.Duration
	observers observers[T]

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool
	sub     Subscription
}

func NewThrottled[T any](source Readable[T], window time.Duration) *Throttled[T] {
	t := &Throttled[T]{source: source, window: window}
	t.sub = source.Subscribe(t.onChange)
	return t
}

func (t *Throttled[T]) Get() T {
	return t.source.Get()
}

func (t *Throttled[T]) Subscribe(fn func(T)) Subscription {
	return t.observers.add(fn)
}

// Window returns the coalescing window.
func (t *Throttled[T]) Window() time.Duration {
	return t.window
}

// Pending reports whether a notification is scheduled.
func (t *Throttled[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *Throttled[T]) onChange(T) {
	if t.window <= 0 {
		t.observers.notify(t.source.Get())
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.pending {
		return
	}
	t.pending = true
	t.timer = time.AfterFunc(t.window, t.fire)
}

func (t *Throttled[T]) fire() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.mu.Unlock()

	t.observers.notify(t.source.Get())
}

// Flush delivers a scheduled notification immediately.
func (t *Throttled[T]) Flush() {
	t.mu.Lock()
	if !t.pending || t.closed {
		t.mu.Unlock()
		return
	}
	if t.timer.Stop() {
		t.pending = false
		t.mu.Unlock()
		t.observers.notify(t.source.Get())
		return
	}
	// the timer already fired and its callback will deliver
	t.mu.Unlock()
}

// Close detaches from the source and drops any scheduled notification.
func (t *Throttled[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.sub.Cancel()
	if t.timer != nil {
		t.timer.Stop()
	}
}
