package binding

import (
	"path"
	"sync"
	"sync/atomic"

	"github.com/zeusync/refmirror/internal/core/store"
)

// fakeRef is a store.Ref whose events are emitted by the test.
type fakeRef struct {
	key    string
	parent *fakeRef

	mu       sync.Mutex
	handlers map[store.EventType][]*fakeSub
	onErr    map[store.EventType]error
	setErr   error
	sets     []any
	prios    []any
}

func newFakeRef(p string) *fakeRef {
	if p == "" {
		return &fakeRef{}
	}
	r := &fakeRef{key: path.Base(p)}
	if dir := path.Dir(p); dir != "." && dir != "/" {
		r.parent = newFakeRef(dir)
	} else {
		r.parent = &fakeRef{}
	}
	return r
}

type fakeSub struct {
	h      store.Handler
	active atomic.Bool
}

func (s *fakeSub) ID() string     { return "fake" }
func (s *fakeSub) IsActive() bool { return s.active.Load() }

func (s *fakeSub) Cancel() error {
	s.active.Store(false)
	return nil
}

func (r *fakeRef) Key() string  { return r.key }
func (r *fakeRef) Path() string { return r.key }

func (r *fakeRef) Child(p string) store.Ref {
	return &fakeRef{key: p, parent: r}
}

func (r *fakeRef) Parent() store.Ref {
	if r.parent == nil {
		return nil
	}
	return r.parent
}

func (r *fakeRef) On(event store.EventType, h store.Handler) (store.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.onErr[event]; err != nil {
		return nil, err
	}
	if r.handlers == nil {
		r.handlers = map[store.EventType][]*fakeSub{}
	}
	sub := &fakeSub{h: h}
	sub.active.Store(true)
	r.handlers[event] = append(r.handlers[event], sub)
	return sub, nil
}

func (r *fakeRef) emit(event store.EventType, snap store.Snapshot, prev string) {
	r.mu.Lock()
	subs := r.handlers[event]
	r.mu.Unlock()
	for _, s := range subs {
		if s.IsActive() {
			s.h(snap, prev)
		}
	}
}

func (r *fakeRef) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, subs := range r.handlers {
		for _, s := range subs {
			if s.IsActive() {
				n++
			}
		}
	}
	return n
}

// child returns a snapshot of a child of r.
func (r *fakeRef) child(key string, value any) store.Snapshot {
	return store.NewSnapshot(&fakeRef{key: key, parent: r}, value, nil)
}

func (r *fakeRef) Set(value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, value)
	return r.setErr
}

func (r *fakeRef) SetPriority(priority any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prios = append(r.prios, priority)
	return r.setErr
}

func (r *fakeRef) SetWithPriority(value, priority any) error {
	if err := r.Set(value); err != nil {
		return err
	}
	return r.SetPriority(priority)
}

func (r *fakeRef) Push(value any) (store.Ref, error) {
	c := &fakeRef{key: "pushed", parent: r}
	return c, c.Set(value)
}

func (r *fakeRef) Remove() error {
	return r.Set(nil)
}
