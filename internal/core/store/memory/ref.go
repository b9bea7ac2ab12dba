package memory

import (
	"github.com/zeusync/refmirror/internal/core/store"
)

var _ store.Ref = (*Ref)(nil)

// Ref addresses one location of a Store.
type Ref struct {
	s    *Store
	path string
	err  error
}

func (r *Ref) Key() string {
	if r.path == "" {
		return ""
	}
	return store.KeyOf(r.path)
}

func (r *Ref) Path() string {
	return r.path
}

func (r *Ref) Parent() store.Ref {
	parent, ok := store.ParentPath(r.path)
	if !ok || r.err != nil {
		return nil
	}
	return r.s.ref(parent)
}

func (r *Ref) Child(path string) store.Ref {
	if r.err != nil {
		return r
	}
	clean, err := store.CleanPath(path)
	if err != nil {
		return &Ref{s: r.s, path: store.JoinPath(r.path, path), err: err}
	}
	return r.s.ref(store.JoinPath(r.path, clean))
}

// Snapshot returns the current state of the location.
func (r *Ref) Snapshot() (store.Snapshot, error) {
	if r.err != nil {
		return nil, r.err
	}
	value, priority := r.s.get(r.path)
	return store.NewSnapshot(r, value, priority), nil
}

func (r *Ref) On(event store.EventType, h store.Handler) (store.Subscription, error) {
	switch {
	case r.err != nil:
		return nil, r.err
	case !event.Valid():
		return nil, store.ErrUnknownEvent
	case h == nil:
		return nil, store.ErrNilHandler
	}
	return r.s.on(r.path, event, h)
}

func (r *Ref) Set(value any) error {
	if r.err != nil {
		return r.err
	}
	return r.s.set(r.path, value, true, nil)
}

func (r *Ref) SetPriority(priority any) error {
	if r.err != nil {
		return r.err
	}
	p, err := store.NormalizePriority(priority)
	if err != nil {
		return err
	}
	r.s.setPriority(r.path, p)
	return nil
}

func (r *Ref) SetWithPriority(value, priority any) error {
	if r.err != nil {
		return r.err
	}
	p, err := store.NormalizePriority(priority)
	if err != nil {
		return err
	}
	return r.s.set(r.path, value, false, p)
}

// Push stores value under a new time ordered child key.
func (r *Ref) Push(value any) (store.Ref, error) {
	if r.err != nil {
		return nil, r.err
	}
	key, err := store.NewPushKey()
	if err != nil {
		return nil, err
	}
	child := r.s.ref(store.JoinPath(r.path, key))
	if err := child.Set(value); err != nil {
		return nil, err
	}
	return child, nil
}

func (r *Ref) Remove() error {
	return r.Set(nil)
}
