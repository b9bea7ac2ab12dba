package binding

import (
	"fmt"
	"sync/atomic"

	"github.com/zeusync/refmirror/internal/core/cell"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
	"github.com/zeusync/refmirror/internal/core/store"
)

var _ cell.Writable[any] = (*Priority)(nil)

// Priority mirrors the ordering priority of one store location. The store
// reports priority changes to the parent as child_moved, so the binding
// listens there and picks out its own key.
type Priority struct {
	*cell.TwoWay[any]

	ref    store.Ref
	parent store.Ref
	local  *cell.Value[any]
	sub    store.Subscription
	closed atomic.Bool

	logger  log.Log
	metrics *metrics.Metrics
}

// BindPriority binds the priority of ref, starting from initial.
func BindPriority(ref store.Ref, initial any, opts ...Option) (*Priority, error) {
	if ref == nil {
		return nil, ErrNilRef
	}
	parent := ref.Parent()
	if parent == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoParent, ref.Path())
	}
	o := newOptions(opts)

	p := &Priority{
		ref:     ref,
		parent:  parent,
		local:   cell.New(initial),
		logger:  o.logger.With(log.Path(ref.Path())),
		metrics: o.metrics,
	}
	p.TwoWay = cell.NewTwoWay[any](p.local, p.write)

	sub, err := parent.On(store.EventChildMoved, p.onMoved)
	if err != nil {
		return nil, fmt.Errorf("bind priority %q: %w", ref.Path(), err)
	}
	p.sub = sub
	p.metrics.BindingOpened(metrics.KindPriority)
	return p, nil
}

// BindPriorityFromSnapshot binds the priority of the location snap was taken
// from, starting from the priority it carries.
func BindPriorityFromSnapshot(snap store.Snapshot, opts ...Option) (*Priority, error) {
	if snap == nil {
		return nil, ErrNilRef
	}
	return BindPriority(snap.Ref(), snap.Priority(), opts...)
}

// AsPriority binds the priority of ref with no initial value.
func AsPriority(ref store.Ref, opts ...Option) (*Priority, error) {
	return BindPriority(ref, nil, opts...)
}

func (p *Priority) Ref() store.Ref {
	return p.ref
}

func (p *Priority) Unbind() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.metrics.BindingClosed(metrics.KindPriority)
	if p.sub == nil {
		return nil
	}
	return p.sub.Cancel()
}

func (p *Priority) onMoved(snap store.Snapshot, _ string) {
	if p.closed.Load() || snap.Key() != p.ref.Key() {
		return
	}
	_ = p.local.Set(snap.Priority())
}

func (p *Priority) write(priority any) error {
	err := p.ref.SetPriority(priority)
	p.metrics.BindingWrite(metrics.KindPriority, err)
	if err != nil {
		p.logger.Warn("priority write failed", log.Error(err))
	}
	return err
}
