package binding

import (
	"fmt"
	"sync/atomic"

	"github.com/zeusync/refmirror/internal/core/cell"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
	"github.com/zeusync/refmirror/internal/core/store"
)

var _ cell.Writable[any] = (*Value)(nil)

// Value mirrors the value of one store location. Set writes to that location;
// the local value changes when the store notifies it.
type Value struct {
	*cell.TwoWay[any]

	ref    store.Ref
	local  *cell.Value[any]
	sub    store.Subscription
	closed atomic.Bool

	logger  log.Log
	metrics *metrics.Metrics
}

// BindValue binds ref's value. initial is held until the store's first
// notification; nil means absent.
func BindValue(ref store.Ref, initial any, opts ...Option) (*Value, error) {
	if ref == nil {
		return nil, ErrNilRef
	}
	o := newOptions(opts)

	v := &Value{
		ref:     ref,
		local:   cell.New(initial),
		logger:  o.logger.With(log.Path(ref.Path())),
		metrics: o.metrics,
	}
	v.TwoWay = cell.NewTwoWay[any](v.local, v.write)

	sub, err := ref.On(store.EventValue, v.onValue)
	if err != nil {
		return nil, fmt.Errorf("bind value %q: %w", ref.Path(), err)
	}
	v.sub = sub
	v.metrics.BindingOpened(metrics.KindValue)
	return v, nil
}

// AsValue binds ref with no initial value.
func AsValue(ref store.Ref, opts ...Option) (*Value, error) {
	return BindValue(ref, nil, opts...)
}

func (v *Value) Ref() store.Ref {
	return v.ref
}

// Unbind stops following the store. The last value stays readable.
func (v *Value) Unbind() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	v.metrics.BindingClosed(metrics.KindValue)
	if v.sub == nil {
		return nil
	}
	return v.sub.Cancel()
}

func (v *Value) onValue(snap store.Snapshot, _ string) {
	// a notification already dispatched when Unbind ran is dropped here
	if v.closed.Load() {
		return
	}
	_ = v.local.Set(snap.Val())
}

func (v *Value) write(value any) error {
	err := v.ref.Set(value)
	v.metrics.BindingWrite(metrics.KindValue, err)
	if err != nil {
		v.logger.Warn("value write failed", log.Error(err))
	}
	return err
}
