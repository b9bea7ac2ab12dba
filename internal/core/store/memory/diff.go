package memory

import (
	"reflect"

	"github.com/zeusync/refmirror/internal/core/store"
)

// event is the payload carried on the bus.
type event struct {
	typ  store.EventType
	snap store.Snapshot
	prev string
}

// diff returns the events a subscriber of path observes when the location
// goes from before to after, in delivery order: removed, added, moved,
// changed, value.
func (s *Store) diff(path string, before, after view) []event {
	var removed, added, moved, changed []event

	for _, c := range before.children {
		if _, ok := after.child(c.key); !ok {
			removed = append(removed, event{
				typ:  store.EventChildRemoved,
				snap: store.NewSnapshot(s.ref(store.JoinPath(path, c.key)), c.value, c.priority),
			})
		}
	}

	prev := ""
	for _, c := range after.children {
		snap := store.NewSnapshot(s.ref(store.JoinPath(path, c.key)), c.value, c.priority)
		old, ok := before.child(c.key)
		switch {
		case !ok:
			added = append(added, event{typ: store.EventChildAdded, snap: snap, prev: prev})
		default:
			if store.ComparePriority(old.priority, c.priority) != 0 {
				moved = append(moved, event{typ: store.EventChildMoved, snap: snap, prev: prev})
			}
			if !reflect.DeepEqual(old.value, c.value) {
				changed = append(changed, event{typ: store.EventChildChanged, snap: snap, prev: prev})
			}
		}
		prev = c.key
	}

	out := make([]event, 0, len(removed)+len(added)+len(moved)+len(changed)+1)
	out = append(out, removed...)
	out = append(out, added...)
	out = append(out, moved...)
	out = append(out, changed...)

	if !reflect.DeepEqual(before.value, after.value) || store.ComparePriority(before.priority, after.priority) != 0 {
		out = append(out, event{
			typ:  store.EventValue,
			snap: store.NewSnapshot(s.ref(path), after.value, after.priority),
		})
	}
	return out
}

// initial returns the events a new subscriber of kind typ receives for v.
func (s *Store) initial(path string, typ store.EventType, v view) []event {
	switch typ {
	case store.EventValue:
		return []event{{typ: typ, snap: store.NewSnapshot(s.ref(path), v.value, v.priority)}}
	case store.EventChildAdded:
		out := make([]event, 0, len(v.children))
		prev := ""
		for _, c := range v.children {
			out = append(out, event{
				typ:  typ,
				snap: store.NewSnapshot(s.ref(store.JoinPath(path, c.key)), c.value, c.priority),
				prev: prev,
			})
			prev = c.key
		}
		return out
	default:
		return nil
	}
}
