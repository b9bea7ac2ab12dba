package binding

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/refmirror/internal/core/mirror"
	"github.com/zeusync/refmirror/internal/core/store"
	"github.com/zeusync/refmirror/internal/core/store/memory"
)

func TestBindValue_RoundTrip(t *testing.T) {
	s := memory.New()
	ref := s.Ref("profile/name")

	v, err := BindValue(ref, "placeholder")
	require.NoError(t, err)
	// the store reports the node as absent straight away
	require.Nil(t, v.Get())
	require.Same(t, ref, v.Ref())

	require.NoError(t, v.Set("ada"))
	require.Equal(t, "ada", v.Get())
	snap, err := ref.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "ada", snap.Val())

	// remote writes flow in
	require.NoError(t, s.Ref("profile").Set(map[string]any{"name": "grace"}))
	require.Equal(t, "grace", v.Get())

	var seen []any
	v.Subscribe(func(x any) { seen = append(seen, x) })
	require.NoError(t, ref.Set("linus"))
	require.Equal(t, []any{"linus"}, seen)

	require.NoError(t, v.Unbind())
	require.NoError(t, v.Unbind())
	require.NoError(t, ref.Set("ken"))
	require.Equal(t, "linus", v.Get())
	require.Equal(t, []any{"linus"}, seen)
}

func TestBindValue_WriteErrorIsReturned(t *testing.T) {
	ref := newFakeRef("a")
	ref.setErr = errors.New("permission denied")

	v, err := BindValue(ref, 1)
	require.NoError(t, err)
	require.Equal(t, 1, v.Get())

	require.ErrorIs(t, v.Set(2), ref.setErr)
	require.Equal(t, 1, v.Get())
	require.Equal(t, []any{2}, ref.sets)
}

func TestBindValue_SubscribeError(t *testing.T) {
	boom := errors.New("offline")
	ref := newFakeRef("a")
	ref.onErr = map[store.EventType]error{store.EventValue: boom}

	_, err := BindValue(ref, nil)
	require.ErrorIs(t, err, boom)

	_, err = BindValue(nil, nil)
	require.ErrorIs(t, err, ErrNilRef)
}

func TestBindValue_DropsLateNotifications(t *testing.T) {
	ref := newFakeRef("a")
	v, err := AsValue(ref)
	require.NoError(t, err)

	ref.mu.Lock()
	h := ref.handlers[store.EventValue][0].h
	ref.mu.Unlock()

	require.NoError(t, v.Unbind())
	// a notification that was already dispatched when Unbind ran
	h(store.NewSnapshot(ref, "late", nil), "")
	require.Nil(t, v.Get())
	require.Zero(t, ref.active())
}

func TestBindPriority_RoundTrip(t *testing.T) {
	s := memory.New()
	list := s.Ref("list")
	require.NoError(t, list.Set(map[string]any{"a": 1, "b": 2}))
	require.NoError(t, list.Child("a").SetPriority(1))

	p, err := BindPriority(list.Child("a"), 1.0)
	require.NoError(t, err)
	require.Equal(t, 1.0, p.Get())

	require.NoError(t, p.Set(5))
	require.Equal(t, 5.0, p.Get())
	snap, err := s.Ref("list/a").Snapshot()
	require.NoError(t, err)
	require.Equal(t, 5.0, snap.Priority())

	// siblings moving are not ours
	require.NoError(t, list.Child("b").SetPriority(9))
	require.Equal(t, 5.0, p.Get())

	require.NoError(t, list.Child("a").SetPriority("z"))
	require.Equal(t, "z", p.Get())

	require.NoError(t, p.Unbind())
	require.NoError(t, p.Unbind())
	require.NoError(t, list.Child("a").SetPriority(3))
	require.Equal(t, "z", p.Get())
}

func TestBindPriority_Errors(t *testing.T) {
	s := memory.New()
	_, err := BindPriority(s.Root(), nil)
	require.ErrorIs(t, err, ErrNoParent)

	_, err = BindPriority(nil, nil)
	require.ErrorIs(t, err, ErrNilRef)

	ref := newFakeRef("list/a")
	ref.setErr = errors.New("rejected")
	p, err := AsPriority(ref)
	require.NoError(t, err)
	require.ErrorIs(t, p.Set(4), ref.setErr)
	require.Nil(t, p.Get())
}

func TestBindPriorityFromSnapshot(t *testing.T) {
	s := memory.New()
	ref := s.Ref("list/a")
	require.NoError(t, ref.SetWithPriority("x", 2))

	snap, err := ref.Snapshot()
	require.NoError(t, err)
	p, err := BindPriorityFromSnapshot(snap)
	require.NoError(t, err)
	require.Equal(t, 2.0, p.Get())
	require.Equal(t, "list/a", p.Ref().Path())

	require.NoError(t, ref.SetPriority(7))
	require.Equal(t, 7.0, p.Get())
}

// recordingRemove counts removals per key.
type recordingRemove struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemove) remove(elem string) {
	r.mu.Lock()
	r.removed = append(r.removed, elem)
	r.mu.Unlock()
}

func keyed(snap store.Snapshot) (string, error) {
	return snap.Key(), nil
}

func TestBindCollection_PredecessorScenario(t *testing.T) {
	ref := newFakeRef("list")
	rm := &recordingRemove{}
	c, err := BindCollection(ref, keyed, rm.remove, WithThrottle(0))
	require.NoError(t, err)

	ref.emit(store.EventChildAdded, ref.child("k1", 1), "")
	ref.emit(store.EventChildAdded, ref.child("k2", 2), "k1")
	ref.emit(store.EventChildAdded, ref.child("k3", 3), "")
	ref.emit(store.EventChildMoved, ref.child("k1", 1), "k2")
	require.Equal(t, []string{"k3", "k2", "k1"}, c.Get())

	// absent key: nothing removed
	ref.emit(store.EventChildRemoved, ref.child("k9", nil), "")
	require.Equal(t, []string{"k3", "k2", "k1"}, c.Get())
	require.Empty(t, rm.removed)

	ref.emit(store.EventChildRemoved, ref.child("k2", 2), "")
	require.Equal(t, []string{"k3", "k1"}, c.Get())
	require.Equal(t, []string{"k2"}, rm.removed)
}

func TestBindCollection_ReadOnly(t *testing.T) {
	c, err := BindCollection(newFakeRef("list"), keyed, nil, WithThrottle(0))
	require.NoError(t, err)
	require.ErrorIs(t, c.Set([]string{"x"}), mirror.ErrReadOnly)
}

func TestBindCollection_DuplicateAddReplaces(t *testing.T) {
	ref := newFakeRef("list")
	rm := &recordingRemove{}
	c, err := BindCollection(ref, keyed, rm.remove, WithThrottle(0))
	require.NoError(t, err)

	ref.emit(store.EventChildAdded, ref.child("a", 1), "")
	ref.emit(store.EventChildAdded, ref.child("b", 2), "a")
	ref.emit(store.EventChildAdded, ref.child("a", 1), "b")
	require.Equal(t, []string{"b", "a"}, c.Get())
	require.Equal(t, []string{"a"}, rm.removed)
}

func TestBindCollection_CreateErrorSkipsChild(t *testing.T) {
	ref := newFakeRef("list")
	create := func(snap store.Snapshot) (string, error) {
		if snap.Key() == "bad" {
			return "", errors.New("cannot build")
		}
		return snap.Key(), nil
	}
	c, err := BindCollection(ref, create, nil, WithThrottle(0))
	require.NoError(t, err)

	ref.emit(store.EventChildAdded, ref.child("a", 1), "")
	ref.emit(store.EventChildAdded, ref.child("bad", 1), "a")
	ref.emit(store.EventChildAdded, ref.child("c", 1), "bad")
	// c's predecessor never made it in, so c lands at the head
	require.Equal(t, []string{"c", "a"}, c.Get())
}

func TestBindCollection_PartialSubscribeFailure(t *testing.T) {
	boom := errors.New("quota")
	ref := newFakeRef("list")
	ref.onErr = map[store.EventType]error{store.EventChildMoved: boom}

	_, err := BindCollection(ref, keyed, nil)
	require.ErrorIs(t, err, boom)
	require.Zero(t, ref.active())

	_, err = BindCollection[string](ref, nil, nil)
	require.ErrorIs(t, err, ErrNilCreate)
	_, err = BindCollection(nil, keyed, nil)
	require.ErrorIs(t, err, ErrNilRef)
}

func TestBindCollection_UnbindTearsDown(t *testing.T) {
	ref := newFakeRef("list")
	rm := &recordingRemove{}
	c, err := BindCollection(ref, keyed, rm.remove, WithThrottle(0))
	require.NoError(t, err)
	require.Equal(t, 3, ref.active())

	ref.emit(store.EventChildAdded, ref.child("a", 1), "")
	ref.emit(store.EventChildAdded, ref.child("b", 2), "a")

	var notified [][]string
	c.Subscribe(func(v []string) { notified = append(notified, v) })

	require.NoError(t, c.Unbind())
	require.Zero(t, ref.active())
	require.Zero(t, c.Len())
	require.Equal(t, []string{"a", "b"}, rm.removed)
	require.Equal(t, [][]string{{}}, notified)

	require.NoError(t, c.Unbind())
	require.Equal(t, []string{"a", "b"}, rm.removed)
}

func TestBindCollection_TaggingLeavesSnapshotsIntact(t *testing.T) {
	s := memory.New()
	list := s.Ref("docs")

	create := func(snap store.Snapshot) (any, error) { return snap.Val(), nil }
	c, err := BindCollection[any](list, create, nil, WithThrottle(0))
	require.NoError(t, err)

	// a later subscriber shares the snapshots the collection was handed
	var seen []any
	_, err = list.On(store.EventChildAdded, func(snap store.Snapshot, _ string) {
		seen = append(seen, snap.Val())
	})
	require.NoError(t, err)

	require.NoError(t, list.Child("d1").Set(map[string]any{"title": "intro"}))

	elem, ok := c.Lookup("d1")
	require.True(t, ok)
	require.Equal(t, "d1", elem.(map[string]any)[mirror.TagField()])
	require.Equal(t, []any{map[string]any{"title": "intro"}}, seen)

	snap, err := s.Ref("docs/d1").Snapshot()
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "intro"}, snap.Val())
}

func TestBindValueCollection_WithMemoryStore(t *testing.T) {
	s := memory.New()
	list := s.Ref("todos")
	require.NoError(t, list.Set(map[string]any{"b": "write docs", "a": "fix bug"}))

	c, err := BindValueCollection(list, WithThrottle(0))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, c.Keys())

	vals := func() []any {
		out := []any{}
		for _, v := range c.Get() {
			out = append(out, v.Get())
		}
		return out
	}
	require.Equal(t, []any{"fix bug", "write docs"}, vals())

	// element writes go to their own child
	first, _ := c.At(0)
	require.NoError(t, first.Set("fix bug #12"))
	snap, err := s.Ref("todos/a").Snapshot()
	require.NoError(t, err)
	require.Equal(t, "fix bug #12", snap.Val())
	require.Equal(t, []any{"fix bug #12", "write docs"}, vals())

	// priority reorders
	require.NoError(t, list.Child("a").SetPriority(10))
	require.Equal(t, []string{"b", "a"}, c.Keys())

	pushed, err := list.Push("ship")
	require.NoError(t, err)
	require.Equal(t, []string{pushed.Key(), "b", "a"}, c.Keys())

	removed, ok := c.Lookup("b")
	require.True(t, ok)
	require.NoError(t, list.Child("b").Remove())
	require.Equal(t, []string{pushed.Key(), "a"}, c.Keys())
	// the removed element was unbound
	require.NoError(t, s.Ref("todos/b").Set("back"))
	require.Equal(t, "write docs", removed.Get())

	elems := c.Get()
	require.NoError(t, c.Unbind())
	require.Zero(t, c.Len())
	require.NoError(t, list.Child("x").Set("late"))
	require.Zero(t, c.Len())
	for _, v := range elems {
		require.NoError(t, s.Ref(v.Ref().Path()).Set("after unbind"))
		require.NotEqual(t, "after unbind", v.Get())
	}
}

func TestBindCollection_ThrottleCoalescesAdds(t *testing.T) {
	s := memory.New()
	list := s.Ref("feed")
	c, err := AsCollection(list, WithThrottle(40*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var sizes []int
	c.Subscribe(func(v []*Value) {
		mu.Lock()
		sizes = append(sizes, len(v))
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, list.Child(fmt.Sprintf("item%d", i)).Set(i))
	}
	require.Equal(t, 5, c.Len())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{5}, sizes)
}
