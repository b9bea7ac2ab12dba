// Package memory is an in-process remote store: a tree of values with
// priorities that raises value and child events the way a realtime database
// does.
//
// Mutations are linearized under the store lock and their events queued in
// the same critical section; the queue is drained outside the lock by
// whichever goroutine finds it idle. Handlers may therefore write to the store
// again: their events are appended and delivered after the current ones.
package memory

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zeusync/refmirror/internal/core/events/bus"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/observability/metrics"
	"github.com/zeusync/refmirror/internal/core/store"
)

type Option func(*Store)

func WithLogger(l log.Log) Option {
	return func(s *Store) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

type Store struct {
	mu   sync.Mutex
	root *node
	bus  bus.EventBus

	qmu      sync.Mutex
	queue    []func()
	draining bool

	logger  log.Log
	metrics *metrics.Metrics
}

func New(opts ...Option) *Store {
	s := &Store{
		root: &node{},
		bus:  bus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNop(s.logger).With(log.Component("memory_store"))
	if s.metrics != nil {
		s.bus.AddObserver(busObserver{metrics: s.metrics})
	}
	return s
}

// Root returns a ref to the root location.
func (s *Store) Root() *Ref {
	return s.ref("")
}

// Ref returns a ref to path. An invalid path yields a ref whose operations
// fail with store.ErrInvalidPath.
func (s *Store) Ref(path string) *Ref {
	clean, err := store.CleanPath(path)
	if err != nil {
		return &Ref{s: s, path: path, err: err}
	}
	return s.ref(clean)
}

func (s *Store) ref(clean string) *Ref {
	return &Ref{s: s, path: clean}
}

func (s *Store) get(path string) (any, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lookup(path)
	if !n.exists() {
		return nil, nil
	}
	return n.export(), n.priority
}

func (s *Store) on(path string, typ store.EventType, h store.Handler) (store.Subscription, error) {
	s.mu.Lock()
	sub, err := s.bus.Subscribe(path, string(typ), func(e bus.Event) error {
		ev := e.Data().(event)
		h(ev.snap, ev.prev)
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for _, ev := range s.initial(path, typ, viewOf(s.lookup(path))) {
		s.enqueue(func() {
			if !sub.IsActive() {
				return
			}
			s.metrics.StoreEvent(string(ev.typ))
			h(ev.snap, ev.prev)
		})
	}
	s.mu.Unlock()

	s.logger.Debug("subscribed", log.Path(path), log.Event(string(typ)), log.String("id", sub.ID()))
	s.drain()
	return sub, nil
}

// set replaces the value at path. With keepPriority the node's current
// priority is kept, otherwise priority is applied.
func (s *Store) set(path string, value any, keepPriority bool, priority any) error {
	var err error
	s.mutate(path, func() bool {
		var old *node
		if n := s.lookup(path); n.exists() {
			old = n
		}
		var n *node
		if n, err = build(value, old); err != nil {
			return false
		}
		if n != nil && !keepPriority {
			n.priority = priority
		}
		if n == nil {
			return s.delete(path)
		}
		s.put(path, n)
		return true
	})
	if err == nil {
		s.logger.Debug("set", log.Path(path), log.Bool("delete", value == nil))
	}
	return err
}

func (s *Store) setPriority(path string, priority any) {
	s.mutate(path, func() bool {
		n := s.lookup(path)
		if !n.exists() {
			return false
		}
		n.priority = priority
		return true
	})
	s.logger.Debug("set priority", log.Path(path), log.Any("priority", priority))
}

// mutate runs apply under the store lock and queues the events it causes for
// every watched location on the path, deepest first.
func (s *Store) mutate(path string, apply func() bool) {
	s.mu.Lock()
	watched := s.watched(path)
	before := make([]view, len(watched))
	for i, w := range watched {
		before[i] = viewOf(s.lookup(w))
	}
	if !apply() {
		s.mu.Unlock()
		return
	}
	for i, w := range watched {
		for _, ev := range s.diff(w, before[i], viewOf(s.lookup(w))) {
			deliver := s.bus.Prepare(w, bus.NewEvent(string(ev.typ), w, ev))
			s.enqueue(func() { _ = deliver() })
		}
	}
	s.mu.Unlock()
	s.drain()
}

// watched returns the subscribed locations that a write at path can affect:
// its ancestors, itself and its descendants.
func (s *Store) watched(path string) []string {
	var out []string
	for _, t := range s.bus.Topics() {
		if store.IsAncestorOrSelf(t.Name, path) || store.IsAncestorOrSelf(path, t.Name) {
			out = append(out, t.Name)
		}
	}
	slices.SortFunc(out, func(a, b string) int {
		if da, db := depth(a), depth(b); da != db {
			return db - da
		}
		return strings.Compare(a, b)
	})
	return out
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

func (s *Store) lookup(path string) *node {
	n := s.root
	if path == "" {
		return n
	}
	for _, seg := range strings.Split(path, "/") {
		if n == nil || n.children == nil {
			return nil
		}
		n = n.children[seg]
	}
	return n
}

// put stores n at path, turning leaf ancestors into inner nodes.
func (s *Store) put(path string, n *node) {
	if path == "" {
		s.root = n
		return
	}
	segs := strings.Split(path, "/")
	cur := s.root
	for _, seg := range segs[:len(segs)-1] {
		if cur.children == nil {
			cur.children = make(map[string]*node)
			cur.value = nil
		}
		next := cur.children[seg]
		if next == nil {
			next = &node{}
			cur.children[seg] = next
		}
		cur = next
	}
	if cur.children == nil {
		cur.children = make(map[string]*node)
		cur.value = nil
	}
	cur.children[segs[len(segs)-1]] = n
}

// delete removes path and prunes ancestors left empty. It reports whether
// anything was removed.
func (s *Store) delete(path string) bool {
	if path == "" {
		if !s.root.exists() {
			return false
		}
		s.root = &node{}
		return true
	}
	segs := strings.Split(path, "/")
	trail := make([]*node, 0, len(segs))
	cur := s.root
	for _, seg := range segs[:len(segs)-1] {
		trail = append(trail, cur)
		if cur.children == nil || cur.children[seg] == nil {
			return false
		}
		cur = cur.children[seg]
	}
	last := segs[len(segs)-1]
	if cur.children == nil || !cur.children[last].exists() {
		return false
	}
	delete(cur.children, last)

	for i := len(trail) - 1; i >= 0 && !cur.exists(); i-- {
		delete(trail[i].children, segs[i])
		cur = trail[i]
	}
	return true
}

func (s *Store) enqueue(fn func()) {
	s.qmu.Lock()
	s.queue = append(s.queue, fn)
	s.qmu.Unlock()
}

// drain delivers queued events until the queue is empty. Only one goroutine
// drains at a time; others return immediately.
func (s *Store) drain() {
	s.qmu.Lock()
	if s.draining {
		s.qmu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.qmu.Unlock()
		fn()
		s.qmu.Lock()
	}
	s.draining = false
	s.qmu.Unlock()
}

type busObserver struct {
	metrics *metrics.Metrics
}

func (o busObserver) OnDelivered(_, eventType string, handlers int, _ error, _ time.Duration) {
	for i := 0; i < handlers; i++ {
		o.metrics.StoreEvent(eventType)
	}
}
