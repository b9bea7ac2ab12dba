package bus

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const defaultShardCount = 16

// simpleEvent is a basic implementation of Event.
type simpleEvent struct {
	typeStr string
	source  string
	ts      time.Time
	data    any
}

func (e simpleEvent) Type() string         { return e.typeStr }
func (e simpleEvent) Source() string       { return e.source }
func (e simpleEvent) Timestamp() time.Time { return e.ts }
func (e simpleEvent) Data() any            { return e.data }

// NewEvent creates a simple Event implementation.
func NewEvent(typ, src string, data any) Event {
	return simpleEvent{typeStr: typ, source: src, ts: time.Now(), data: data}
}

type subscription struct {
	id        string
	seq       uint64
	topic     string
	eventType string
	handler   EventHandler
	active    atomic.Bool
	cancel    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) Topic() string     { return s.topic }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) IsActive() bool    { return s.active.Load() }
func (s *subscription) Cancel() error {
	if s.active.CompareAndSwap(true, false) && s.cancel != nil {
		s.cancel()
	}
	return nil
}

// shard owns the topics whose hash falls into it: topic -> eventType -> subID -> subscription.
type shard struct {
	mu     sync.RWMutex
	topics map[string]map[string]map[string]*subscription
}

type inMemoryBus struct {
	shards []*shard
	seq    atomic.Uint64

	obsMu     sync.RWMutex
	observers map[EventBusObserver]struct{}
	metrics   EventBusMetrics
}

// New creates a new EventBus instance.
func New() EventBus {
	return NewSharded(defaultShardCount)
}

// NewSharded creates a bus whose topic registry is split into n shards.
func NewSharded(n int) EventBus {
	if n < 1 {
		n = 1
	}
	b := &inMemoryBus{
		shards:    make([]*shard, n),
		observers: make(map[EventBusObserver]struct{}),
	}
	for i := range b.shards {
		b.shards[i] = &shard{topics: make(map[string]map[string]map[string]*subscription)}
	}
	return b
}

func (b *inMemoryBus) shardFor(topic string) *shard {
	return b.shards[xxhash.Sum64String(topic)%uint64(len(b.shards))]
}

func (b *inMemoryBus) Subscribe(topic, eventType string, handler EventHandler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: nil handler")
	}
	sh := b.shardFor(topic)
	id := uuid.NewString()
	s := &subscription{
		id:        id,
		seq:       b.seq.Add(1),
		topic:     topic,
		eventType: eventType,
		handler:   handler,
	}
	s.active.Store(true)
	s.cancel = func() {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		byType, ok := sh.topics[topic]
		if !ok {
			return
		}
		delete(byType[eventType], id)
		if len(byType[eventType]) == 0 {
			delete(byType, eventType)
		}
		if len(byType) == 0 {
			delete(sh.topics, topic)
		}
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	byType := sh.topics[topic]
	if byType == nil {
		byType = make(map[string]map[string]*subscription)
		sh.topics[topic] = byType
	}
	if byType[eventType] == nil {
		byType[eventType] = make(map[string]*subscription)
	}
	byType[eventType][id] = s
	return s, nil
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) Publish(topic string, event Event) error {
	return b.Prepare(topic, event)()
}

func (b *inMemoryBus) Prepare(topic string, event Event) Delivery {
	etype := event.Type()
	sh := b.shardFor(topic)

	sh.mu.RLock()
	var subs []*subscription
	if m := sh.topics[topic][etype]; len(m) > 0 {
		subs = make([]*subscription, 0, len(m))
		for _, s := range m {
			subs = append(subs, s)
		}
	}
	sh.mu.RUnlock()

	// registration order
	slices.SortFunc(subs, func(x, y *subscription) int {
		switch {
		case x.seq < y.seq:
			return -1
		case x.seq > y.seq:
			return 1
		}
		return 0
	})

	return func() error {
		start := time.Now()
		var all error
		delivered := 0
		for _, s := range subs {
			if !s.active.Load() {
				continue
			}
			delivered++
			if err := s.handler(event); err != nil {
				all = errors.Join(all, err)
			}
		}
		b.observe(topic, etype, delivered, all, time.Since(start))
		return all
	}
}

func (b *inMemoryBus) observe(topic, etype string, handlers int, err error, d time.Duration) {
	b.obsMu.RLock()
	if len(b.observers) == 0 {
		b.obsMu.RUnlock()
		return
	}
	observers := make([]EventBusObserver, 0, len(b.observers))
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	b.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnDelivered(topic, etype, handlers, err, d)
	}

	b.obsMu.Lock()
	b.metrics.Published++
	b.metrics.DeliveredHandlers += uint64(handlers)
	if err != nil {
		b.metrics.Errors++
	}
	b.obsMu.Unlock()
}

func (b *inMemoryBus) HasSubscribers(topic string) bool {
	sh := b.shardFor(topic)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.topics[topic]) > 0
}

func (b *inMemoryBus) Topics() []TopicInfo {
	var out []TopicInfo
	for _, sh := range b.shards {
		sh.mu.RLock()
		for name, byType := range sh.topics {
			info := TopicInfo{Name: name, Subs: make(map[string]int, len(byType))}
			for etype, subs := range byType {
				info.Subs[etype] = len(subs)
			}
			out = append(out, info)
		}
		sh.mu.RUnlock()
	}
	return out
}

func (b *inMemoryBus) AddObserver(obs EventBusObserver) {
	b.obsMu.Lock()
	b.observers[obs] = struct{}{}
	b.obsMu.Unlock()
}

func (b *inMemoryBus) RemoveObserver(obs EventBusObserver) {
	b.obsMu.Lock()
	delete(b.observers, obs)
	b.obsMu.Unlock()
}

func (b *inMemoryBus) GetMetrics() EventBusMetrics {
	b.obsMu.RLock()
	defer b.obsMu.RUnlock()
	return b.metrics
}
