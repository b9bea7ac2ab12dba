package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus keyed by topic and event
// type.
//
// Delivery is synchronous in the caller goroutine. Subscriber lists are
// captured when a delivery is prepared, so a handler subscribed after
// Prepare never sees that event, and a handler cancelled before its turn is
// skipped.
type EventBus interface {
	// Subscribe registers a handler for eventType within topic.
	Subscribe(topic, eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error

	// Publish delivers event to the current subscribers of event.Type() in topic.
	// Handler errors are joined.
	Publish(topic string, event Event) error
	// Prepare captures the current subscribers of event.Type() in topic and
	// returns a func that delivers to those still active when it runs.
	Prepare(topic string, event Event) Delivery

	// HasSubscribers reports whether topic has at least one active subscription.
	HasSubscribers(topic string) bool
	// Topics returns a snapshot of the topics that currently have subscribers.
	Topics() []TopicInfo

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics is only updated while at least one observer is registered.
	GetMetrics() EventBusMetrics
}

// Delivery runs a prepared publication.
type Delivery func() error

// Event is an immutable message transported by the bus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

// EventHandler is invoked per delivered event.
type EventHandler func(event Event) error

// Subscription represents a registered handler bound to a topic and event type.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries. Observers should return quickly.
type EventBusObserver interface {
	OnDelivered(topic, eventType string, handlers int, err error, duration time.Duration)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
}

// TopicInfo is a snapshot of one topic.
type TopicInfo struct {
	Name string
	// Subs counts active subscriptions per event type.
	Subs map[string]int
}
