// Package store describes the remote store capabilities the bindings consume:
// addressable refs, per-node event subscriptions, snapshots and writes.
//
// Implementations deliver handlers serially for a given store connection.
// A child event's prevKey is the key of the sibling immediately preceding the
// child in the parent's order, or "" when the child is first.
package store

type EventType string

const (
	// EventValue fires once with the current value on subscribe, then on every change.
	EventValue EventType = "value"
	// EventChildAdded fires once per existing child on subscribe, then for each new child.
	EventChildAdded EventType = "child_added"
	// EventChildRemoved carries the snapshot the child had before removal.
	EventChildRemoved EventType = "child_removed"
	// EventChildMoved fires when a child's priority changes.
	EventChildMoved EventType = "child_moved"
	// EventChildChanged fires when a child's value changes.
	EventChildChanged EventType = "child_changed"
)

// EventTypes lists every event in the order a single mutation emits them.
var EventTypes = []EventType{
	EventChildRemoved,
	EventChildAdded,
	EventChildMoved,
	EventChildChanged,
	EventValue,
}

func (e EventType) Valid() bool {
	switch e {
	case EventValue, EventChildAdded, EventChildRemoved, EventChildMoved, EventChildChanged:
		return true
	default:
		return false
	}
}

func (e EventType) String() string { return string(e) }

// Handler receives one notification. prevKey is only meaningful for
// child_added, child_moved and child_changed.
type Handler func(snap Snapshot, prevKey string)

// Subscription is the handle returned by Ref.On. Cancel is idempotent; once it
// returns the handler is never invoked again.
type Subscription interface {
	ID() string
	IsActive() bool
	Cancel() error
}

// Ref addresses one node of the remote tree.
type Ref interface {
	// Key is the last path segment, "" for the root.
	Key() string
	Path() string
	// Parent returns nil for the root.
	Parent() Ref
	Child(path string) Ref

	On(event EventType, h Handler) (Subscription, error)

	Set(value any) error
	SetPriority(priority any) error
	SetWithPriority(value, priority any) error
	Push(value any) (Ref, error)
	Remove() error
}

// Snapshot is an immutable view of a node at the time an event was produced.
type Snapshot interface {
	Key() string
	Ref() Ref
	Val() any
	Priority() any
	Exists() bool
}
