// Package ws exposes a store over a websocket and implements store.Ref on
// top of such a connection.
//
// Frames are JSON text messages. A client opens subscriptions with "on"
// frames carrying its own subscription id; the server answers with "event"
// frames tagged with that id, in the order the store produced them.
package ws

import "github.com/zeusync/refmirror/internal/core/store"

const (
	OpOn              = "on"
	OpOff             = "off"
	OpSet             = "set"
	OpSetPriority     = "set_priority"
	OpSetWithPriority = "set_with_priority"
	OpRemove          = "remove"

	OpEvent = "event"
	OpError = "error"
)

// Frame is the single message shape in both directions.
type Frame struct {
	Op       string          `json:"op"`
	ID       string          `json:"id,omitempty"`
	Path     string          `json:"path,omitempty"`
	Event    store.EventType `json:"event,omitempty"`
	Value    any             `json:"value,omitempty"`
	Priority any             `json:"priority,omitempty"`
	Exists   bool            `json:"exists,omitempty"`
	Prev     string          `json:"prev,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func eventFrame(id string, snap store.Snapshot, prev string) Frame {
	path := ""
	if ref := snap.Ref(); ref != nil {
		path = ref.Path()
	}
	return Frame{
		Op:       OpEvent,
		ID:       id,
		Path:     path,
		Value:    snap.Val(),
		Priority: snap.Priority(),
		Exists:   snap.Exists(),
		Prev:     prev,
	}
}
