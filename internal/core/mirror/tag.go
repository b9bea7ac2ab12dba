package mirror

import (
	"maps"
	"sync"
)

// DefaultTagField is the field under which an element's key is attached.
const DefaultTagField = ".__refmirror_key__"

// Tagger is implemented by elements that want their key attached to them.
type Tagger interface {
	SetTag(field, key string)
}

var (
	tagMu     sync.Mutex
	tagField  = DefaultTagField
	tagFrozen bool
)

// SetTagField overrides the tag field for the whole process. It must be called
// before the first Mirror is built; afterwards it returns ErrTagFieldFrozen.
// Pick a name that cannot collide with real payload fields when elements are
// persisted verbatim.
func SetTagField(name string) error {
	if name == "" {
		return ErrEmptyTagField
	}
	tagMu.Lock()
	defer tagMu.Unlock()
	if tagFrozen {
		return ErrTagFieldFrozen
	}
	tagField = name
	return nil
}

// TagField returns the process-wide tag field.
func TagField() string {
	tagMu.Lock()
	defer tagMu.Unlock()
	return tagField
}

func freezeTagField() string {
	tagMu.Lock()
	defer tagMu.Unlock()
	tagFrozen = true
	return tagField
}

// tag returns elem with key attached. Maps may be shared with the store's
// snapshots, so a tagged copy is returned instead of writing in place.
func tag[T any](elem T, field, key string) T {
	switch e := any(elem).(type) {
	case Tagger:
		e.SetTag(field, key)
	case map[string]any:
		if e != nil {
			c := maps.Clone(e)
			c[field] = key
			if t, ok := any(c).(T); ok {
				return t
			}
		}
	}
	return elem
}
