package store

// snapshot is the Snapshot shared by store implementations.
type snapshot struct {
	ref      Ref
	value    any
	priority any
}

// NewSnapshot returns a Snapshot of ref holding value and priority. A nil
// value means the node does not exist.
func NewSnapshot(ref Ref, value, priority any) Snapshot {
	return snapshot{ref: ref, value: value, priority: priority}
}

func (s snapshot) Key() string {
	if s.ref == nil {
		return ""
	}
	return s.ref.Key()
}

func (s snapshot) Ref() Ref      { return s.ref }
func (s snapshot) Val() any      { return s.value }
func (s snapshot) Priority() any { return s.priority }
func (s snapshot) Exists() bool  { return s.value != nil }
