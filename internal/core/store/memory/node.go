package memory

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/zeusync/refmirror/internal/core/store"
)

// node is one location of the tree. A node holds either a leaf value or
// children, never both. A node with neither does not exist and is pruned.
type node struct {
	value    any
	children map[string]*node
	priority any
}

func (n *node) exists() bool {
	return n != nil && (n.value != nil || len(n.children) > 0)
}

// export returns a fresh copy of the node's value: leaves as stored, inner
// nodes as map[string]any.
func (n *node) export() any {
	if !n.exists() {
		return nil
	}
	if len(n.children) == 0 {
		return n.value
	}
	out := make(map[string]any, len(n.children))
	for k, c := range n.children {
		if v := c.export(); v != nil {
			out[k] = v
		}
	}
	return out
}

// build converts value into a subtree. Priorities of old are kept for every
// location that survives. A nil result means value deletes the location.
func build(value any, old *node) (*node, error) {
	var oldChildren map[string]*node
	var priority any
	if old != nil {
		oldChildren = old.children
		priority = old.priority
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		n := &node{priority: priority}
		for k, cv := range v {
			if k == "" {
				return nil, fmt.Errorf("%w: empty key", store.ErrInvalidPath)
			}
			if _, err := store.SplitPath(k); err != nil {
				return nil, err
			}
			child, err := build(cv, oldChildren[k])
			if err != nil {
				return nil, err
			}
			if child != nil {
				if n.children == nil {
					n.children = make(map[string]*node, len(v))
				}
				n.children[k] = child
			}
		}
		if n.children == nil {
			return nil, nil
		}
		return n, nil
	case []any:
		m := make(map[string]any, len(v))
		for i, cv := range v {
			m[strconv.Itoa(i)] = cv
		}
		return build(m, old)
	default:
		return &node{value: v, priority: priority}, nil
	}
}

type child struct {
	key      string
	value    any
	priority any
}

// view is what subscribers of one location can observe.
type view struct {
	value    any
	priority any
	children []child
}

func (v view) exists() bool { return v.value != nil }

func (v view) child(key string) (child, bool) {
	for _, c := range v.children {
		if c.key == key {
			return c, true
		}
	}
	return child{}, false
}

func viewOf(n *node) view {
	if !n.exists() {
		return view{}
	}
	v := view{value: n.export(), priority: n.priority}
	for k, c := range n.children {
		v.children = append(v.children, child{key: k, value: c.export(), priority: c.priority})
	}
	slices.SortFunc(v.children, func(a, b child) int {
		return store.CompareChildren(a.key, a.priority, b.key, b.priority)
	})
	return v
}
