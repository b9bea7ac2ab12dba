package store

import (
	"encoding/json"
	"strings"
)

// ValidPriority reports whether p can be used as ordering metadata.
func ValidPriority(p any) bool {
	if p == nil {
		return true
	}
	if _, ok := p.(string); ok {
		return true
	}
	_, ok := numeric(p)
	return ok
}

// NormalizePriority converts any numeric priority to float64 so that values
// survive a JSON round trip unchanged.
func NormalizePriority(p any) (any, error) {
	if p == nil {
		return nil, nil
	}
	if s, ok := p.(string); ok {
		return s, nil
	}
	if f, ok := numeric(p); ok {
		return f, nil
	}
	return nil, ErrInvalidPriority
}

// ComparePriority orders priorities: nil first, then numbers ascending, then
// strings lexicographically.
func ComparePriority(a, b any) int {
	ra, rb := priorityRank(a), priorityRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		fa, _ := numeric(a)
		fb, _ := numeric(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// CompareChildren orders two siblings by priority, then key.
func CompareChildren(keyA string, prioA any, keyB string, prioB any) int {
	if c := ComparePriority(prioA, prioB); c != 0 {
		return c
	}
	return strings.Compare(keyA, keyB)
}

func priorityRank(p any) int {
	if p == nil {
		return 0
	}
	if _, ok := p.(string); ok {
		return 2
	}
	return 1
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
