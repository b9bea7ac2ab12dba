package store

import (
	"fmt"
	"strings"
)

const forbiddenKeyChars = ".#$[]"

// CleanPath normalizes a slash separated path: leading, trailing and repeated
// slashes are dropped. The root is "".
func CleanPath(p string) (string, error) {
	segs, err := SplitPath(p)
	if err != nil {
		return "", err
	}
	return strings.Join(segs, "/"), nil
}

// SplitPath returns the non-empty segments of p.
func SplitPath(p string) ([]string, error) {
	raw := strings.Split(p, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		if strings.ContainsAny(s, forbiddenKeyChars) {
			return nil, fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, s, forbiddenKeyChars)
		}
		segs = append(segs, s)
	}
	return segs, nil
}

// JoinPath appends child to a cleaned parent path.
func JoinPath(parent, child string) string {
	child = strings.Trim(child, "/")
	switch {
	case child == "":
		return parent
	case parent == "":
		return child
	default:
		return parent + "/" + child
	}
}

// ParentPath returns the parent of a cleaned path and false for the root.
func ParentPath(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", true
	}
	return p[:i], true
}

// KeyOf returns the last segment of a cleaned path.
func KeyOf(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}

// IsAncestorOrSelf reports whether a is p or one of its ancestors.
func IsAncestorOrSelf(a, p string) bool {
	return a == "" || a == p || strings.HasPrefix(p, a+"/")
}
