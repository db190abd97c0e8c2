// Package tree reads, writes, copies, and compares JSON-compatible data
// trees addressed by namespace.
//
// A tree is built from map[string]any objects, []any arrays, and scalar
// leaves, which is what encoding/json and gopkg.in/yaml.v3 produce when
// decoding into any. Other container types are treated as opaque leaves.
package tree

import (
	"strconv"

	"github.com/tailored-agentic-units/observable/namespace"
)

// Get returns the value at ns within root.
//
// The root namespace returns root itself. A missing final segment yields
// (nil, nil). Descending through a missing, nil, or scalar intermediate fails
// with a *PathError wrapping ErrMissingSegment.
func Get(root any, ns namespace.Namespace) (any, error) {
	v, _, err := Lookup(root, ns)
	return v, err
}

// Lookup is Get that also reports whether the final segment exists, which
// tells a missing key apart from a key holding nil.
func Lookup(root any, ns namespace.Namespace) (any, bool, error) {
	if ns.IsRoot() {
		return root, true, nil
	}

	parentNS, last := ns.Parent()
	parent, err := descend("get", root, ns, parentNS)
	if err != nil {
		return nil, false, err
	}

	v, ok := child(parent, last)
	return v, ok, nil
}

// Set writes value at ns within root.
//
// The root namespace shallow-merges the keys of value, which must be a
// map[string]any, onto root; keys not present in value are kept. Any other
// namespace assigns the final segment of an existing parent, creating or
// overwriting that key. Intermediate objects are never created.
func Set(root map[string]any, ns namespace.Namespace, value any) error {
	if ns.IsRoot() {
		obj, ok := value.(map[string]any)
		if !ok {
			return &PathError{Op: "set", Path: ns.String(), Err: ErrNotObject}
		}
		for k, v := range obj {
			root[k] = v
		}
		return nil
	}

	parentNS, last := ns.Parent()
	parent, err := descend("set", root, ns, parentNS)
	if err != nil {
		return err
	}

	switch p := parent.(type) {
	case map[string]any:
		p[last] = value
		return nil
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(p) {
			return &PathError{Op: "set", Path: ns.String(), Segment: last, Err: ErrIndexRange}
		}
		p[i] = value
		return nil
	default:
		return &PathError{Op: "set", Path: ns.String(), Segment: last, Err: ErrNotContainer}
	}
}

// descend walks root along segments, requiring each step to exist.
func descend(op string, root any, full, segments namespace.Namespace) (any, error) {
	cursor := root
	for _, seg := range segments {
		next, ok := child(cursor, seg)
		if !ok || next == nil {
			return nil, &PathError{Op: op, Path: full.String(), Segment: seg, Err: ErrMissingSegment}
		}
		cursor = next
	}
	return cursor, nil
}

func child(node any, seg string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(n) {
			return nil, false
		}
		return n[i], true
	default:
		return nil, false
	}
}
