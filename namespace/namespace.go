// Package namespace parses dot-delimited data paths and decides which
// subscribed paths are affected by a set of changed paths.
package namespace

import (
	"slices"
	"strings"
)

// Separator delimits segments in a namespace string.
const Separator = "."

// Namespace is a pre-split dot path such as "range.start". The zero value
// (no segments) is the root and addresses the whole data object.
type Namespace []string

// Root is the namespace of the whole data object.
var Root Namespace

// Parse splits s on Separator. The empty string parses to Root.
func Parse(s string) Namespace {
	if s == "" {
		return Root
	}
	return Namespace(strings.Split(s, Separator))
}

// String joins the segments back into dot form.
func (n Namespace) String() string {
	return strings.Join(n, Separator)
}

// IsRoot reports whether n addresses the whole data object.
func (n Namespace) IsRoot() bool {
	return len(n) == 0
}

// Equal reports whether n and other have identical segments.
func (n Namespace) Equal(other Namespace) bool {
	return slices.Equal(n, other)
}

// Parent returns n without its last segment and the last segment itself.
// Parent of Root is Root with an empty last segment.
func (n Namespace) Parent() (Namespace, string) {
	if n.IsRoot() {
		return Root, ""
	}
	return n[:len(n)-1], n[len(n)-1]
}

// IsAncestorOf reports whether n is a strict prefix of other. Root is an
// ancestor of every non-root namespace.
func (n Namespace) IsAncestorOf(other Namespace) bool {
	if len(n) >= len(other) {
		return false
	}
	return slices.Equal(n, other[:len(n)])
}
