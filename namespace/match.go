package namespace

// Matches reports whether a listener subscribed to listener should be
// notified when the namespaces in changed were written.
//
// A root listener always matches. Otherwise the listener matches when it
// equals a changed namespace or is a strict ancestor of one, so "range" is
// notified for a write to "range.start". A listener deeper than every changed
// namespace never matches: writing "range" does not notify "range.start".
// Root entries in changed only match root listeners.
func Matches(changed []Namespace, listener Namespace) bool {
	if listener.IsRoot() {
		return true
	}

	for _, c := range changed {
		if c.Equal(listener) {
			return true
		}
	}

	for _, c := range changed {
		if c.IsRoot() {
			continue
		}
		if listener.IsAncestorOf(c) {
			return true
		}
	}

	return false
}
