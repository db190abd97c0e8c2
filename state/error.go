package state

import "errors"

// ErrNotLocked is returned by Unlock when no batch is open.
var ErrNotLocked = errors.New("state is not locked")
