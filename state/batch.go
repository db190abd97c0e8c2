package state

// Batch chains writes made while a State is locked. The first failed write
// is remembered and later writes on the Batch are skipped; writes that
// already succeeded stay applied.
type Batch struct {
	state *State
	err   error
}

// Set writes value at ns without notifying and returns the Batch.
func (b *Batch) Set(ns string, value any) *Batch {
	if b.err != nil {
		return b
	}
	if _, err := b.state.Set(ns, value); err != nil {
		b.err = err
	}
	return b
}

// Err returns the first write error, if any.
func (b *Batch) Err() error {
	return b.err
}

// Unlock closes the batch, notifying listeners of every write that
// succeeded, and returns the first write error. The State is unlocked even
// when a write failed.
func (b *Batch) Unlock() error {
	if err := b.state.Unlock(); err != nil && b.err == nil {
		return err
	}
	return b.err
}
