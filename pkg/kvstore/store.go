// Package kvstore implements the key/value store the undo/redo engine
// drives: something it can Apply a change-set to and Rollback a change-set
// against, with no knowledge of the operation log.
package kvstore

import "fmt"

// Change is an (old, new) pair describing one key's mutation. Undo simply
// swaps the pair; the engine never keeps two separate payloads per action.
type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// ChangeSet maps a key to its (old, new) pair for one action.
type ChangeSet map[string]Change

// ErrOutOfSync is returned by Apply/Rollback when the store's current value
// for a key doesn't match the change-set's expectation - the store and the
// log have diverged.
type ErrOutOfSync struct {
	Key     string
	Wanted  interface{}
	Current interface{}
}

func (e *ErrOutOfSync) Error() string {
	return fmt.Sprintf("store out of sync on key %q: wanted %v, have %v", e.Key, e.Wanted, e.Current)
}

// Store is the abstract applier the engine drives. Implementations must
// persist durably before Apply/Rollback return successfully.
type Store interface {
	// Get returns the current value for key, or (nil, false) if absent.
	Get(key string) (interface{}, bool)

	// Apply verifies that the store's current value for every key in
	// changes equals that change's Old, then atomically sets it to New.
	// On any mismatch it fails with *ErrOutOfSync and applies nothing.
	Apply(changes ChangeSet) error

	// Rollback reverses a change-set: where the current value equals New
	// it is set back to Old; where it already equals Old, it's a no-op
	// (the apply never took effect or was already rolled back). Any other
	// current value is a hard failure.
	Rollback(changes ChangeSet) error
}

// Invert returns the change-set that reverses changes: each (old, new) pair
// becomes (new, old).
func (changes ChangeSet) Invert() ChangeSet {
	inverted := make(ChangeSet, len(changes))
	for k, c := range changes {
		inverted[k] = Change{Old: c.New, New: c.Old}
	}
	return inverted
}
