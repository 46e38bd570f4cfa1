package oplog

import (
	"errors"

	"github.com/kvlog/undolog/pkg/kvstore"
)

// ErrCancelled is the distinguished signal a transaction body returns from
// Transaction.Cancel(). Do's driver recognizes it via errors.Is and discards
// the transaction silently, writing no record. Any other error returned by
// the body also writes nothing, but is propagated to Do's caller.
var ErrCancelled = errors.New("transaction cancelled")

// Transaction captures a single user action's intended mutations. It is
// handed to the client's callback by Engine.Do; the transaction itself
// mutates nothing persistent - the engine applies its changes and state
// overlay only after the callback returns cleanly.
type Transaction struct {
	description string
	newState    State
	store       kvstore.Store
	changes     kvstore.ChangeSet
}

func newTransaction(description string, state State, store kvstore.Store) *Transaction {
	return &Transaction{
		description: description,
		newState:    state.Clone(),
		store:       store,
		changes:     make(kvstore.ChangeSet),
	}
}

// SetStore records a store change. The old value is captured from the store
// (or from a prior uncommitted change in this same transaction) on first
// touch; the new value is the last write. Repeated writes to the same key
// collapse into one (old, last_new) pair.
func (t *Transaction) SetStore(key string, value interface{}) {
	if existing, ok := t.changes[key]; ok {
		t.changes[key] = kvstore.Change{Old: existing.Old, New: value}
		return
	}
	old, _ := t.store.Get(key)
	t.changes[key] = kvstore.Change{Old: old, New: value}
}

// SetState overlays an engine-state change. It never touches the store.
func (t *Transaction) SetState(key string, value interface{}) {
	t.newState[key] = value
}

// Cancel returns the sentinel error that tells Do to abandon this
// transaction without writing a record. Callers use it as
// `return txn.Cancel()`.
func (t *Transaction) Cancel() error {
	return ErrCancelled
}
