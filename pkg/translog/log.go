// Package translog implements the append-only operation log underneath the
// undo/redo engine. It knows nothing about undo/redo semantics - it only
// appends, fetches by opaque index, and reports its tip.
package translog

// ErrEmpty is returned by Top when the log has no records yet.
var ErrEmpty = errString("log is empty")

// ErrCorrupt signals a framing mismatch: a missing/malformed header or
// footer, or a header/footer length disagreement. Corruption is fatal and
// surfaces immediately - the log never auto-skips past it.
type ErrCorrupt struct {
	Reason string
}

func (e *ErrCorrupt) Error() string { return "corrupt log: " + e.Reason }

type errString string

func (e errString) Error() string { return string(e) }

// Log is an append-only sequence of Operation records addressed by
// opaque, monotonically increasing indices. Durability is the log's
// responsibility: a successful Append must precede any subsequent Top
// observing that record.
type Log interface {
	// Append durably writes op and returns its index.
	Append(op Operation) (int64, error)

	// Get retrieves the record at idx.
	Get(idx int64) (Operation, error)

	// Top returns the index and record of the last append. Fails with
	// ErrEmpty if nothing has been appended yet.
	Top() (int64, Operation, error)

	// NextIdx returns the index the next Append will receive.
	NextIdx() (int64, error)

	// Entries returns every record in append order, without indices.
	Entries() ([]Operation, error)

	// IndexedEntries returns every record in append order paired with its
	// real Get-able index. Entries alone doesn't suffice for this because
	// on FileLog an index is a byte offset, not a position in the slice.
	IndexedEntries() ([]IndexedOp, error)
}

// IndexedOp pairs a record with the index Get would need to retrieve it.
type IndexedOp struct {
	Idx int64
	Op  Operation
}
