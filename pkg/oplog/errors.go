package oplog

import "errors"

// User errors: reported to the caller, no log record written.
var (
	ErrEmptyHistory   = errors.New("undo: cannot undo, operation log is empty")
	ErrNothingToRedo  = errors.New("redo: nothing to redo, empty redo set")
	ErrRedoOutOfRange = errors.New("redo: n is out of range")
	ErrSealed         = errors.New("log is sealed by commit-close, no further edits allowed")
)

// ErrRecoveryRequired is returned by Do/Undo/Redo/Compact when the tip is a
// prepare-* record: a prior crash left the log mid-action and Recover must
// run before any new action.
var ErrRecoveryRequired = errors.New("log tip is a prepare-* record; Recover must run first")

// ErrBusy is returned when another Do/Undo/Redo/Recover/Compact call on the
// same Engine is already in flight; the engine is strictly single-writer.
var ErrBusy = errors.New("engine: another operation is already in progress")
