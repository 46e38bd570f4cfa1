// Package oplog implements the undo/redo engine: the write-ahead discipline
// that splits every action into prepare/commit(-or-rollback) records, and
// the do/undo/redo/recover/compact algorithms that maintain the linear
// history abstraction over an append-only log.
package oplog

import "github.com/kvlog/undolog/pkg/translog"

// Operation, Kind, State and RedoEntry are the record types the log frames
// (pkg/translog owns their definition since it's what serializes them); the
// engine works with them directly under these names.
type (
	Operation = translog.Operation
	Kind      = translog.Kind
	State     = translog.State
	RedoEntry = translog.RedoEntry
)

// Record kinds, re-exported from translog for convenience within this
// package's engine code.
const (
	KindCommitInit   = translog.KindCommitInit
	KindPrepareDo    = translog.KindPrepareDo
	KindCommitDo     = translog.KindCommitDo
	KindRollbackDo   = translog.KindRollbackDo
	KindPrepareUndo  = translog.KindPrepareUndo
	KindCommitUndo   = translog.KindCommitUndo
	KindRollbackUndo = translog.KindRollbackUndo
	KindPrepareRedo  = translog.KindPrepareRedo
	KindCommitRedo   = translog.KindCommitRedo
	KindRollbackRedo = translog.KindRollbackRedo
	KindCommitClose  = translog.KindCommitClose
)
