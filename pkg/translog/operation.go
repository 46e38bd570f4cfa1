package translog

import "github.com/kvlog/undolog/pkg/kvstore"

// Kind identifies the phase and operation an Operation record represents.
type Kind string

// The full set of record kinds a log may contain. Every action is a
// prepare-* carrying its change-set followed by a commit-* (success) or
// rollback-* (failure) header referencing the prepare; commit-init seeds a
// fresh log and commit-close permanently seals a compacted-away one.
const (
	KindCommitInit   Kind = "commit-init"
	KindPrepareDo    Kind = "prepare-do"
	KindCommitDo     Kind = "commit-do"
	KindRollbackDo   Kind = "rollback-do"
	KindPrepareUndo  Kind = "prepare-undo"
	KindCommitUndo   Kind = "commit-undo"
	KindRollbackUndo Kind = "rollback-undo"
	KindPrepareRedo  Kind = "prepare-redo"
	KindCommitRedo   Kind = "commit-redo"
	KindRollbackRedo Kind = "rollback-redo"
	KindCommitClose  Kind = "commit-close"
)

// IsPrepare reports whether k is one of the prepare-* kinds.
func (k Kind) IsPrepare() bool {
	switch k {
	case KindPrepareDo, KindPrepareUndo, KindPrepareRedo:
		return true
	}
	return false
}

// RollbackOf returns the rollback-* kind matching a prepare-* kind.
func (k Kind) RollbackOf() Kind {
	switch k {
	case KindPrepareDo:
		return KindRollbackDo
	case KindPrepareUndo:
		return KindRollbackUndo
	case KindPrepareRedo:
		return KindRollbackRedo
	}
	return ""
}

// State is the engine-owned mapping of string keys to opaque values carried
// by every record, distinct from the external kvstore.Store.
type State map[string]interface{}

// Clone returns a shallow copy of s.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// RedoEntry is one (linear_idx, last_redo_idx) pair in a tip's redo set: the
// commit-do index of an action that was undone from this tip, and the index
// of the commit-undo that most recently undid it.
type RedoEntry struct {
	LinearIdx   int64 `json:"linear_idx"`
	LastRedoIdx int64 `json:"last_redo_idx"`
}

// Operation is the uniform record type written to the log. The Has* fields
// exist because prev_idx and prepare_idx are genuinely optional (the init
// record has no predecessor; only commit-*/rollback-* reference a prepare)
// and 0 is a valid index.
type Operation struct {
	Kind        Kind    `json:"kind"`
	Description string  `json:"description"`
	Date        float64 `json:"date"` // unix seconds, informational only

	N          int64 `json:"n"`
	PrevIdx    int64 `json:"prev_idx"`
	HasPrevIdx bool  `json:"has_prev_idx"`
	LinearIdx  int64 `json:"linear_idx"`

	State State       `json:"state"`
	Redos []RedoEntry `json:"redos"`

	Changes kvstore.ChangeSet `json:"changes,omitempty"`

	PrepareIdx    int64 `json:"prepare_idx"`
	HasPrepareIdx bool  `json:"has_prepare_idx"`
}
