package oplog

import "github.com/kvlog/undolog/pkg/translog"

// Compact rewrites the tip's linear history onto newLog as a dense run of
// prepare-do/commit-do pairs, discarding every undo/redo/rollback record
// and every undone branch, and then seals the OLD log with a commit-close
// so it can never again be mistaken for live storage. Callers are
// responsible for swapping the Engine's log reference (or constructing a
// fresh Engine over newLog) once Compact returns nil - Compact itself
// never touches e.log after sealing it.
//
// The tip's (n, state) are captured before the backward walk, and every
// rewritten pair gets a monotonically increasing n matching its new linear
// position; the prepare a pair is rebuilt from may carry a stale n when
// the history it belongs to was reshaped by undos.
func (e *Engine) Compact(newLog translog.Log) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	_, top, err := e.log.Top()
	if err != nil {
		return err
	}
	if top.Kind.IsPrepare() {
		return ErrRecoveryRequired
	}
	if top.Kind == KindCommitClose {
		return ErrSealed
	}

	init, err := e.log.Get(0)
	if err != nil {
		return err
	}
	if _, err := newLog.Append(init); err != nil {
		return err
	}

	if top.LinearIdx == 0 {
		return e.seal(top)
	}

	chain := make([]Operation, top.N)
	cur := top
	for cur.LinearIdx > 0 {
		chain[cur.N-1] = cur
		prev, err := e.log.Get(cur.PrevIdx)
		if err != nil {
			return err
		}
		cur = prev
	}

	var prevNewIdx int64
	for i, link := range chain {
		linearRecord, err := e.log.Get(link.LinearIdx)
		if err != nil {
			return err
		}
		originalPrepare, err := e.log.Get(linearRecord.PrepareIdx)
		if err != nil {
			return err
		}

		newN := int64(i + 1)
		date := link.Date

		prepare := Operation{
			Kind:        KindPrepareDo,
			Description: linearRecord.Description,
			Date:        date,
			N:           newN,
			PrevIdx:     prevNewIdx,
			HasPrevIdx:  true,
			State:       link.State,
			Changes:     originalPrepare.Changes,
		}
		prepareIdx, err := newLog.Append(prepare)
		if err != nil {
			return err
		}

		newLinearIdx, err := newLog.NextIdx()
		if err != nil {
			return err
		}

		commit := Operation{
			Kind:          KindCommitDo,
			Description:   linearRecord.Description,
			Date:          date,
			N:             newN,
			PrevIdx:       prevNewIdx,
			HasPrevIdx:    true,
			LinearIdx:     newLinearIdx,
			State:         link.State,
			PrepareIdx:    prepareIdx,
			HasPrepareIdx: true,
		}
		commitIdx, err := newLog.Append(commit)
		if err != nil {
			return err
		}
		prevNewIdx = commitIdx
	}

	return e.seal(top)
}

// seal appends a commit-close to the OLD log (e.log, never the new log
// Compact writes into), marking it permanently read-only. The close record
// impersonates the tip the same way a rollback impersonates the record it
// restores - cloning (n, prev_idx, linear_idx, state) - so a linear-history
// walk from the sealed log's tip still reads the history that was live
// when it was sealed. Its redo set is empty: a sealed log redoes nothing.
func (e *Engine) seal(top Operation) error {
	_, err := e.log.Append(Operation{
		Kind:       KindCommitClose,
		Date:       nowSeconds(),
		N:          top.N,
		PrevIdx:    top.PrevIdx,
		HasPrevIdx: top.HasPrevIdx,
		LinearIdx:  top.LinearIdx,
		State:      top.State,
	})
	return err
}
