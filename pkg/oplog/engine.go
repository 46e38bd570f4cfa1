package oplog

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kvlog/undolog/pkg/keyfilter"
	"github.com/kvlog/undolog/pkg/kvstore"
	"github.com/kvlog/undolog/pkg/translog"
)

// Engine is the write-ahead-logged undo/redo facility: it drives a
// translog.Log through the prepare/commit/rollback protocol and keeps an
// external kvstore.Store in lock-step with the log's linear history. One
// Engine owns one log and one store; every mutating call must run to
// completion before the next starts, so a weight-1 semaphore guards
// Do/Undo/Redo/Recover/Compact.
type Engine struct {
	log    translog.Log
	store  kvstore.Store
	filter *keyfilter.Filter
	sem    *semaphore.Weighted
}

// NewEngine wires an Engine around an already-open log and store. Callers
// must still call Init before the first Do.
func NewEngine(log translog.Log, store kvstore.Store) *Engine {
	return &Engine{log: log, store: store, sem: semaphore.NewWeighted(1)}
}

// WithKeyFilter attaches a touched-key membership filter consulted by Get.
// Returns e for chaining at construction time.
func (e *Engine) WithKeyFilter(f *keyfilter.Filter) *Engine {
	e.filter = f
	return e
}

// WithLog swaps the Engine's underlying log handle, used by Compact's
// caller once the new log has been durably installed at the old log's
// canonical path. Returns e for chaining.
func (e *Engine) WithLog(log translog.Log) *Engine {
	e.log = log
	return e
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (e *Engine) acquire() error {
	if !e.sem.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

func (e *Engine) release() {
	e.sem.Release(1)
}

// Init writes the commit-init record (n=0, linear_idx=0) that seeds a brand
// new log. It is a no-op if the log already has entries, so callers can
// call it unconditionally on startup.
func (e *Engine) Init(state State) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	next, err := e.log.NextIdx()
	if err != nil {
		return err
	}
	if next != 0 {
		return nil
	}
	_, err = e.log.Append(Operation{
		Kind:  KindCommitInit,
		Date:  nowSeconds(),
		N:     0,
		State: state.Clone(),
	})
	return err
}

// State returns the engine-owned state mapping carried by the tip.
func (e *Engine) State() (State, error) {
	_, top, err := e.log.Top()
	if err != nil {
		return nil, err
	}
	return top.State, nil
}

// Sealed reports whether the log has been closed by Compact and can no
// longer accept Do/Undo/Redo.
func (e *Engine) Sealed() (bool, error) {
	_, top, err := e.log.Top()
	if err != nil {
		return false, err
	}
	return top.Kind == KindCommitClose, nil
}

// Get reads a key from the store. If a touched-key filter is attached and
// reports the key as never touched, Get short-circuits without consulting
// the store at all.
func (e *Engine) Get(key string) (interface{}, bool) {
	if e.filter != nil && !e.filter.MightContain(key) {
		return nil, false
	}
	return e.store.Get(key)
}

func (e *Engine) touch(changes kvstore.ChangeSet) {
	if e.filter == nil {
		return
	}
	for k := range changes {
		e.filter.Add(k)
	}
}

// applyOrRollback applies changes to the store. On failure it first
// best-effort restores the store (a failed restore is a hard failure that
// may leave the store mixed - it is surfaced without writing anything),
// then appends the prepared rollback record so the log tip settles, and
// returns the apply error.
func (e *Engine) applyOrRollback(changes kvstore.ChangeSet, rollback Operation) error {
	err := e.store.Apply(changes)
	if err == nil {
		return nil
	}
	if rerr := e.store.Rollback(changes); rerr != nil {
		return fmt.Errorf("store rollback failed after failed apply: %w", rerr)
	}
	if _, aerr := e.log.Append(rollback); aerr != nil {
		return aerr
	}
	return err
}

// Do runs fn against a fresh Transaction rooted at the current tip. If fn
// returns nil, its accumulated store changes and state overlay are written
// as a prepare-do/commit-do pair and applied to the store. If fn returns
// Transaction.Cancel()'s sentinel, Do returns nil without writing
// anything. Any other error from fn is returned unchanged, also without
// writing anything.
func (e *Engine) Do(description string, fn func(*Transaction) error) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	topIdx, top, err := e.log.Top()
	if err != nil {
		return err
	}
	if top.Kind.IsPrepare() {
		return ErrRecoveryRequired
	}
	if top.Kind == KindCommitClose {
		return ErrSealed
	}

	txn := newTransaction(description, top.State, e.store)
	if err := fn(txn); err != nil {
		if errors.Is(err, ErrCancelled) {
			return nil
		}
		return err
	}

	date := nowSeconds()
	prepare := Operation{
		Kind:        KindPrepareDo,
		Description: description,
		Date:        date,
		N:           top.N + 1,
		PrevIdx:     topIdx,
		HasPrevIdx:  true,
		State:       txn.newState,
		Changes:     txn.changes,
	}
	prepareIdx, err := e.log.Append(prepare)
	if err != nil {
		return err
	}

	// The commit's own index doubles as the action's linear_idx, so it has
	// to be minted before the commit is written.
	linearIdx, err := e.log.NextIdx()
	if err != nil {
		return err
	}

	rollback := Operation{
		Kind:          KindRollbackDo,
		Description:   description,
		Date:          date,
		N:             top.N,
		PrevIdx:       top.PrevIdx,
		HasPrevIdx:    top.HasPrevIdx,
		LinearIdx:     top.LinearIdx,
		Redos:         top.Redos,
		State:         top.State,
		PrepareIdx:    prepareIdx,
		HasPrepareIdx: true,
	}
	if err := e.applyOrRollback(txn.changes, rollback); err != nil {
		return err
	}

	commit := Operation{
		Kind:          KindCommitDo,
		Description:   description,
		Date:          date,
		N:             top.N + 1,
		PrevIdx:       topIdx,
		HasPrevIdx:    true,
		LinearIdx:     linearIdx,
		State:         txn.newState,
		PrepareIdx:    prepareIdx,
		HasPrepareIdx: true,
	}
	if _, err := e.log.Append(commit); err != nil {
		return err
	}
	e.touch(txn.changes)
	return nil
}

// Undo reverses the tip's linear action: it inverts the changes recorded
// by the prepare that produced linear_idx, applies the inverse, and writes
// a prepare-undo/commit-undo pair that impersonates the predecessor's
// (n, linear_idx, prev_idx, state) - so the log's tip afterwards reads
// exactly as if the undone action had never happened, plus a redo entry
// recording how to bring it back.
//
// The new redo set is the tip's own set, minus any stale entry for the
// action being undone (only the latest undo of an action is a valid redo
// source), with the fresh entry put at the front. A chain of undos
// therefore accumulates entries in linear-position order: the entry at the
// back is always the latest-positioned undone action, which is what the
// default Redo(-1) picks.
func (e *Engine) Undo() error {
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
	if top.LinearIdx == 0 {
		return ErrEmptyHistory
	}

	toUndo, err := e.log.Get(top.LinearIdx)
	if err != nil {
		return err
	}
	prepareOfToUndo, err := e.log.Get(toUndo.PrepareIdx)
	if err != nil {
		return err
	}
	undoChanges := prepareOfToUndo.Changes.Invert()

	oldPrev, err := e.log.Get(top.PrevIdx)
	if err != nil {
		return err
	}

	surviving := make([]RedoEntry, 0, len(top.Redos))
	for _, r := range top.Redos {
		if r.LinearIdx != top.LinearIdx {
			surviving = append(surviving, r)
		}
	}

	date := nowSeconds()
	prepare := Operation{
		Kind:        KindPrepareUndo,
		Description: toUndo.Description,
		Date:        date,
		N:           oldPrev.N,
		PrevIdx:     oldPrev.PrevIdx,
		HasPrevIdx:  oldPrev.HasPrevIdx,
		LinearIdx:   oldPrev.LinearIdx,
		State:       oldPrev.State,
		Changes:     undoChanges,
	}
	prepareIdx, err := e.log.Append(prepare)
	if err != nil {
		return err
	}

	rollback := Operation{
		Kind:          KindRollbackUndo,
		Description:   toUndo.Description,
		Date:          date,
		N:             top.N,
		PrevIdx:       top.PrevIdx,
		HasPrevIdx:    top.HasPrevIdx,
		LinearIdx:     top.LinearIdx,
		Redos:         top.Redos,
		State:         top.State,
		PrepareIdx:    prepareIdx,
		HasPrepareIdx: true,
	}
	if err := e.applyOrRollback(undoChanges, rollback); err != nil {
		return err
	}

	// The fresh redo entry points at the commit-undo about to be written,
	// whose date is the moment the action was undone.
	commitIdx, err := e.log.NextIdx()
	if err != nil {
		return err
	}
	newRedos := append([]RedoEntry{{LinearIdx: top.LinearIdx, LastRedoIdx: commitIdx}}, surviving...)

	commit := Operation{
		Kind:          KindCommitUndo,
		Description:   toUndo.Description,
		Date:          date,
		N:             oldPrev.N,
		PrevIdx:       oldPrev.PrevIdx,
		HasPrevIdx:    oldPrev.HasPrevIdx,
		LinearIdx:     oldPrev.LinearIdx,
		Redos:         newRedos,
		State:         oldPrev.State,
		PrepareIdx:    prepareIdx,
		HasPrepareIdx: true,
	}
	_, err = e.log.Append(commit)
	return err
}

// Redo re-applies the n'th entry of the tip's redo set, with negative
// indexing from the back: Redo(-1) picks the last entry, the
// latest-positioned action still redoable. It replays the original
// prepare's forward change-set verbatim, restores the state the action's
// own commit carried, and publishes the tip's redo set minus the entry
// just consumed.
func (e *Engine) Redo(n int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	topIdx, top, err := e.log.Top()
	if err != nil {
		return err
	}
	if top.Kind.IsPrepare() {
		return ErrRecoveryRequired
	}
	if top.Kind == KindCommitClose {
		return ErrSealed
	}
	if len(top.Redos) == 0 {
		return ErrNothingToRedo
	}
	idx := n
	if idx < 0 {
		idx += len(top.Redos)
	}
	if idx < 0 || idx >= len(top.Redos) {
		return ErrRedoOutOfRange
	}
	entry := top.Redos[idx]

	redoOf, err := e.log.Get(entry.LinearIdx)
	if err != nil {
		return err
	}
	prepareOfRedoOf, err := e.log.Get(redoOf.PrepareIdx)
	if err != nil {
		return err
	}
	changes := prepareOfRedoOf.Changes

	remaining := make([]RedoEntry, 0, len(top.Redos)-1)
	for i, r := range top.Redos {
		if i != idx {
			remaining = append(remaining, r)
		}
	}

	date := nowSeconds()
	prepare := Operation{
		Kind:        KindPrepareRedo,
		Description: redoOf.Description,
		Date:        date,
		N:           top.N + 1,
		PrevIdx:     topIdx,
		HasPrevIdx:  true,
		LinearIdx:   entry.LinearIdx,
		State:       redoOf.State,
		Changes:     changes,
	}
	prepareIdx, err := e.log.Append(prepare)
	if err != nil {
		return err
	}

	rollback := Operation{
		Kind:          KindRollbackRedo,
		Description:   redoOf.Description,
		Date:          date,
		N:             top.N,
		PrevIdx:       top.PrevIdx,
		HasPrevIdx:    top.HasPrevIdx,
		LinearIdx:     top.LinearIdx,
		Redos:         top.Redos,
		State:         top.State,
		PrepareIdx:    prepareIdx,
		HasPrepareIdx: true,
	}
	if err := e.applyOrRollback(changes, rollback); err != nil {
		return err
	}

	commit := Operation{
		Kind:          KindCommitRedo,
		Description:   redoOf.Description,
		Date:          date,
		N:             top.N + 1,
		PrevIdx:       topIdx,
		HasPrevIdx:    true,
		LinearIdx:     entry.LinearIdx,
		Redos:         remaining,
		State:         redoOf.State,
		PrepareIdx:    prepareIdx,
		HasPrepareIdx: true,
	}
	if _, err := e.log.Append(commit); err != nil {
		return err
	}
	e.touch(changes)
	return nil
}

// Recover inspects the tip and, if it is a prepare-* left behind by a
// crash mid-action, rolls the store back to that prepare's pre-image and
// writes the rollback-* record the crashed operation would have written
// itself: a clone of the record that was tip when the prepare went in.
// That record is the one physically preceding the prepare in the log -
// a prepare-undo's prev_idx already impersonates its target's
// predecessor, so prev_idx alone cannot locate the pre-prepare tip.
//
// Recover is idempotent: calling it when the tip is already a
// commit-*/rollback-* record is a no-op, so callers can run it
// unconditionally on startup.
func (e *Engine) Recover() error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	topIdx, top, err := e.log.Top()
	if err != nil {
		return err
	}
	if !top.Kind.IsPrepare() {
		return nil
	}

	entries, err := e.log.IndexedEntries()
	if err != nil {
		return err
	}
	if len(entries) < 2 {
		return &translog.ErrCorrupt{Reason: "log tip is a prepare record with nothing before it"}
	}
	prev := entries[len(entries)-2].Op

	if err := e.store.Rollback(top.Changes); err != nil {
		return err
	}

	rollback := Operation{
		Kind:          top.Kind.RollbackOf(),
		Description:   top.Description,
		Date:          nowSeconds(),
		N:             prev.N,
		PrevIdx:       prev.PrevIdx,
		HasPrevIdx:    prev.HasPrevIdx,
		LinearIdx:     prev.LinearIdx,
		Redos:         prev.Redos,
		State:         prev.State,
		PrepareIdx:    topIdx,
		HasPrepareIdx: true,
	}
	_, err = e.log.Append(rollback)
	return err
}
