package oplog_test

import (
	"errors"
	"testing"

	"github.com/kvlog/undolog/pkg/kvstore"
	"github.com/kvlog/undolog/pkg/oplog"
	"github.com/kvlog/undolog/pkg/translog"
)

func newEngine(t *testing.T) (*oplog.Engine, *translog.MemLog, *kvstore.MemStore) {
	t.Helper()
	log := translog.NewMemLog()
	store := kvstore.NewMemStore()
	eng := oplog.NewEngine(log, store)
	if err := eng.Init(oplog.State{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return eng, log, store
}

func doSet(t *testing.T, eng *oplog.Engine, desc, key string, value interface{}) {
	t.Helper()
	if err := eng.Do(desc, func(txn *oplog.Transaction) error {
		txn.SetStore(key, value)
		return nil
	}); err != nil {
		t.Fatalf("Do(%s): %v", desc, err)
	}
}

func mustGet(t *testing.T, eng *oplog.Engine, key string) interface{} {
	t.Helper()
	v, ok := eng.Get(key)
	if !ok {
		t.Fatalf("Get(%s): absent", key)
	}
	return v
}

func mustUndo(t *testing.T, eng *oplog.Engine) {
	t.Helper()
	if err := eng.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
}

func mustRedo(t *testing.T, eng *oplog.Engine, n int) {
	t.Helper()
	if err := eng.Redo(n); err != nil {
		t.Fatalf("Redo(%d): %v", n, err)
	}
}

func descriptions(t *testing.T, eng *oplog.Engine) []string {
	t.Helper()
	linear, err := eng.LinearHistory()
	if err != nil {
		t.Fatalf("LinearHistory: %v", err)
	}
	out := make([]string, len(linear))
	for i, e := range linear {
		out[i] = e.Description
	}
	return out
}

func TestUndoThenRedoRestoresBoth(t *testing.T) {
	eng, _, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")

	mustUndo(t, eng)
	mustRedo(t, eng, -1)

	if v := mustGet(t, eng, "foo"); v != "A" {
		t.Errorf("foo = %v, want A", v)
	}
	if v := mustGet(t, eng, "bar"); v != "B" {
		t.Errorf("bar = %v, want B", v)
	}

	if got := descriptions(t, eng); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("linear history = %v, want [A B]", got)
	}

	redos, err := eng.Redos()
	if err != nil {
		t.Fatalf("Redos: %v", err)
	}
	if len(redos) != 0 {
		t.Fatalf("redos = %+v, want empty after the undo was redone", redos)
	}
}

func TestUndoLeavesOneRedoEntry(t *testing.T) {
	eng, log, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "foo", "B")

	mustUndo(t, eng)

	if v := mustGet(t, eng, "foo"); v != "A" {
		t.Errorf("foo = %v, want A", v)
	}
	if got := descriptions(t, eng); len(got) != 1 || got[0] != "A" {
		t.Fatalf("linear history = %v, want [A]", got)
	}

	// The sole redo entry points at B's original commit-do, and at the
	// commit-undo that undid it.
	topIdx, top, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top.Redos) != 1 {
		t.Fatalf("tip redos = %+v, want exactly one entry", top.Redos)
	}
	undone, err := log.Get(top.Redos[0].LinearIdx)
	if err != nil {
		t.Fatalf("Get(redos[0].LinearIdx): %v", err)
	}
	if undone.Kind != oplog.KindCommitDo || undone.Description != "B" {
		t.Errorf("redos[0].LinearIdx resolves to %v %q, want commit-do B", undone.Kind, undone.Description)
	}
	if top.Redos[0].LastRedoIdx != topIdx {
		t.Errorf("redos[0].LastRedoIdx = %d, want the commit-undo's own index %d", top.Redos[0].LastRedoIdx, topIdx)
	}
}

func TestFreshDoClearsRedoSet(t *testing.T) {
	eng, _, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")
	doSet(t, eng, "C", "foo", "C")

	mustUndo(t, eng)
	mustUndo(t, eng)

	doSet(t, eng, "D", "baz", "D")

	if v := mustGet(t, eng, "foo"); v != "A" {
		t.Errorf("foo = %v, want A", v)
	}
	if v := mustGet(t, eng, "baz"); v != "D" {
		t.Errorf("baz = %v, want D", v)
	}
	if _, ok := eng.Get("bar"); ok {
		t.Errorf("bar should be absent, B's change was never reapplied")
	}

	if got := descriptions(t, eng); len(got) != 2 || got[0] != "A" || got[1] != "D" {
		t.Fatalf("linear history = %v, want [A D]", got)
	}

	redos, err := eng.Redos()
	if err != nil {
		t.Fatalf("Redos: %v", err)
	}
	if len(redos) != 0 {
		t.Fatalf("redos = %+v, want empty after a fresh do", redos)
	}
}

// A chain of undos accumulates redo entries ordered by linear position:
// the action that sat latest in the history stays at the back, so the
// default Redo(-1) brings it back first, while an explicit Redo(0) picks
// the earliest-positioned one.
func TestUndoChainAccumulatesRedosInLinearOrder(t *testing.T) {
	eng, _, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")

	mustUndo(t, eng) // undoes B
	mustUndo(t, eng) // undoes A

	redos, err := eng.Redos()
	if err != nil {
		t.Fatalf("Redos: %v", err)
	}
	if len(redos) != 2 || redos[0].Description != "A" || redos[1].Description != "B" {
		t.Fatalf("redos = %+v, want [A B] with B last", redos)
	}

	mustRedo(t, eng, -1) // brings back B
	if v := mustGet(t, eng, "bar"); v != "B" {
		t.Errorf("bar = %v, want B after first redo", v)
	}
	if _, ok := eng.Get("foo"); ok {
		t.Errorf("foo present after redoing only B")
	}

	mustRedo(t, eng, -1) // brings back A
	if v := mustGet(t, eng, "foo"); v != "A" {
		t.Errorf("foo = %v, want A after second redo", v)
	}

	redos, err = eng.Redos()
	if err != nil {
		t.Fatalf("Redos: %v", err)
	}
	if len(redos) != 0 {
		t.Fatalf("redos = %+v, want empty once everything was redone", redos)
	}
}

func TestRedoZeroPicksEarliestUndone(t *testing.T) {
	eng, _, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")

	mustUndo(t, eng)
	mustUndo(t, eng)

	mustRedo(t, eng, 0) // brings back A
	if v := mustGet(t, eng, "foo"); v != "A" {
		t.Errorf("foo = %v, want A", v)
	}
	if _, ok := eng.Get("bar"); ok {
		t.Errorf("bar present after redoing only A")
	}

	redos, err := eng.Redos()
	if err != nil {
		t.Fatalf("Redos: %v", err)
	}
	if len(redos) != 1 || redos[0].Description != "B" {
		t.Fatalf("redos = %+v, want only B left", redos)
	}
}

// Undo followed by the matching redo restores the tip's engine state
// exactly, state overlays included.
func TestUndoRedoRoundTripsEngineState(t *testing.T) {
	eng, _, _ := newEngine(t)
	err := eng.Do("A", func(txn *oplog.Transaction) error {
		txn.SetStore("foo", "A")
		txn.SetState("generation", 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Do(A): %v", err)
	}

	want, err := eng.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}

	mustUndo(t, eng)

	mid, err := eng.State()
	if err != nil {
		t.Fatalf("State after undo: %v", err)
	}
	if _, ok := mid["generation"]; ok {
		t.Fatalf("state after undo = %v, overlay should be gone", mid)
	}

	mustRedo(t, eng, -1)

	got, err := eng.State()
	if err != nil {
		t.Fatalf("State after redo: %v", err)
	}
	if got["generation"] != want["generation"] {
		t.Fatalf("state after redo = %v, want %v", got, want)
	}
}

func TestUndoEmptyHistoryFails(t *testing.T) {
	eng, _, _ := newEngine(t)
	if err := eng.Undo(); !errors.Is(err, oplog.ErrEmptyHistory) {
		t.Fatalf("Undo on empty history: %v, want ErrEmptyHistory", err)
	}
}

func TestRedoEmptySetFails(t *testing.T) {
	eng, _, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	if err := eng.Redo(-1); !errors.Is(err, oplog.ErrNothingToRedo) {
		t.Fatalf("Redo with empty redo set: %v, want ErrNothingToRedo", err)
	}
}

func TestRedoOutOfRangeFails(t *testing.T) {
	eng, _, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	mustUndo(t, eng)
	if err := eng.Redo(5); !errors.Is(err, oplog.ErrRedoOutOfRange) {
		t.Fatalf("Redo(5): %v, want ErrRedoOutOfRange", err)
	}
	if err := eng.Redo(-5); !errors.Is(err, oplog.ErrRedoOutOfRange) {
		t.Fatalf("Redo(-5): %v, want ErrRedoOutOfRange", err)
	}
}

func TestTipNeverLeftAtPrepare(t *testing.T) {
	eng, log, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")
	mustUndo(t, eng)
	mustRedo(t, eng, -1)

	_, top, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if top.Kind.IsPrepare() {
		t.Fatalf("tip kind = %v, must not be a prepare-* record", top.Kind)
	}

	linear, err := eng.LinearHistory()
	if err != nil {
		t.Fatalf("LinearHistory: %v", err)
	}
	if int64(len(linear)) != top.N {
		t.Fatalf("len(linear) = %d, tip.N = %d, want equal", len(linear), top.N)
	}
}

func TestCompactKeepsOnlyLinearHistory(t *testing.T) {
	eng, oldLog, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")
	mustUndo(t, eng)

	newLog := translog.NewMemLog()
	if err := eng.Compact(newLog); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	entries, err := newLog.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("new log has %d entries, want 3 (commit-init, prepare-do A, commit-do A)", len(entries))
	}
	if entries[0].Kind != oplog.KindCommitInit {
		t.Errorf("entries[0].Kind = %v, want commit-init", entries[0].Kind)
	}
	if entries[1].Kind != oplog.KindPrepareDo || entries[1].Description != "A" {
		t.Errorf("entries[1] = %+v, want prepare-do A", entries[1])
	}
	if entries[2].Kind != oplog.KindCommitDo || entries[2].Description != "A" {
		t.Errorf("entries[2] = %+v, want commit-do A", entries[2])
	}

	_, oldTop, err := oldLog.Top()
	if err != nil {
		t.Fatalf("old log Top: %v", err)
	}
	if oldTop.Kind != oplog.KindCommitClose {
		t.Errorf("old log tip kind = %v, want commit-close", oldTop.Kind)
	}

	eng.WithLog(newLog)
	mustUndo(t, eng)
	if err := eng.Undo(); !errors.Is(err, oplog.ErrEmptyHistory) {
		t.Fatalf("second Undo after compact: %v, want ErrEmptyHistory", err)
	}
}

func TestCompactPreservesStoreAndHistory(t *testing.T) {
	eng, _, store := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")
	doSet(t, eng, "C", "foo", "C")
	mustUndo(t, eng)

	wantFoo, _ := store.Get("foo")
	wantBar, _ := store.Get("bar")
	want := descriptions(t, eng)

	newLog := translog.NewMemLog()
	if err := eng.Compact(newLog); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	eng.WithLog(newLog)

	gotFoo, _ := store.Get("foo")
	gotBar, _ := store.Get("bar")
	if gotFoo != wantFoo || gotBar != wantBar {
		t.Fatalf("store after compact = {foo:%v bar:%v}, want {foo:%v bar:%v}", gotFoo, gotBar, wantFoo, wantBar)
	}

	got := descriptions(t, eng)
	if len(got) != len(want) {
		t.Fatalf("linear history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("linear[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// The sealed old log still reads as the history that was live when it was
// sealed: the commit-close impersonates the tip it closed over.
func TestSealedLogStillReportsItsHistory(t *testing.T) {
	eng, oldLog, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")
	doSet(t, eng, "B", "bar", "B")

	newLog := translog.NewMemLog()
	if err := eng.Compact(newLog); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	// eng still points at the sealed old log.
	if got := descriptions(t, eng); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("linear history on sealed log = %v, want [A B]", got)
	}
	_, top, err := oldLog.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if top.N != 2 {
		t.Fatalf("commit-close n = %d, want the sealed tip's 2", top.N)
	}
}

// A tip left at prepare-do (a crash between prepare and commit) is rolled
// back to the pre-prepare predecessor, idempotently.
func TestRecoverRollsBackDanglingPrepare(t *testing.T) {
	eng, log, store := newEngine(t)
	doSet(t, eng, "A", "foo", "A")

	_, predecessor, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}

	// Simulate the crash: append a prepare-do for "B" directly, bypassing
	// Do, and never commit it.
	prepareIdx, err := log.Append(translog.Operation{
		Kind:        oplog.KindPrepareDo,
		Description: "B",
		N:           predecessor.N + 1,
		PrevIdx:     mustTopIdx(t, log),
		HasPrevIdx:  true,
		State:       predecessor.State,
		Changes:     kvstore.ChangeSet{"bar": {Old: nil, New: "B"}},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Apply(kvstore.ChangeSet{"bar": {Old: nil, New: "B"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := eng.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	_, top, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if top.Kind != oplog.KindRollbackDo {
		t.Fatalf("tip kind after recover = %v, want rollback-do", top.Kind)
	}
	if top.PrepareIdx != prepareIdx || !top.HasPrepareIdx {
		t.Errorf("rollback record's prepare_idx = %d, want %d", top.PrepareIdx, prepareIdx)
	}
	if _, ok := store.Get("bar"); ok {
		t.Errorf("store still has bar after recovery rollback")
	}

	// Idempotent: running Recover again on an already-committed/rolled-back
	// tip is a no-op.
	beforeIdx, _, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if err := eng.Recover(); err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	afterIdx, _, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if beforeIdx != afterIdx {
		t.Fatalf("Recover on an already-settled tip appended a record")
	}
}

// A crash between prepare-undo and commit-undo must restore the record
// that was tip when the undo started - which a prepare-undo's own
// prev_idx does NOT point at, because the prepare already impersonates
// the undone action's predecessor.
func TestRecoverRollsBackDanglingUndoPrepare(t *testing.T) {
	eng, log, _ := newEngine(t)
	doSet(t, eng, "A", "k", 1)
	doSet(t, eng, "B", "k", 2)
	mustUndo(t, eng) // undoes B; store back to {k:1}, linear [A]

	preIdx, preTop, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}

	// Simulate a crash in the middle of undoing A: the prepare-undo is in
	// the log (impersonating A's predecessor, the init record) but the
	// store was never touched.
	init, err := log.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if _, err := log.Append(translog.Operation{
		Kind:        oplog.KindPrepareUndo,
		Description: "A",
		N:           init.N,
		PrevIdx:     init.PrevIdx,
		HasPrevIdx:  init.HasPrevIdx,
		LinearIdx:   init.LinearIdx,
		State:       init.State,
		Changes:     kvstore.ChangeSet{"k": {Old: 1, New: nil}},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := eng.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	_, top, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if top.Kind != oplog.KindRollbackUndo {
		t.Fatalf("tip kind after recover = %v, want rollback-undo", top.Kind)
	}
	if top.N != preTop.N || top.LinearIdx != preTop.LinearIdx {
		t.Fatalf("recovered tip (n=%d, linear_idx=%d), want clone of pre-crash tip at %d (n=%d, linear_idx=%d)",
			top.N, top.LinearIdx, preIdx, preTop.N, preTop.LinearIdx)
	}
	if v := mustGet(t, eng, "k"); v != 1 {
		t.Errorf("k = %v, want 1", v)
	}
	if got := descriptions(t, eng); len(got) != 1 || got[0] != "A" {
		t.Fatalf("linear history after recovery = %v, want [A]", got)
	}
}

func mustTopIdx(t *testing.T, log *translog.MemLog) int64 {
	t.Helper()
	idx, _, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	return idx
}

func TestCancelWritesNothing(t *testing.T) {
	eng, log, _ := newEngine(t)
	before, err := log.NextIdx()
	if err != nil {
		t.Fatalf("NextIdx: %v", err)
	}

	err = eng.Do("cancelled", func(txn *oplog.Transaction) error {
		txn.SetStore("foo", "should-not-stick")
		return txn.Cancel()
	})
	if err != nil {
		t.Fatalf("Do with Cancel: %v", err)
	}

	after, err := log.NextIdx()
	if err != nil {
		t.Fatalf("NextIdx: %v", err)
	}
	if before != after {
		t.Fatalf("log grew from %d to %d entries despite a cancelled transaction", before, after)
	}
	if _, ok := eng.Get("foo"); ok {
		t.Errorf("store has foo despite a cancelled transaction")
	}
}

// flakyStore fails its next Apply, simulating a store that drifted out of
// sync between the transaction reading it and the engine applying to it.
type flakyStore struct {
	*kvstore.MemStore
	failNextApply bool
}

func (s *flakyStore) Apply(changes kvstore.ChangeSet) error {
	if s.failNextApply {
		s.failNextApply = false
		return &kvstore.ErrOutOfSync{Key: "foo", Wanted: "A", Current: "poisoned"}
	}
	return s.MemStore.Apply(changes)
}

// A failed store apply settles the log with a rollback record and leaves
// the linear tip unchanged, so the caller can retry.
func TestFailedApplyWritesRollbackAndKeepsTip(t *testing.T) {
	log := translog.NewMemLog()
	store := &flakyStore{MemStore: kvstore.NewMemStore()}
	eng := oplog.NewEngine(log, store)
	if err := eng.Init(oplog.State{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	doSet(t, eng, "A", "foo", "A")

	store.failNextApply = true
	err := eng.Do("B", func(txn *oplog.Transaction) error {
		txn.SetStore("foo", "B")
		return nil
	})
	var outOfSync *kvstore.ErrOutOfSync
	if !errors.As(err, &outOfSync) {
		t.Fatalf("Do on desynced store: %v, want *ErrOutOfSync", err)
	}

	_, top, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if top.Kind != oplog.KindRollbackDo {
		t.Fatalf("tip kind = %v, want rollback-do", top.Kind)
	}
	if got := descriptions(t, eng); len(got) != 1 || got[0] != "A" {
		t.Fatalf("linear history = %v, want [A] unchanged", got)
	}
	if v := mustGet(t, eng, "foo"); v != "A" {
		t.Errorf("foo = %v, want A untouched", v)
	}
}

func TestSealedLogRejectsDo(t *testing.T) {
	eng, _, _ := newEngine(t)
	doSet(t, eng, "A", "foo", "A")

	newLog := translog.NewMemLog()
	if err := eng.Compact(newLog); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	// eng still points at the now-sealed old log.
	if err := eng.Do("B", func(txn *oplog.Transaction) error { return nil }); !errors.Is(err, oplog.ErrSealed) {
		t.Fatalf("Do on sealed log: %v, want ErrSealed", err)
	}
	if err := eng.Undo(); !errors.Is(err, oplog.ErrSealed) {
		t.Fatalf("Undo on sealed log: %v, want ErrSealed", err)
	}
	if err := eng.Redo(-1); !errors.Is(err, oplog.ErrSealed) {
		t.Fatalf("Redo on sealed log: %v, want ErrSealed", err)
	}
}
