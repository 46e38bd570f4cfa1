package cli

import (
	"fmt"
	"io"

	"github.com/kvlog/undolog/pkg/kvstore"
	"github.com/kvlog/undolog/pkg/oplog"
	"github.com/kvlog/undolog/pkg/translog"
)

// RunExamples runs a scripted in-memory demonstration (do A..E, undo,
// redo, compact) against a MemLog/MemStore pair, printing the resulting
// linear history, redo set and raw log dump so anyone can see the engine
// work without creating any on-disk state.
func RunExamples(w io.Writer) error {
	log := translog.NewMemLog()
	store := kvstore.NewMemStore()
	eng := oplog.NewEngine(log, store)

	if err := eng.Init(oplog.State{"internal": false}); err != nil {
		return err
	}

	do := func(desc string, fn func(*oplog.Transaction)) error {
		return eng.Do(desc, func(txn *oplog.Transaction) error {
			fn(txn)
			return nil
		})
	}

	if err := do("A", func(txn *oplog.Transaction) { txn.SetStore("foo", "A") }); err != nil {
		return err
	}
	if err := do("B", func(txn *oplog.Transaction) { txn.SetStore("bar", "B") }); err != nil {
		return err
	}
	if err := do("C", func(txn *oplog.Transaction) { txn.SetStore("foo", "C") }); err != nil {
		return err
	}
	if err := do("D", func(txn *oplog.Transaction) { txn.SetStore("bar", "D") }); err != nil {
		return err
	}
	if err := do("E", func(txn *oplog.Transaction) {
		txn.SetStore("foo", "E")
		txn.SetStore("bar", "E")
		txn.SetState("internal", true)
	}); err != nil {
		return err
	}

	if err := eng.Undo(); err != nil {
		return err
	}

	redos, err := eng.Redos()
	if err != nil {
		return err
	}
	for _, r := range redos {
		fmt.Fprintln(w, "redo", r.UndoneAt, r.Description)
	}

	if err := eng.Redo(-1); err != nil {
		return err
	}

	if err := printEngine(w, eng); err != nil {
		return err
	}

	newLog := translog.NewMemLog()
	if err := eng.Compact(newLog); err != nil {
		return err
	}
	eng.WithLog(newLog)

	fmt.Fprintln(w, "--- after compact ---")
	return printEngine(w, eng)
}

func printEngine(w io.Writer, eng *oplog.Engine) error {
	state, err := eng.State()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "state", state)

	linear, err := eng.LinearHistory()
	if err != nil {
		return err
	}
	for i, entry := range linear {
		fmt.Fprintln(w, i, entry.Description, entry.State)
	}

	history, err := eng.History()
	if err != nil {
		return err
	}
	for _, line := range history {
		fmt.Fprintf(w, "%d\t%s\t%s\n", line.Idx, line.Kind, line.Description)
	}
	return nil
}
