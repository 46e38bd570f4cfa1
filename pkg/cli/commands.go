package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kvlog/undolog/pkg/oplog"
)

// CommandFunc is a single CLI command: given the open session, its argv
// (not including the command word itself) and an output writer, it performs
// the action and returns an error to be mapped to an exit code by ExitCode.
type CommandFunc func(sess *Session, args []string, w io.Writer) error

// Commands maps every trigger to its handler, minus "example" and "help"
// which Run special-cases since they don't need an open session.
var Commands = map[string]CommandFunc{
	"create":  cmdCreate,
	"set":     cmdSet,
	"get":     cmdGet,
	"undo":    cmdUndo,
	"redo":    cmdRedo,
	"redos":   cmdRedos,
	"changes": cmdChanges,
	"history": cmdHistory,
	"compact": cmdCompact,
}

// HelpText lists every command, in the REPL's own "trigger: description"
// style (see pkg/repl.REPL.HelpString).
const HelpText = `create: initialize a new, empty undo/redo log in this directory
set key=value [key=value...]: record a new action that sets one or more keys
get key [key...]: read one or more keys from the store
undo: reverse the most recent action in the linear history
redo [n]: reapply entry n of the redo set as listed by 'redos' (negative n counts from the end; default: -1, the last entry)
redos: list the currently redoable actions
changes: list the actions applied to the store, oldest first
history: dump every record in the log, in append order, undo/redo included
compact: rewrite the log to contain only the current linear history
example: run the in-memory demonstration script against a MemLog/MemStore
help: show this text
`

func cmdCreate(sess *Session, args []string, w io.Writer) error {
	next, err := sess.Log.NextIdx()
	if err != nil {
		return err
	}
	if next > 0 {
		fmt.Fprintln(w, "log already exists")
		return nil
	}
	if err := sess.Eng.Init(oplog.State{}); err != nil {
		return err
	}
	fmt.Fprintln(w, "created")
	return nil
}

func cmdSet(sess *Session, args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: set key=value [key=value...]")
	}
	pairs := make(map[string]string, len(args))
	order := make([]string, 0, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("usage: set key=value [key=value...], got %q", arg)
		}
		if _, seen := pairs[k]; !seen {
			order = append(order, k)
		}
		pairs[k] = v
	}

	description := "set " + strings.Join(args, " ")
	err := sess.Eng.Do(description, func(txn *oplog.Transaction) error {
		for _, k := range order {
			txn.SetStore(k, pairs[k])
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ok")
	return nil
}

func cmdGet(sess *Session, args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: get key [key...]")
	}
	for _, key := range args {
		if v, ok := sess.Eng.Get(key); ok {
			fmt.Fprintf(w, "%s=%v\n", key, v)
		} else {
			fmt.Fprintf(w, "%s (absent)\n", key)
		}
	}
	return nil
}

func cmdUndo(sess *Session, args []string, w io.Writer) error {
	if err := sess.Eng.Undo(); err != nil {
		return err
	}
	fmt.Fprintln(w, "undone")
	return nil
}

func cmdRedo(sess *Session, args []string, w io.Writer) error {
	n := -1
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("usage: redo [n], n must be an integer: %w", err)
		}
		n = parsed
	}
	if err := sess.Eng.Redo(n); err != nil {
		return err
	}
	fmt.Fprintln(w, "redone")
	return nil
}

func cmdRedos(sess *Session, args []string, w io.Writer) error {
	listings, err := sess.Eng.Redos()
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(w, "(nothing to redo)")
		return nil
	}
	for i, l := range listings {
		fmt.Fprintf(w, "%d: %v %s\n", i, l.UndoneAt, l.Description)
	}
	return nil
}

// cmdChanges lists the linear history: each action currently applied to
// the store, oldest first, with the time it most recently became tip.
func cmdChanges(sess *Session, args []string, w io.Writer) error {
	linear, err := sess.Eng.LinearHistory()
	if err != nil {
		return err
	}
	if len(linear) == 0 {
		fmt.Fprintln(w, "(no actions)")
		return nil
	}
	for _, entry := range linear {
		fmt.Fprintf(w, "%v %s\n", entry.Date, entry.Description)
	}
	return nil
}

func cmdHistory(sess *Session, args []string, w io.Writer) error {
	lines, err := sess.Eng.History()
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintf(w, "%d\t%-14s\t%s\tn=%d\tlinear_idx=%d\n", l.Idx, l.Kind, l.Description, l.N, l.LinearIdx)
	}
	return nil
}

func cmdCompact(sess *Session, args []string, w io.Writer) error {
	if err := compact(sess); err != nil {
		return err
	}
	fmt.Fprintln(w, "compacted")
	return nil
}
