// Package cli wires the oplog.Engine to a concrete on-disk log+store pair
// and exposes the user-facing command surface, shared between one-shot argv
// invocation (cmd/undolog) and the TCP server mode.
package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/kvlog/undolog/pkg/keyfilter"
	"github.com/kvlog/undolog/pkg/kvstore"
	"github.com/kvlog/undolog/pkg/oplog"
	"github.com/kvlog/undolog/pkg/translog"
)

// logFileName and storeFileName are the fixed file names an undolog data
// directory contains; one engine owns exactly one of each.
const (
	logFileName   = "oplog.log"
	storeFileName = "store.db"

	defaultFilterSize = 1024
)

// Session owns one Engine over one on-disk log+store pair, plus the handles
// needed to close and (for compact) swap them.
type Session struct {
	Dir   string
	Log   *translog.FileLog
	Store *kvstore.FileStore
	Eng   *oplog.Engine
}

// Open opens (creating parent directories as needed) the log+store pair
// under dir, runs crash recovery whenever the log is non-empty (it is
// idempotent), and
// wires a keyfilter pre-seeded from the log's history.
func Open(dir string) (*Session, error) {
	logPath := filepath.Join(dir, logFileName)
	storePath := filepath.Join(dir, storeFileName)

	log, err := translog.OpenFileLog(logPath)
	if err != nil {
		return nil, err
	}
	store, err := kvstore.OpenFileStore(storePath)
	if err != nil {
		log.Close()
		return nil, err
	}

	next, err := log.NextIdx()
	if err != nil {
		store.Close()
		log.Close()
		return nil, err
	}

	filter, err := backfillKeyFilter(log)
	if err != nil {
		store.Close()
		log.Close()
		return nil, err
	}
	eng := oplog.NewEngine(log, store).WithKeyFilter(filter)

	if next > 0 {
		if err := eng.Recover(); err != nil {
			store.Close()
			log.Close()
			return nil, err
		}
	}

	return &Session{Dir: dir, Log: log, Store: store, Eng: eng}, nil
}

// backfillKeyFilter replays every prepare-* record's Changes into a fresh
// keyfilter.Filter. A keyfilter only helps Engine.Get if it already knows
// about every key a *prior* process's Do/Undo/Redo ever touched - since
// cmd/undolog runs one command per process, an empty filter freshly wired
// in here would make every `get` after the process that did the `set`
// report "absent" without ever consulting the store.
func backfillKeyFilter(log *translog.FileLog) (*keyfilter.Filter, error) {
	entries, err := log.Entries()
	if err != nil {
		return nil, err
	}
	size := defaultFilterSize
	if len(entries) > size {
		size = len(entries)
	}
	filter := keyfilter.New(size)
	for _, op := range entries {
		for k := range op.Changes {
			filter.Add(k)
		}
	}
	return filter, nil
}

// Close releases the session's file handles.
func (s *Session) Close() error {
	serr := s.Store.Close()
	lerr := s.Log.Close()
	if serr != nil {
		return serr
	}
	return lerr
}

// Exit codes: 0 on success, distinct non-zero codes so scripts can branch
// on failure class.
const (
	ExitOK        = 0
	ExitUserError = 1
	ExitCorrupt   = 2
	ExitOutOfSync = 3
	ExitUsage     = 4
	ExitRecovery  = 5
	ExitInternal  = 6
)

// ExitCode classifies err into one of the codes above.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var corrupt *translog.ErrCorrupt
	var outOfSync *kvstore.ErrOutOfSync
	switch {
	case errors.As(err, &corrupt):
		return ExitCorrupt
	case errors.As(err, &outOfSync):
		return ExitOutOfSync
	case errors.Is(err, oplog.ErrRecoveryRequired):
		return ExitRecovery
	case errors.Is(err, oplog.ErrEmptyHistory),
		errors.Is(err, oplog.ErrNothingToRedo),
		errors.Is(err, oplog.ErrRedoOutOfRange),
		errors.Is(err, oplog.ErrSealed):
		return ExitUserError
	default:
		return ExitInternal
	}
}

// Run is the one-shot entrypoint used by cmd/undolog: it dispatches a single
// command (args[0], with args[1:] as its arguments) against the session
// rooted at dir, writing output to w, and returns the process exit code.
func Run(dir string, args []string, w io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(w, "usage: undolog <command> [args...]; try 'help'")
		return ExitUsage
	}

	cmd := args[0]
	rest := args[1:]

	if cmd == "example" {
		if err := RunExamples(w); err != nil {
			fmt.Fprintln(w, "error:", err)
			return ExitInternal
		}
		return ExitOK
	}
	if cmd == "help" {
		fmt.Fprint(w, HelpText)
		return ExitOK
	}

	sess, err := Open(dir)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return ExitCode(err)
	}
	defer sess.Close()

	if cmd != "create" {
		if created, err := isCreated(sess); err != nil {
			fmt.Fprintln(w, "error:", err)
			return ExitCode(err)
		} else if !created {
			fmt.Fprintln(w, "error: no log here yet; run 'create' first")
			return ExitUserError
		}
	}

	fn, ok := Commands[cmd]
	if !ok {
		fmt.Fprintf(w, "error: unknown command %q; try 'help'\n", cmd)
		return ExitUsage
	}

	if err := fn(sess, rest, w); err != nil {
		fmt.Fprintln(w, "error:", err)
		return ExitCode(err)
	}
	return ExitOK
}

func isCreated(sess *Session) (bool, error) {
	next, err := sess.Log.NextIdx()
	if err != nil {
		return false, err
	}
	return next > 0, nil
}
