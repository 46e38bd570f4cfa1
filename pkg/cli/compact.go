package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kvlog/undolog/pkg/backup"
	"github.com/kvlog/undolog/pkg/translog"
)

// compact runs Engine.Compact against a fresh log file, then swaps it onto
// the session's canonical log path so the compaction survives process
// restarts. A backup.Snapshot of the whole directory guards the swap: if
// anything fails after the swap begins, the directory is restored to
// exactly its pre-compact state rather than left half-migrated.
func compact(sess *Session) error {
	shadow, err := backup.Snapshot(sess.Dir)
	if err != nil {
		return fmt.Errorf("compact: snapshot failed: %w", err)
	}

	newPath := filepath.Join(sess.Dir, logFileName+".compact")
	os.Remove(newPath)
	newLog, err := translog.OpenFileLog(newPath)
	if err != nil {
		backup.Discard(shadow)
		return err
	}

	if err := sess.Eng.Compact(newLog); err != nil {
		newLog.Close()
		os.Remove(newPath)
		backup.Restore(sess.Dir, shadow)
		return err
	}
	newLog.Close()

	oldPath := filepath.Join(sess.Dir, logFileName)
	sealedPath := filepath.Join(sess.Dir, fmt.Sprintf("%s.sealed-%d", logFileName, time.Now().UnixNano()))
	if err := sess.Log.Close(); err != nil {
		backup.Restore(sess.Dir, shadow)
		return err
	}
	if err := os.Rename(oldPath, sealedPath); err != nil {
		backup.Restore(sess.Dir, shadow)
		return err
	}
	if err := os.Rename(newPath, oldPath); err != nil {
		backup.Restore(sess.Dir, shadow)
		return err
	}

	reopened, err := translog.OpenFileLog(oldPath)
	if err != nil {
		backup.Restore(sess.Dir, shadow)
		return err
	}
	sess.Log = reopened
	sess.Eng = sess.Eng.WithLog(reopened)

	return backup.Discard(shadow)
}
