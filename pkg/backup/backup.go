// Package backup shadow-copies a data directory before a risky,
// hard-to-undo operation, so a failure mid-write can be rolled back to the
// snapshot. Compaction is the one operation in this system that qualifies:
// it rewrites the log and is irreversible once the swap begins.
package backup

import (
	"os"
	"strings"

	"github.com/google/uuid"
	cp "github.com/otiai10/copy"
)

// Snapshot copies dir to a sibling "<dir>-compacting-<uuid>/" shadow
// directory and returns its path. The uuid suffix keeps concurrent
// sessions (e.g. several server connections) from colliding.
func Snapshot(dir string) (string, error) {
	shadow := strings.TrimSuffix(dir, "/") + "-compacting-" + uuid.New().String() + "/"
	if err := cp.Copy(dir, shadow); err != nil {
		return "", err
	}
	return shadow, nil
}

// Restore replaces dir's contents with shadow's and removes the shadow.
func Restore(dir, shadow string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := cp.Copy(shadow, dir); err != nil {
		return err
	}
	return os.RemoveAll(shadow)
}

// Discard removes a shadow directory once it's no longer needed, i.e. the
// guarded operation completed successfully.
func Discard(shadow string) error {
	return os.RemoveAll(shadow)
}
