package cli_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kvlog/undolog/pkg/cli"
)

func TestRunRequiresCreateFirst(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	code := cli.Run(dir, []string{"get", "foo"}, &out)
	if code != cli.ExitUserError {
		t.Fatalf("Run(get) before create: exit %d, out %q, want ExitUserError", code, out.String())
	}
}

func TestRunCreateSetGetUndoRedo(t *testing.T) {
	dir := t.TempDir()

	run := func(args ...string) string {
		var out bytes.Buffer
		code := cli.Run(dir, args, &out)
		if code != cli.ExitOK {
			t.Fatalf("Run(%v): exit %d, out %q", args, code, out.String())
		}
		return out.String()
	}

	run("create")
	run("set", "foo=A")
	run("set", "bar=B")

	if got := run("get", "foo", "bar"); !strings.Contains(got, "foo=A") || !strings.Contains(got, "bar=B") {
		t.Fatalf("get foo bar = %q, want both keys present", got)
	}

	run("undo")
	if got := run("get", "bar"); !strings.Contains(got, "bar (absent)") {
		t.Fatalf("get bar after undo = %q, want absent", got)
	}

	run("redo")
	if got := run("get", "bar"); !strings.Contains(got, "bar=B") {
		t.Fatalf("get bar after redo = %q, want bar=B", got)
	}
}

func TestRunUndoOnEmptyHistoryReturnsUserError(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cli.Run(dir, []string{"create"}, &out)

	out.Reset()
	code := cli.Run(dir, []string{"undo"}, &out)
	if code != cli.ExitUserError {
		t.Fatalf("Run(undo) on empty history: exit %d, out %q, want ExitUserError", code, out.String())
	}
}

func TestRunCompactSurvivesReopenAndPreservesState(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	cli.Run(dir, []string{"create"}, &out)
	cli.Run(dir, []string{"set", "foo=A"}, &out)
	cli.Run(dir, []string{"set", "bar=B"}, &out)

	out.Reset()
	code := cli.Run(dir, []string{"compact"}, &out)
	if code != cli.ExitOK {
		t.Fatalf("Run(compact): exit %d, out %q", code, out.String())
	}

	// Re-open the session (as a fresh process would) and confirm the store
	// still reflects both sets after the rename-swap.
	sess, err := cli.Open(dir)
	if err != nil {
		t.Fatalf("Open after compact: %v", err)
	}
	defer sess.Close()

	if v, ok := sess.Eng.Get("foo"); !ok || v != "A" {
		t.Fatalf("foo after reopen = (%v, %v), want (A, true)", v, ok)
	}
	if v, ok := sess.Eng.Get("bar"); !ok || v != "B" {
		t.Fatalf("bar after reopen = (%v, %v), want (B, true)", v, ok)
	}
}

func TestRunExampleNeedsNoSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist-yet")
	var out bytes.Buffer
	code := cli.Run(dir, []string{"example"}, &out)
	if code != cli.ExitOK {
		t.Fatalf("Run(example): exit %d, out %q", code, out.String())
	}
	if out.Len() == 0 {
		t.Fatalf("Run(example) produced no output")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cli.Run(dir, []string{"create"}, &out)

	out.Reset()
	code := cli.Run(dir, []string{"frobnicate"}, &out)
	if code != cli.ExitUsage {
		t.Fatalf("Run(frobnicate): exit %d, want ExitUsage", code)
	}
}
