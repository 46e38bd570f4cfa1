package translog_test

import (
	"errors"
	"testing"

	"github.com/kvlog/undolog/pkg/translog"
)

func TestMemLogTopEmpty(t *testing.T) {
	log := translog.NewMemLog()
	if _, _, err := log.Top(); !errors.Is(err, translog.ErrEmpty) {
		t.Fatalf("Top on empty log: %v, want ErrEmpty", err)
	}
}

func TestMemLogAppendAssignsSequentialIndices(t *testing.T) {
	log := translog.NewMemLog()
	for i, desc := range []string{"init", "A", "B"} {
		idx, err := log.Append(translog.Operation{Description: desc, N: int64(i)})
		if err != nil {
			t.Fatalf("Append %s: %v", desc, err)
		}
		if idx != int64(i) {
			t.Fatalf("Append %s idx = %d, want %d", desc, idx, i)
		}
	}

	next, err := log.NextIdx()
	if err != nil {
		t.Fatalf("NextIdx: %v", err)
	}
	if next != 3 {
		t.Fatalf("NextIdx = %d, want 3", next)
	}

	topIdx, top, err := log.Top()
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if topIdx != 2 || top.Description != "B" {
		t.Fatalf("Top = (%d, %+v), want (2, B)", topIdx, top)
	}
}

func TestMemLogGetOutOfRange(t *testing.T) {
	log := translog.NewMemLog()
	if _, err := log.Append(translog.Operation{Description: "A"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var corrupt *translog.ErrCorrupt
	if _, err := log.Get(5); !errors.As(err, &corrupt) {
		t.Fatalf("Get out of range: %v, want *ErrCorrupt", err)
	}
	if _, err := log.Get(-1); !errors.As(err, &corrupt) {
		t.Fatalf("Get negative index: %v, want *ErrCorrupt", err)
	}
}
