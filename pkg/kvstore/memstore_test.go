package kvstore_test

import (
	"errors"
	"testing"

	"github.com/kvlog/undolog/pkg/kvstore"
)

func TestMemStoreApplyAndRollback(t *testing.T) {
	s := kvstore.NewMemStore()

	changes := kvstore.ChangeSet{
		"foo": {Old: nil, New: "A"},
	}
	if err := s.Apply(changes); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v, ok := s.Get("foo")
	if !ok || v != "A" {
		t.Fatalf("Get(foo) = (%v, %v), want (A, true)", v, ok)
	}

	if err := s.Rollback(changes); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok := s.Get("foo"); ok {
		t.Fatalf("foo still present after rollback")
	}
}

func TestMemStoreApplyRejectsOutOfSyncExpectation(t *testing.T) {
	s := kvstore.NewMemStore()
	if err := s.Apply(kvstore.ChangeSet{"foo": {Old: nil, New: "A"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	var outOfSync *kvstore.ErrOutOfSync
	err := s.Apply(kvstore.ChangeSet{"foo": {Old: "B", New: "C"}})
	if !errors.As(err, &outOfSync) {
		t.Fatalf("Apply with wrong Old: %v, want *ErrOutOfSync", err)
	}

	// A rejected Apply must not have partially mutated other keys either.
	if err := s.Apply(kvstore.ChangeSet{"foo": {Old: "B", New: "C"}, "bar": {Old: nil, New: "D"}}); err == nil {
		t.Fatalf("expected Apply to fail atomically")
	}
	if _, ok := s.Get("bar"); ok {
		t.Fatalf("bar applied despite foo's Apply failing in the same change-set")
	}
}

func TestMemStoreRollbackIsIdempotent(t *testing.T) {
	s := kvstore.NewMemStore()
	changes := kvstore.ChangeSet{"foo": {Old: nil, New: "A"}}
	if err := s.Apply(changes); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Rollback(changes); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	// Rolling back again is a no-op: current value already equals Old.
	if err := s.Rollback(changes); err != nil {
		t.Fatalf("second Rollback: %v, want nil (idempotent)", err)
	}
}

func TestChangeSetInvert(t *testing.T) {
	changes := kvstore.ChangeSet{"foo": {Old: "A", New: "B"}}
	inverted := changes.Invert()
	if inverted["foo"].Old != "B" || inverted["foo"].New != "A" {
		t.Fatalf("Invert() = %+v, want {Old:B New:A}", inverted["foo"])
	}
}
