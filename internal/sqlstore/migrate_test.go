package sqlstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestWithMigrationLock_RunsFn(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "migrate.lock")

	ran := false
	if err := WithMigrationLock(lockPath, func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("WithMigrationLock() error = %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
}

func TestWithMigrationLock_PropagatesFnError(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "migrate.lock")

	wantErr := errors.New("boom")
	err := WithMigrationLock(lockPath, func() error { return wantErr })
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("WithMigrationLock() error = %v, want wrapping %v", err, wantErr)
	}
}

func TestWithMigrationLock_ReleasesForSubsequentCall(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "migrate.lock")

	if err := WithMigrationLock(lockPath, func() error { return nil }); err != nil {
		t.Fatalf("first WithMigrationLock() error = %v", err)
	}
	if err := WithMigrationLock(lockPath, func() error { return nil }); err != nil {
		t.Fatalf("second WithMigrationLock() error = %v", err)
	}
}
