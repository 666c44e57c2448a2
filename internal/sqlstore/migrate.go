package sqlstore

import (
	"fmt"

	"github.com/gofrs/flock"
)

// WithMigrationLock serializes the bootstrap step against the schema —
// applying schema.sql, or any external migration runner's equivalent —
// across every process starting up against the same database, so two
// BeadHub instances booted at once don't race on CREATE TABLE IF NOT
// EXISTS. lockPath is typically a file under the same volume the database
// lives behind (spec.md §1 names the migration runner itself as an
// external collaborator; this only guards BeadHub's own call into it).
//
// Adapted from the teacher's internal/lock package, which takes the same
// single-leader-via-advisory-lock approach with raw syscall.Flock; this
// uses gofrs/flock instead so the same code path works on non-Unix
// platforms without a build-tag split.
func WithMigrationLock(lockPath string, fn func() error) error {
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquiring migration lock %s: %w", lockPath, err)
	}
	defer fl.Unlock()

	if err := fn(); err != nil {
		return fmt.Errorf("running migration step: %w", err)
	}
	return nil
}
