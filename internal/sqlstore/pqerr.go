package sqlstore

import (
	"errors"

	"github.com/lib/pq"
)

// pqErrorCode extracts the Postgres SQLSTATE code from err, or "" if err
// isn't a *pq.Error.
func pqErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// ConstraintName returns the name of the violated constraint for a
// unique-violation error, or "" if unavailable.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
