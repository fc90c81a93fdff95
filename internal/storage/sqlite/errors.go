package sqlite

import (
	"errors"
	"fmt"
)

// ErrUnknown signals a mutation that affected zero rows for a reason the
// store could not classify as missing-id or version mismatch.
var ErrUnknown = errors.New("store operation failed for unknown reason")

// NotFoundError is returned when an update or delete targets an id that
// does not exist in the table.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("row not found in %s: id=%s", e.Table, e.ID)
}

// ConcurrencyError is returned when the (id, ver) pair of a mutation does
// not match the stored row. ActualVer carries the version currently in the
// database so callers can refresh and retry.
type ConcurrencyError struct {
	Table     string
	ID        string
	Ver       int64
	ActualVer int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("version conflict in %s: id=%s ver=%d actual=%d", e.Table, e.ID, e.Ver, e.ActualVer)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConcurrency reports whether err is a ConcurrencyError.
func IsConcurrency(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}
