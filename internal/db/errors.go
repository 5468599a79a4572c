package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrNotFound    = errors.New("db: not found")
	ErrKeyNotFound = errors.New("db: key not found")
)

// Op names used for error context.
const (
	OpConnect  = "CONNECT"
	OpExec     = "EXEC"
	OpQuery    = "QUERY"
	OpBegin    = "BEGIN"
	OpCommit   = "COMMIT"
	OpBatch    = "BATCH"
	OpGet      = "GET"
	OpSet      = "SET"
	OpDel      = "DEL"
	OpScanKeys = "SCAN"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *Error for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
