package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStoreUnavailable reports that the database could not be reached.
	ErrStoreUnavailable = errors.New("analytics store unavailable")
	// ErrQueryTimeout reports that a statement exceeded its deadline.
	ErrQueryTimeout = errors.New("query timed out")
	// ErrInvalidIdentifier reports a table or column name that is not a plain identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// StatementError reports a statement the database rejected.
// Unlike ErrStoreUnavailable it can be fixed by rewriting the statement.
type StatementError struct {
	Stmt string
	Err  error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement rejected: %v", e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// IsStatementError reports whether err was caused by the statement itself.
func IsStatementError(err error) bool {
	var stmtErr *StatementError
	return errors.As(err, &stmtErr)
}

// IsInfrastructureError reports whether err means the store, not the statement, failed.
func IsInfrastructureError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrQueryTimeout)
}

// ContextError maps a context failure to the store error taxonomy.
// It returns nil when ctx is still live.
func ContextError(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return errors.Wrap(ErrQueryTimeout, ctx.Err().Error())
	default:
		return ctx.Err()
	}
}
