package tools

import (
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

// Tool-level error classes. Recoverable errors go back to the model as tool
// output; infrastructure errors end the run.
var (
	// ErrQueryInvalid indicates the checker or the database rejected a statement.
	ErrQueryInvalid = errors.New("query invalid")

	// ErrUnresolvedNoun indicates a filter value was used instead of a looked-up canonical value.
	ErrUnresolvedNoun = errors.New("unresolved proper noun")

	// ErrInvalidInput indicates tool arguments could not be parsed.
	ErrInvalidInput = errors.New("invalid tool input")
)

// IsQueryFailure reports whether err counts against the corrective retry budget.
func IsQueryFailure(err error) bool {
	return errors.Is(err, ErrQueryInvalid) || errors.Is(err, ErrUnresolvedNoun)
}

// IsRecoverable reports whether the model can fix err by changing its input.
func IsRecoverable(err error) bool {
	return IsQueryFailure(err) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, store.ErrInvalidIdentifier) ||
		store.IsStatementError(err)
}

// IsInfrastructure reports whether err means a collaborator, not the input, failed.
func IsInfrastructure(err error) bool {
	return store.IsInfrastructureError(err)
}
