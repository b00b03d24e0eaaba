package dispatch

import (
	"errors"
	"fmt"
)

// ValidationError is returned by the Dispatcher when a task is malformed.
// It is always produced before any provider call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var (
	ErrIncompleteTask      = &ValidationError{Reason: "Incomplete notification data"}
	ErrTitleRequired       = &ValidationError{Reason: "Notification title is required"}
	ErrBulkRequiresList    = &ValidationError{Reason: `bulk notifications require an array of tokens: "to" must be an array`}
	ErrSingleRequiresToken = &ValidationError{Reason: `single notifications require one token: "to" must be a string`}
)

// ErrReceiptNotFound is returned by a ReceiptStore when no receipt exists for an id.
var ErrReceiptNotFound = errors.New("delivery receipt not found")

func unknownKindError(kind Kind) error {
	return &ValidationError{Reason: fmt.Sprintf("Unknown notification type: %s", kind)}
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
