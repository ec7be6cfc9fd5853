package entitymanager

import (
	"errors"
	"fmt"
)

// ValidationError is an expected, per-event rejection. The event is skipped
// and the block continues.
type ValidationError struct {
	EntityType EntityType
	Action     Action
	TxHash     string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("entitymanager: invalid %s %s in %s: %s", e.EntityType, e.Action, e.TxHash, e.Reason)
}

func invalid(params *Params, format string, args ...interface{}) error {
	return &ValidationError{
		EntityType: params.Event.EntityType,
		Action:     params.Event.Action,
		TxHash:     params.Event.TxHash,
		Reason:     fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// SystemicError is an unexpected failure while applying one event.
type SystemicError struct {
	Event Event
	Err   error
}

func (e *SystemicError) Error() string {
	return fmt.Sprintf("entitymanager: %s %s in %s failed: %v", e.Event.EntityType, e.Event.Action, e.Event.TxHash, e.Err)
}

func (e *SystemicError) Unwrap() error {
	return e.Err
}

// CommitError is a failure of the block's storage transaction.
type CommitError struct {
	BlockNumber int64
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("entitymanager: commit of block %d failed: %v", e.BlockNumber, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

const reasonUnauthorizedSigner = "unauthorized signer"

// ErrNoRevertLog indicates a block has no revert-log row.
var ErrNoRevertLog = errors.New("entitymanager: no revert log for block")
