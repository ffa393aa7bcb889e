package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Code vault errors
	ErrValidation             = errors.New("validation error")
	ErrExhausted              = errors.New("no codes left for plan")
	ErrCrypto                 = errors.New("crypto error")
	ErrIssuedButUndecryptable = errors.New("code issued but could not be decrypted")
	ErrAlreadyIssued          = errors.New("a code was already issued for this payment")
	ErrContention             = errors.New("too much contention, nothing was claimed; retry")
)

// Validationf builds an ErrValidation carrying a user-facing message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IssuedButUndecryptableError is returned when a code row was permanently
// removed from the vault but its ciphertext could not be opened. The code is
// lost; Reference identifies the incident for manual remediation.
type IssuedButUndecryptableError struct {
	PlanID    string
	CodeID    string
	Reference string
	ClaimedAt time.Time
	Err       error
}

func (e *IssuedButUndecryptableError) Error() string {
	return fmt.Sprintf("code %s of plan %s issued but undecryptable (ref %s): %v",
		e.CodeID, e.PlanID, e.Reference, e.Err)
}

func (e *IssuedButUndecryptableError) Is(target error) bool {
	return target == ErrIssuedButUndecryptable
}

func (e *IssuedButUndecryptableError) Unwrap() error { return e.Err }
