package graph

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrCodeValidation             ErrorCode = "validation"
	ErrCodeModificationNotAllowed ErrorCode = "modification_not_allowed"
	ErrCodeStoringNotAllowed      ErrorCode = "storing_not_allowed"
	ErrCodeLock                   ErrorCode = "lock_error"
	ErrCodeNotExistent            ErrorCode = "not_existent"
	ErrCodeUniqueness             ErrorCode = "uniqueness"
	ErrCodeInvalidOperation       ErrorCode = "invalid_operation"
)

// Error is the engine error taxonomy. Callers branch on Code via As/Is
// helpers rather than string matching.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func ValidationErrorf(format string, args ...interface{}) *Error {
	return newError(ErrCodeValidation, format, args...)
}

func ModificationNotAllowedf(format string, args ...interface{}) *Error {
	return newError(ErrCodeModificationNotAllowed, format, args...)
}

func StoringNotAllowedf(format string, args ...interface{}) *Error {
	return newError(ErrCodeStoringNotAllowed, format, args...)
}

func LockErrorf(format string, args ...interface{}) *Error {
	return newError(ErrCodeLock, format, args...)
}

func NotExistentf(format string, args ...interface{}) *Error {
	return newError(ErrCodeNotExistent, format, args...)
}

func UniquenessErrorf(format string, args ...interface{}) *Error {
	return newError(ErrCodeUniqueness, format, args...)
}

func InvalidOperationf(format string, args ...interface{}) *Error {
	return newError(ErrCodeInvalidOperation, format, args...)
}

func HasCode(err error, code ErrorCode) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

func IsModificationNotAllowed(err error) bool {
	return HasCode(err, ErrCodeModificationNotAllowed)
}

func IsLockError(err error) bool { return HasCode(err, ErrCodeLock) }

func IsUniquenessError(err error) bool { return HasCode(err, ErrCodeUniqueness) }

func IsInvalidOperation(err error) bool { return HasCode(err, ErrCodeInvalidOperation) }

func IsNotExistent(err error) bool { return HasCode(err, ErrCodeNotExistent) }
