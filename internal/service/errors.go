package service

import (
	"errors"
	"fmt"

	"github.com/punchamoorthee/feefineops/internal/money"
)

// ErrorKind discriminates action failures.
type ErrorKind string

const (
	KindInvalidAmountFormat ErrorKind = "InvalidAmountFormat"
	KindNonPositiveAmount   ErrorKind = "NonPositiveAmount"
	KindAccountNotFound     ErrorKind = "AccountNotFound"
	KindFailedValidation    ErrorKind = "FailedValidation"
	KindDistributionOverrun ErrorKind = "DistributionOverrun"
	KindPersistenceFailure  ErrorKind = "PersistenceFailure"
)

// ErrConflict is returned by stores when a row vanished or a write collided with existing data.
var ErrConflict = errors.New("account update conflict")

// Error is the failure returned by Check and Execute.
type Error struct {
	Kind    ErrorKind
	Message string
	// Remaining is the payable or refundable amount computed during validation, when known.
	Remaining *money.Amount
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Expected reports whether the failure is a normal user-facing outcome.
func (e *Error) Expected() bool {
	switch e.Kind {
	case KindInvalidAmountFormat, KindNonPositiveAmount, KindAccountNotFound, KindFailedValidation:
		return true
	}
	return false
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func failedValidation(msg string, remaining money.Amount) *Error {
	return &Error{Kind: KindFailedValidation, Message: msg, Remaining: &remaining}
}

func persistenceFailure(op string, err error) *Error {
	return &Error{Kind: KindPersistenceFailure, Message: op, Err: err}
}

// KindOf returns the kind of an action error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// distributionOverrun is the panic value raised when a plan cannot absorb the validated amount.
type distributionOverrun struct {
	requested money.Amount
	leftover  money.Amount
}

func (d distributionOverrun) String() string {
	return fmt.Sprintf("distribution overrun: %s of %s left unallocated", d.leftover, d.requested)
}
