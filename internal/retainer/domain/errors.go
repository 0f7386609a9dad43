package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every error the retainer ledger returns to callers.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindInvalidOrganization Kind = "invalid_organization"
	KindInvalidAmount       Kind = "invalid_amount"
	KindRetainerNotFound    Kind = "retainer_not_found"
	KindRetainerNotActive   Kind = "retainer_not_active"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindReferenceNotFound   Kind = "reference_not_found"
	KindReferenceInUse      Kind = "reference_in_use"
	KindAlreadyRefunded     Kind = "already_refunded"
	KindBalanceNotZero      Kind = "balance_not_zero"
	KindInvariantViolation  Kind = "invariant_violation"
	KindTransactionConflict Kind = "transaction_conflict"
	KindCommitTimeout       Kind = "commit_timeout"
	KindInternal            Kind = "internal"
)

// Transient reports whether the caller may retry the whole logical request.
func (k Kind) Transient() bool {
	return k == KindTransactionConflict || k == KindCommitTimeout
}

// Error is the single error type surfaced by the ledger.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Code is the stable, detail-free identifier of the error.
func (e *Error) Code() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Kind == other.Kind
}

var (
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrInvalidOrganization = &Error{Kind: KindInvalidOrganization}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrRetainerNotFound    = &Error{Kind: KindRetainerNotFound}
	ErrRetainerNotActive   = &Error{Kind: KindRetainerNotActive}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrReferenceNotFound   = &Error{Kind: KindReferenceNotFound}
	ErrReferenceInUse      = &Error{Kind: KindReferenceInUse}
	ErrAlreadyRefunded     = &Error{Kind: KindAlreadyRefunded}
	ErrBalanceNotZero      = &Error{Kind: KindBalanceNotZero}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
	ErrTransactionConflict = &Error{Kind: KindTransactionConflict}
	ErrCommitTimeout       = &Error{Kind: KindCommitTimeout}
	ErrInternal            = &Error{Kind: KindInternal}
)

// NewError builds a kinded error with a reason.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a kinded error. The cause stays reachable through errors.Unwrap.
func Wrap(kind Kind, cause error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed != nil {
		return typed.Kind
	}
	return KindInternal
}
