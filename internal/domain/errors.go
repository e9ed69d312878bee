package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeInvalidSignature  ErrorCode = "INVALID_SIGNATURE"
	CodeTransientStore    ErrorCode = "TRANSIENT_STORE_ERROR"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInternal          ErrorCode = "INTERNAL"
)

// Error is the categorized failure surfaced to callers. Two errors match
// under errors.Is when their codes are equal.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation        = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrInsufficientStock = &Error{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrInvalidSignature  = &Error{Code: CodeInvalidSignature, Message: "invalid signature"}
	ErrTransientStore    = &Error{Code: CodeTransientStore, Message: "store unavailable"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrConflict          = &Error{Code: CodeConflict, Message: "concurrent modification"}
)

func Validationf(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what, id string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

func InvalidTransition(from, to Status) error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf("cannot move from %s to %s", from, to)}
}

func InsufficientStock(itemID string, requested, available int32) error {
	return &Error{
		Code:    CodeInsufficientStock,
		Message: fmt.Sprintf("item %s: requested %d, available %d", itemID, requested, available),
	}
}

func Transient(err error) error {
	return &Error{Code: CodeTransientStore, Message: "store unavailable", Err: err}
}

func Forbidden(msg string) error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// CodeOf returns the error code carried by err, or INTERNAL for untyped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
