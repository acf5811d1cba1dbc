// Package apperr defines the error kinds shared by the generation pipeline.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InputInvalid        Kind = "input_invalid"
	NotFound            Kind = "not_found"
	QuotaExceeded       Kind = "quota_exceeded"
	ProviderTransient   Kind = "provider_transient"
	ProviderPermanent   Kind = "provider_permanent"
	PartialImageFailure Kind = "partial_image_failure"
	StorageError        Kind = "storage_error"
	Cancelled           Kind = "cancelled"
	ParseWarning        Kind = "parse_warning"
)

type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Timeout bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsTimeout(err error) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Timeout {
			return true
		}
		err = e.Err
	}
	return false
}
