package types

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch with errors.As without
// string matching.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindCrypto         Kind = "crypto"
	KindIO             Kind = "io"
	KindProtocol       Kind = "protocol"
	KindNotInitialized Kind = "not_initialized"
)

// Error is the typed error carried across component boundaries. Every
// sentinel/wrapped error this module returns is one of these, so a
// caller can do:
//
//	var kerr *types.Error
//	if errors.As(err, &kerr) && kerr.Kind == types.KindNotFound { ... }
type Error struct {
	Kind    Kind
	Message string
	Err     error
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

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NewValidationError(msg string, err error) *Error {
	return newErr(KindValidation, msg, err)
}

func NewNotFoundError(msg string) *Error {
	return newErr(KindNotFound, msg, nil)
}

func NewCryptoError(msg string, err error) *Error {
	return newErr(KindCrypto, msg, err)
}

func NewIOError(msg string, err error) *Error {
	return newErr(KindIO, msg, err)
}

func NewProtocolError(msg string, err error) *Error {
	return newErr(KindProtocol, msg, err)
}

func NewNotInitializedError(msg string) *Error {
	return newErr(KindNotInitialized, msg, nil)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind == kind
	}
	return false
}
