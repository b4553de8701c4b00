// Package apperr defines the error taxonomy shared by the chat services
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInternal                  Code = "INTERNAL"
	CodeUnauthenticated           Code = "UNAUTHENTICATED"
	CodeInvalidInput              Code = "INVALID_INPUT"
	CodeNotFoundOrAlreadyResolved Code = "NOT_FOUND_OR_ALREADY_RESOLVED"
	CodePermissionDenied          Code = "PERMISSION_DENIED"
	CodeDecryptionFailed          Code = "DECRYPTION_FAILED"
	CodeInvalidKeyMaterial        Code = "INVALID_KEY_MATERIAL"
	CodeStorageUnavailable        Code = "STORAGE_UNAVAILABLE"
	CodeChannelUnavailable        Code = "CHANNEL_UNAVAILABLE"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so sentinel comparisons
// keep working after a cause has been attached with Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrUnauthenticated           = New(CodeUnauthenticated, "not authenticated")
	ErrNotFoundOrAlreadyResolved = New(CodeNotFoundOrAlreadyResolved, "request not found or already accepted/rejected")
	ErrNotRoomMember             = New(CodePermissionDenied, "not a member of this room")
	ErrDecryptionFailed          = New(CodeDecryptionFailed, "failed to decrypt message")
	ErrInvalidKeyMaterial        = New(CodeInvalidKeyMaterial, "invalid key material")
)

func InvalidInput(msg string) error {
	return New(CodeInvalidInput, msg)
}

func StorageUnavailable(cause error) error {
	return Wrap(CodeStorageUnavailable, "storage unavailable", cause)
}

func ChannelUnavailable(cause error) error {
	return Wrap(CodeChannelUnavailable, "realtime channel unavailable", cause)
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Message returns the caller-safe message for err. Causes of internal
// failures are never exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeInvalidInput, CodeInvalidKeyMaterial:
		return http.StatusBadRequest
	case CodeNotFoundOrAlreadyResolved:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeDecryptionFailed:
		return http.StatusUnprocessableEntity
	case CodeStorageUnavailable, CodeChannelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
