// Package apperr implements the error taxonomy shared by every core
// subsystem, plus the HTTP status mapping used at the transport edge.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the recognized error variants. Two errors with the
// same Kind compare equal under errors.Is regardless of their wrapped cause.
type Kind string

const (
	AuthFailNoToken         Kind = "AuthFailNoToken"
	AuthFailInvalidToken    Kind = "AuthFailInvalidToken"
	AuthFailCtxNotFound     Kind = "AuthFailCtxNotFound"
	SessionNotFound         Kind = "SessionNotFound"
	SessionExists           Kind = "SessionExists"
	SessionFull             Kind = "SessionFull"
	SessionNotOwned         Kind = "SessionNotOwned"
	PeerConnectionNotFound  Kind = "PeerConnectionNotFound"
	LocalDescriptionMissing Kind = "LocalDescriptionMissing"
	WebRTCErr               Kind = "WebRTCErr"
	QueueError              Kind = "QueueError"
	InvalidURL              Kind = "InvalidURL"
	LiveStreamNotSupported  Kind = "LiveStreamNotSupported"
	ContentNotFound         Kind = "ContentNotFound"
	FileTooLarge            Kind = "FileTooLarge"
	DuplicateContent        Kind = "DuplicateContent"
	PlayListParseErr        Kind = "PlayListParseErr"
	DownloadFailed          Kind = "DownloadFailed"
	ConversionFailed        Kind = "ConversionFailed"
	UploadFailed            Kind = "UploadFailed"
	S3DownloadError         Kind = "S3DownloadError"
	S3Error                 Kind = "S3Error"
	DatabaseWriteError      Kind = "DatabaseWriteError"
	DBError                 Kind = "DBError"
	DBConnectionFail        Kind = "DBConnectionFail"
	BroadcasterError        Kind = "BroadcasterError"
	SSEError                Kind = "SSEError"
	ResetFileError          Kind = "ResetFileError"
	StdIoError              Kind = "StdIoError"
)

// Error wraps a Kind with an optional message and cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		if e.cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.cause)
		}
		return string(e.Kind)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, apperr.New(apperr.SessionNotFound, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, cause: err}
}

// WrapMsg constructs an Error of the given kind around a cause, with an
// additional message.
func WrapMsg(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf extracts the Kind from err, if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus maps a Kind to the status code the HTTP layer should return.
func HTTPStatus(kind Kind) int {
	switch kind {
	case SessionNotOwned, FileTooLarge, InvalidURL, LiveStreamNotSupported,
		PlayListParseErr, QueueError:
		return http.StatusBadRequest
	case SessionNotFound, PeerConnectionNotFound, ContentNotFound:
		return http.StatusNotFound
	case SessionExists, DuplicateContent:
		return http.StatusConflict
	case AuthFailNoToken, AuthFailInvalidToken, AuthFailCtxNotFound:
		return http.StatusUnauthorized
	case SessionFull:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatusForErr is a convenience wrapper for err values that may or may
// not be an *Error; non-Error values map to 500.
func HTTPStatusForErr(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	return HTTPStatus(kind)
}
