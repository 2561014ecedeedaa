package proto

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Name       string `json:"error"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Cause      string `json:"cause,omitempty"`
	HTTPStatus int    `json:"status"`
	cause      error
}

var _ error = Error{}

func (e Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %d: %s: %v", e.Name, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s %d: %s", e.Name, e.Code, e.Message)
}

func (e Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if err, ok := target.(Error); ok {
		return err.Code == e.Code
	}
	return errors.Is(e.cause, target)
}

func (e Error) Unwrap() error {
	return e.cause
}

func (e Error) WithCause(cause error) Error {
	err := e
	err.cause = cause
	if cause != nil {
		err.Cause = cause.Error()
	}
	return err
}

func (e Error) WithCausef(format string, args ...any) Error {
	cause := fmt.Errorf(format, args...)
	err := e
	err.cause = cause
	err.Cause = cause.Error()
	return err
}

var (
	ErrTransientTransport = Error{Code: 1000, Name: "TransientTransport", Message: "Stage server could not be reached", HTTPStatus: http.StatusServiceUnavailable}
	ErrStageRetry         = Error{Code: 1001, Name: "StageRetry", Message: "Stage attempt rejected", HTTPStatus: http.StatusUnauthorized}
	ErrProtocol           = Error{Code: 1002, Name: "Protocol", Message: "Stage response violates the protocol", HTTPStatus: http.StatusBadGateway}
	ErrState              = Error{Code: 1003, Name: "State", Message: "Operation not allowed in the current flow state", HTTPStatus: http.StatusConflict}
	ErrCaptureState       = Error{Code: 1004, Name: "CaptureState", Message: "Operation not allowed in the current capture state", HTTPStatus: http.StatusConflict}
	ErrMediaAcquisition   = Error{Code: 1005, Name: "MediaAcquisition", Message: "Capture device unavailable", HTTPStatus: http.StatusFailedDependency}
	ErrAuthSessionInvalid = Error{Code: 1006, Name: "AuthSessionInvalid", Message: "Auth session is invalid or expired", HTTPStatus: http.StatusUnauthorized}
)
