package core

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable identifier callers branch on. Human text is looked up
// by code on the client side.
type ErrorCode string

const (
	CodeInvalidCredentials        ErrorCode = "INVALID_CREDENTIALS"
	CodeUserNotFound              ErrorCode = "USER_NOT_FOUND"
	CodeAuthenticationFailed      ErrorCode = "AUTHENTICATION_FAILED"
	CodeInvalidToken              ErrorCode = "INVALID_TOKEN"
	CodeSessionNotFound           ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitExceeded      ErrorCode = "SESSION_LIMIT_EXCEEDED"
	CodeSessionCreationFailed     ErrorCode = "SESSION_CREATION_FAILED"
	CodeSessionsTerminationFailed ErrorCode = "SESSIONS_TERMINATION_FAILED"
	CodeTokenCreationFailed       ErrorCode = "TOKEN_CREATION_FAILED"
	CodeTokenVerificationFailed   ErrorCode = "TOKEN_VERIFICATION_FAILED"
	CodeTokenRefreshFailed        ErrorCode = "TOKEN_REFRESH_FAILED"
	CodeTooManyRequests           ErrorCode = "TOO_MANY_REQUESTS"
	CodeMissingConfirmationCode   ErrorCode = "MISSING_CONFIRMATION_CODE"
	CodeInvalidConfirmationCode   ErrorCode = "INVALID_CONFIRMATION_CODE"
	CodeExpiredConfirmationCode   ErrorCode = "EXPIRED_CONFIRMATION_CODE"
	CodeUnknown                   ErrorCode = "UNKNOWN_ERROR"
)

// DetailRemainingSeconds is the Detail key carrying the lockout time left.
const DetailRemainingSeconds = "remainingSeconds"

// Error is a domain error with a stable code.
type Error struct {
	Code    ErrorCode
	Message string
	Detail  map[string]any
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

// Is matches any *Error carrying the same code, so sentinels work with errors.Is
// after WithDetail or Wrap produced a copy.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	c := e.clone()
	c.Err = cause
	return c
}

// WithDetail returns a copy of e with key set in Detail.
func (e *Error) WithDetail(key string, value any) *Error {
	c := e.clone()
	c.Detail[key] = value
	return c
}

func (e *Error) clone() *Error {
	c := *e
	c.Detail = make(map[string]any, len(e.Detail)+1)
	for k, v := range e.Detail {
		c.Detail[k] = v
	}
	return &c
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrInvalidCredentials        = newError(CodeInvalidCredentials, "invalid credentials")
	ErrUserNotFound              = newError(CodeUserNotFound, "user not found")
	ErrAuthenticationFailed      = newError(CodeAuthenticationFailed, "authentication failed")
	ErrInvalidToken              = newError(CodeInvalidToken, "invalid token")
	ErrSessionNotFound           = newError(CodeSessionNotFound, "session not found")
	ErrSessionLimitExceeded      = newError(CodeSessionLimitExceeded, "session limit exceeded")
	ErrSessionCreationFailed     = newError(CodeSessionCreationFailed, "session creation failed")
	ErrSessionsTerminationFailed = newError(CodeSessionsTerminationFailed, "sessions termination failed")
	ErrTokenCreationFailed       = newError(CodeTokenCreationFailed, "token creation failed")
	ErrTokenVerificationFailed   = newError(CodeTokenVerificationFailed, "token verification failed")
	ErrTokenRefreshFailed        = newError(CodeTokenRefreshFailed, "token refresh failed")
	ErrTooManyRequests           = newError(CodeTooManyRequests, "too many requests")
	ErrMissingConfirmationCode   = newError(CodeMissingConfirmationCode, "missing confirmation code")
	ErrInvalidConfirmationCode   = newError(CodeInvalidConfirmationCode, "invalid confirmation code")
	ErrExpiredConfirmationCode   = newError(CodeExpiredConfirmationCode, "expired confirmation code")
	ErrUnknown                   = newError(CodeUnknown, "unknown error")
)

// CodeOf extracts the code from err, UNKNOWN_ERROR for untyped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// AsError returns err as *Error, or fallback wrapping err when it is untyped.
func AsError(err error, fallback *Error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return fallback.Wrap(err)
}
