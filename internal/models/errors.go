package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the login and animation phases.
// The set is closed; service clients decode their own result codes into one
// of these exactly once, at their boundary.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindInvalidSecret
	KindRateLimited
	KindLoginThrottled
	KindInvalidChallengeCode
	KindTransport
	KindTerminalAuth
	KindFetch
	KindSubmit
	KindSessionExpired
)

var kindNames = map[ErrorKind]string{
	KindUnknown:              "unknown",
	KindConfiguration:        "configuration",
	KindInvalidSecret:        "invalid_secret",
	KindRateLimited:          "rate_limited",
	KindLoginThrottled:       "login_throttled",
	KindInvalidChallengeCode: "invalid_challenge_code",
	KindTransport:            "transport",
	KindTerminalAuth:         "terminal_auth",
	KindFetch:                "fetch",
	KindSubmit:               "submit",
	KindSessionExpired:       "session_expired",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the login loop should back off and try again.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindLoginThrottled, KindInvalidChallengeCode, KindTransport:
		return true
	default:
		return false
	}
}

// Error is the tagged error carried through the application.
type Error struct {
	Kind    ErrorKind
	Code    int    // service result code, 0 when not applicable
	Message string // human readable detail
	Err     error  // underlying cause
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error kind is retryable.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// NewError builds a tagged error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsForbidden reports a session expiry inferred from a bare 403. Unlike a
// bounce to the login page it can also mean the account may not edit its
// profile at all, so callers should not trust it on its own.
func IsForbidden(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindSessionExpired && e.Code == 403
}

// ErrSessionExpired is returned by the scheduler when the web session stops
// being accepted and the caller must sign in again.
var ErrSessionExpired = &Error{Kind: KindSessionExpired, Message: "web session is no longer accepted"}
