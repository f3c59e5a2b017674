package auth

import (
	"errors"
	"fmt"
)

// Kind classifies a login or token-lifecycle failure so callers can tell
// "wrong password" apart from "provider unreachable" and "provider changed
// its login page".
type Kind string

const (
	// KindParseFailure means the provider's login page no longer has the
	// expected shape (no matching form action).
	KindParseFailure Kind = "parse_failure"
	// KindSessionParamsMissing means the form action was found but one of the
	// session-binding query parameters was empty.
	KindSessionParamsMissing Kind = "session_params_missing"
	// KindAuthenticationFailed means the provider rejected the credentials or
	// did not redirect with an authorization code.
	KindAuthenticationFailed Kind = "authentication_failed"
	// KindNetworkFailure means the provider could not be reached at all.
	KindNetworkFailure Kind = "network_failure"
	// KindTokenExchangeFailed means the token endpoint returned a non-2xx
	// response.
	KindTokenExchangeFailed Kind = "token_exchange_failed"
	// KindNoRefreshToken means a refresh was needed but no refresh token is
	// available. Recovery requires re-enrollment.
	KindNoRefreshToken Kind = "no_refresh_token"
	// KindTokenRefreshFailed means the refresh-grant exchange failed; the
	// previously held token set is left untouched.
	KindTokenRefreshFailed Kind = "token_refresh_failed"
)

// FlowError is the error type surfaced by the login flow and the token
// lifecycle manager. Status and Body are populated for HTTP-level failures
// so enrollment errors carry enough detail for diagnostics.
type FlowError struct {
	Kind   Kind
	Msg    string
	Status int
	Body   string
	Err    error
}

func (e *FlowError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", msg, e.Err)
	}
	return "auth: " + msg
}

func (e *FlowError) Unwrap() error { return e.Err }

// flowErr builds a FlowError with a formatted message.
func flowErr(kind Kind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapErr builds a FlowError wrapping an underlying cause.
func wrapErr(kind Kind, err error, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is (or wraps) a FlowError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the failure kind of err, or the empty Kind when err is not a
// FlowError.
func KindOf(err error) Kind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
