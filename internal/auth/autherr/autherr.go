// Package autherr defines the failure kinds a login flow can end with.
//
// Boundary code wraps one of the sentinels with context using
// fmt.Errorf("%w: ...") so callers can branch with errors.Is while the
// message stays specific.
package autherr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means the provider client credentials are not set
	ErrConfiguration = errors.New("oauth provider not configured")
	// ErrListenerBind means the fixed loopback callback port could not be bound
	ErrListenerBind = errors.New("callback listener unavailable")
	// ErrUpstreamToken means the provider token endpoint failed or returned no access token
	ErrUpstreamToken = errors.New("failed to exchange code")
	// ErrUpstreamProfile means the provider profile endpoint failed
	ErrUpstreamProfile = errors.New("failed to get user info")
	// ErrInvalidProfile means the provider profile lacks an id or an email
	ErrInvalidProfile = errors.New("invalid user info from provider")
	// ErrUserCancelled means the provider redirected back with an error
	ErrUserCancelled = errors.New("login cancelled or failed")
	// ErrTimedOut means no redirect arrived before the flow deadline
	ErrTimedOut = errors.New("login timed out")
	// ErrExchangeFailed means the server could not complete the login
	ErrExchangeFailed = errors.New("failed to complete login")
	// ErrStateMismatch means the redirect state does not match the issued one
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrAborted means the caller cancelled the flow
	ErrAborted = errors.New("login aborted")
	// ErrInvalidRequest means a request was malformed
	ErrInvalidRequest = errors.New("invalid request")
)

var kinds = []error{
	ErrConfiguration,
	ErrListenerBind,
	ErrUpstreamToken,
	ErrUpstreamProfile,
	ErrInvalidProfile,
	ErrUserCancelled,
	ErrTimedOut,
	ErrExchangeFailed,
	ErrStateMismatch,
	ErrAborted,
	ErrInvalidRequest,
}

// Wrap attaches a formatted detail to kind
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel err was built from, or nil if none matches
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns err's text for display, falling back to a generic reason
// for errors outside the taxonomy so transport details never reach the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if Kind(err) == nil {
		return "login failed"
	}
	return err.Error()
}
