// Package icloud implements the authenticated transport and login state
// machine for the iCloud web API: SRP-6a password proof, MFA challenges,
// trust-token reuse, session header capture, and JSON error normalization.
package icloud

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for API failure classification.
// Use errors.Is(err, icloud.ErrServiceNotActivated) to check.
var (
	// ErrServiceNotActivated means the account exists but the requested
	// service (e.g. the photo library) has not finished setting up server
	// side. Terminal for the current run.
	ErrServiceNotActivated = errors.New("icloud: service not activated")

	// ErrThrottled is raised for ACCESS_DENIED responses.
	ErrThrottled = errors.New("icloud: throttled by remote servers")

	// ErrReauthNeeded covers HTTP 421/450/500 responses which mean the
	// session must authenticate again before the call can succeed.
	ErrReauthNeeded = errors.New("icloud: authentication required for account")

	// ErrFailedLogin means the credentials were rejected. Terminal.
	ErrFailedLogin = errors.New("icloud: invalid email/password combination")

	// ErrDomainMismatch means the server insists on the other endpoint
	// group (com vs cn). Terminal; the user must switch --domain.
	ErrDomainMismatch = errors.New("icloud: wrong domain for this account")

	// ErrMFARequired means the trust token expired and an interactive
	// code is needed.
	ErrMFARequired = errors.New("icloud: two-factor authentication required")

	// ErrMFAWrongCode means the submitted security code was rejected.
	// The caller may prompt again.
	ErrMFAWrongCode = errors.New("icloud: wrong verification code")
)

// wrongCodeResponseCode is the server error code for a rejected security code.
const wrongCodeResponseCode = "-21669"

// APIError is a structured error decoded from a JSON error envelope or a
// non-2xx HTTP response.
type APIError struct {
	Code   string
	Reason string
	Err    error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("icloud: %s (%s)", e.Reason, e.Code)
	}

	return "icloud: " + e.Reason
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ConnectionError wraps DNS, TCP, TLS and timeout failures into a single
// retriable kind. The sync driver retries these with linear backoff.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "icloud: connection error: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a retriable transport failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsSessionExpired reports whether err is the server telling us the global
// session died. The transport triggers a re-authentication when it sees
// this, and callers retry the request afterwards.
func IsSessionExpired(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Invalid global session")
}

// IsInternalError reports whether err is a vendor-side INTERNAL_ERROR,
// retried with backoff by the sync driver.
func IsInternalError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "INTERNAL_ERROR")
}

// classifyError builds an APIError from a normalized code/reason pair,
// re-classifying the handful of codes with dedicated semantics.
func classifyError(code, reason string) *APIError {
	switch code {
	case "ZONE_NOT_FOUND", "AUTHENTICATION_FAILED":
		return &APIError{
			Code:   code,
			Reason: "please log into https://icloud.com/ to manually finish setting up your iCloud service",
			Err:    ErrServiceNotActivated,
		}
	case "ACCESS_DENIED":
		return &APIError{
			Code:   code,
			Reason: reason + ". Please wait a few minutes then try again. The remote servers might be trying to throttle requests.",
			Err:    ErrThrottled,
		}
	case "421", "450", "500":
		return &APIError{Code: code, Reason: "authentication required for account", Err: ErrReauthNeeded}
	default:
		return &APIError{Code: code, Reason: reason}
	}
}
