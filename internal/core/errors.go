package core

import (
	"errors"
	"fmt"
)

// ErrEmptyDataset signals a recognised early exit: no windows run today, or the
// post-patch phase found no pre-patch rows. It is not a failure.
var ErrEmptyDataset = errors.New("nothing to report")

// AuthorizationError is returned when a role assumption is rejected. It aborts
// the phase that needed the session.
type AuthorizationError struct {
	Account AccountContext
	Code    string // AWS error code when known
	Err     error
}

func (e *AuthorizationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("assume role %s (%s): %v", e.Account.RoleARN(), e.Code, e.Err)
	}
	return fmt.Sprintf("assume role %s: %v", e.Account.RoleARN(), e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// LookupFailure wraps a failed API call made while resolving one window.
type LookupFailure struct {
	Op       string
	WindowID string
	Err      error
}

func (e *LookupFailure) Error() string {
	return fmt.Sprintf("%s for window %s: %v", e.Op, e.WindowID, e.Err)
}

func (e *LookupFailure) Unwrap() error { return e.Err }

// MalformedInput marks data whose shape is wrong: a bad window id, unparsable
// embedded JSON, or an invalid report row. Callers treat it as exclusion.
type MalformedInput struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedInput) Error() string {
	return fmt.Sprintf("malformed %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsAuthorizationError reports whether err wraps an *AuthorizationError.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsLookupFailure reports whether err wraps a *LookupFailure.
func IsLookupFailure(err error) bool {
	var lf *LookupFailure
	return errors.As(err, &lf)
}

// IsMalformedInput reports whether err wraps a *MalformedInput.
func IsMalformedInput(err error) bool {
	var mi *MalformedInput
	return errors.As(err, &mi)
}

// IsEmptyDataset reports whether err is, or wraps, ErrEmptyDataset.
func IsEmptyDataset(err error) bool {
	return errors.Is(err, ErrEmptyDataset)
}

// CountResult is the outcome of resolving a window's target count.
type CountResult struct {
	Count int
	Err   error // non-nil when resolution failed; Count is then 0
}

// Resolved reports whether the count was computed without failure.
func (r CountResult) Resolved() bool { return r.Err == nil }

// StatusResult is the outcome of resolving a window's patch status.
type StatusResult struct {
	Success int
	Failure int
	Err     error // non-nil when resolution failed; counts are then meaningless
}

// Resolved reports whether the status was computed without failure.
func (r StatusResult) Resolved() bool { return r.Err == nil }
