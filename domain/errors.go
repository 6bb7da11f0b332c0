package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed set of failure categories every component
// surfaces. Components never invent a new kind; they wrap one of these.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindConstraintViolation ErrorKind = "constraint_violation"
	KindConflictingVersion  ErrorKind = "conflicting_version"
	KindValidationFailure   ErrorKind = "validation_failure"
	KindSchemaFailure       ErrorKind = "schema_failure"
	KindNetworkUnavailable  ErrorKind = "network_unavailable"
	KindRemoteUnavailable   ErrorKind = "remote_unavailable"
	KindRemoteRejected      ErrorKind = "remote_rejected"
	KindRateLimited         ErrorKind = "rate_limited"
	KindCancelled           ErrorKind = "cancelled"
	KindIntegrityCorrupted  ErrorKind = "integrity_corrupted"
)

// CoreError is the single error type every package returns for a
// classified failure. Unclassified failures (bugs, I/O surprises) should
// still be wrapped with fmt.Errorf and %w rather than returned bare.
type CoreError struct {
	Kind    ErrorKind
	Which   string // which constraint/entity/layer, for ConstraintViolation/SchemaFailure
	Version int64  // for ConflictingVersion
	Attempts int   // for SchemaFailure
	RetryAfter time.Duration // for RateLimited
	Reason  string // for RemoteRejected
	Err     error
}

func (e *CoreError) Error() string {
	base := string(e.Kind)
	if e.Which != "" {
		base = fmt.Sprintf("%s(%s)", base, e.Which)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, NotFound(...)) match on Kind alone, ignoring the
// wrapped cause, the way sentinel errors normally compare.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func NotFound(which string) *CoreError {
	return &CoreError{Kind: KindNotFound, Which: which}
}

func ConstraintViolation(which string, err error) *CoreError {
	return &CoreError{Kind: KindConstraintViolation, Which: which, Err: err}
}

func ConflictingVersion(version int64) *CoreError {
	return &CoreError{Kind: KindConflictingVersion, Version: version}
}

func ValidationFailure(which string, err error) *CoreError {
	return &CoreError{Kind: KindValidationFailure, Which: which, Err: err}
}

func SchemaFailure(layer string, attempts int) *CoreError {
	return &CoreError{Kind: KindSchemaFailure, Which: layer, Attempts: attempts}
}

func NetworkUnavailable(err error) *CoreError {
	return &CoreError{Kind: KindNetworkUnavailable, Err: err}
}

func RemoteUnavailable(err error) *CoreError {
	return &CoreError{Kind: KindRemoteUnavailable, Err: err}
}

func RemoteRejected(reason string) *CoreError {
	return &CoreError{Kind: KindRemoteRejected, Reason: reason}
}

func RateLimited(retryAfter time.Duration) *CoreError {
	return &CoreError{Kind: KindRateLimited, RetryAfter: retryAfter}
}

func Cancelled(err error) *CoreError {
	return &CoreError{Kind: KindCancelled, Err: err}
}

func IntegrityCorrupted(which string, err error) *CoreError {
	return &CoreError{Kind: KindIntegrityCorrupted, Which: which, Err: err}
}

// ErrMinimumProblemsViolation is returned by ValidateProblemDeletion when a
// deletion would drop the portfolio below its minimum size.
var ErrMinimumProblemsViolation = ConstraintViolation("minimum_problems", errors.New("portfolio requires at least three problems"))
