package common

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies failures so retry and reporting policy can be decided
// without inspecting vendor-specific errors.
type Kind string

const (
	KindUnknown            Kind = ""
	KindTransientIO        Kind = "transient_io"
	KindPermanentFetch     Kind = "permanent_fetch"
	KindAccessBlocked      Kind = "access_blocked"
	KindProviderRejection  Kind = "provider_rejection"
	KindRateLimited        Kind = "rate_limited"
	KindGuardrailViolation Kind = "guardrail_violation"
	KindConfiguration      Kind = "configuration"
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error

	// RetryAfter is a server-provided hint, zero when absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func TransientIO(op string, err error) error    { return E(KindTransientIO, op, err) }
func PermanentFetch(op string, err error) error { return E(KindPermanentFetch, op, err) }
func AccessBlocked(op string, err error) error  { return E(KindAccessBlocked, op, err) }
func Configuration(op string, err error) error  { return E(KindConfiguration, op, err) }
func InvalidInput(op string, err error) error   { return E(KindInvalidInput, op, err) }
func NotFound(op string, err error) error       { return E(KindNotFound, op, err) }

func ProviderRejection(op string, err error) error {
	return E(KindProviderRejection, op, err)
}

func GuardrailViolation(op string, err error) error {
	return E(KindGuardrailViolation, op, err)
}

func RateLimited(op string, err error, retryAfter time.Duration) error {
	return &Error{Kind: KindRateLimited, Op: op, Err: err, RetryAfter: retryAfter}
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...any) error {
	return Configuration("config", fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is TransientIO or RateLimited.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientIO, KindRateLimited:
		return true
	}
	return false
}

func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindNotFound:
		return true
	}
	return false
}
