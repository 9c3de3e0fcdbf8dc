// Package resilience wraps calls to the hosted backend with a timeout race,
// bounded exponential-backoff retry, a shared reconnect breaker and an
// online/offline gate, and classifies the errors those calls produce.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Backend error codes that are never retried.
const (
	CodeRowNotFound     = "PGRST116"
	CodeUniqueViolation = "23505"
)

var (
	// ErrCanceled marks a call whose result is no longer wanted.
	ErrCanceled = errors.New("request canceled")
	// ErrTimeout is returned when a call does not settle in time.
	ErrTimeout = errors.New("query timeout")
	// ErrOffline is returned without attempting the call when the backend is known unreachable.
	ErrOffline = errors.New("no internet connection")
	// ErrRetriesExhausted wraps the last error once every attempt has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrConnectivityLost is returned once the shared reconnect budget is spent.
	ErrConnectivityLost = errors.New("could not connect to the server, please reload the page")
)

// BackendError is the error body returned by the hosted backend.
type BackendError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Status  int    `json:"-"`
}

func (e *BackendError) Error() string {
	var b strings.Builder
	if e.Status != 0 {
		fmt.Fprintf(&b, "backend %d", e.Status)
	} else {
		b.WriteString("backend")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Kind is the retry class of an error.
type Kind int

const (
	KindNone Kind = iota
	KindCanceled
	KindTimeout
	KindTransient
	KindAuth
	KindIntegrity
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCanceled:
		return "canceled"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindIntegrity:
		return "integrity"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindTransient
}

// Classify maps err onto the retry taxonomy. Errors that are not recognised
// are treated as transient.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	// Terminal errors wrap the per-attempt error, so they are checked first.
	if errors.Is(err, ErrConnectivityLost) || errors.Is(err, ErrRetriesExhausted) || errors.Is(err, ErrOffline) {
		return KindTerminal
	}

	var be *BackendError
	if errors.As(err, &be) {
		switch {
		case be.Name == "AbortError":
			return KindCanceled
		case be.Code == CodeRowNotFound || be.Code == CodeUniqueViolation:
			return KindIntegrity
		case strings.Contains(be.Message, "JWT") || strings.Contains(be.Message, "auth"):
			return KindAuth
		case be.Status == 401 || be.Status == 403:
			return KindAuth
		}
	}

	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransient
}

// IsCanceled reports whether err only signals that the caller went away.
func IsCanceled(err error) bool {
	return Classify(err) == KindCanceled
}

// IsRetryable reports whether err may succeed on another attempt.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}
