package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/go-github/v57/github"
)

// Kind tags every client failure so callers can branch on the outcome
// instead of inspecting status codes.
type Kind string

const (
	// KindNotFound means the resource does not exist (404 or 410).
	KindNotFound Kind = "not_found"
	// KindRateLimited means the quota is exhausted; the reset time is carried.
	KindRateLimited Kind = "rate_limited"
	// KindTransient covers 5xx responses, timeouts, and connection resets.
	KindTransient Kind = "transient"
	// KindPermanent covers auth failures, validation errors, and malformed responses.
	KindPermanent Kind = "permanent"
	// KindCancelled means the caller's context was cancelled.
	KindCancelled Kind = "cancelled"
)

// ClientError is the single error type returned by Client operations.
type ClientError struct {
	Kind       Kind
	Op         string
	Resource   string
	StatusCode int
	ResetAt    time.Time
	Err        error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("github %s %s: %s: %v", e.Op, e.Resource, e.Kind, e.Err)
	}
	return fmt.Sprintf("github %s %s: %s", e.Op, e.Resource, e.Kind)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind; plain errors report KindTransient
// so unknown failures stay retryable.
func KindOf(err error) Kind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindTransient
}

// IsNotFound reports whether err is a missing-resource failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsCancelled reports whether err came from context cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsRateLimited reports whether err is a quota exhaustion failure.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// classify maps a go-github failure onto the tagged error contract.
func classify(op, resource string, err error) *ClientError {
	ce := &ClientError{Op: op, Resource: resource, Err: err}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ce.Kind = KindCancelled
		return ce
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		ce.Kind = KindRateLimited
		ce.StatusCode = 403
		ce.ResetAt = rateErr.Rate.Reset.Time
		return ce
	}

	// Secondary (abuse) limits carry a Retry-After instead of a window
	// reset. Treat them as rate exhaustion with a short synthetic reset.
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		ce.Kind = KindRateLimited
		ce.StatusCode = 403
		retryAfter := time.Minute
		if abuseErr.RetryAfter != nil {
			retryAfter = *abuseErr.RetryAfter
		}
		ce.ResetAt = time.Now().Add(retryAfter)
		return ce
	}

	// 202 while GitHub computes contributor stats. Retryable.
	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		ce.Kind = KindTransient
		ce.StatusCode = 202
		return ce
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		ce.StatusCode = respErr.Response.StatusCode
		switch {
		case ce.StatusCode == 404 || ce.StatusCode == 410:
			ce.Kind = KindNotFound
		case ce.StatusCode >= 500:
			ce.Kind = KindTransient
		default:
			ce.Kind = KindPermanent
		}
		return ce
	}

	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		ce.Kind = KindPermanent
		return ce
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		ce.Kind = KindTransient
		return ce
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		ce.Kind = KindTransient
		return ce
	}

	ce.Kind = KindTransient
	return ce
}
