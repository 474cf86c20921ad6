package rfc9110

import (
	"net/http"
	"time"

	"github.com/always-cache/record-resolver/pkg/etag"
)

// Validators are the validator fields of the selected representation.
// Zero values mean the validator is not available.
type Validators struct {
	ETag         etag.ETag
	LastModified time.Time
}

// Outcome is the result of evaluating the preconditions of a request.
type Outcome int

const (
	// Proceed means the method should be performed.
	Proceed Outcome = iota
	// NotModified means a 304 response should be sent instead.
	NotModified
	// PreconditionFailed means a 412 response should be sent instead.
	PreconditionFailed
)

// StatusCode returns the status code to respond with, or 0 for Proceed.
func (o Outcome) StatusCode() int {
	switch o {
	case NotModified:
		return http.StatusNotModified
	case PreconditionFailed:
		return http.StatusPreconditionFailed
	}
	return 0
}

func (o Outcome) String() string {
	switch o {
	case NotModified:
		return "not-modified"
	case PreconditionFailed:
		return "precondition-failed"
	}
	return "proceed"
}

// EvaluatePreconditions evaluates the conditional header fields of the request
// against the validators of the selected representation, in the order
// mandated by section 13.2.2.
//
// The caller must only evaluate preconditions when the target resource has a
// current representation, i.e. after the record was found.
func EvaluatePreconditions(r *http.Request, v Validators) Outcome {
	return evaluate(r, v)
}

// SetValidatorHeaders sets the ETag and Last-Modified fields for the available validators.
func SetValidatorHeaders(header http.Header, v Validators) {
	if !v.ETag.IsZero() {
		header.Set("ETag", v.ETag.String())
	}
	if !v.LastModified.IsZero() {
		header.Set("Last-Modified", FormatHttpDate(v.LastModified))
	}
}
