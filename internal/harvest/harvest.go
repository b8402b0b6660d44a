// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest collects paginated records from external sources under
// adversarial conditions: rate limits, transient failures, inconsistent
// pagination, and a bounded total result size.
// Implements: prd010-harvester (R1-R7);
//
//	docs/ARCHITECTURE § Harvester.
//
// The engine is parameterized by two collaborator interfaces supplied per
// source integration: a Fetcher that retrieves one page of raw content and
// classifies its failures, and an Extractor that turns raw content into
// typed records plus an optional continuation token. The Scheduler drives
// fetch/extract cycles across a worker pool, owns retry and cancellation,
// and merges records into a deduplicating accumulator until the requested
// total is reached or every job terminates.
package harvest

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/harvest-engine/pkg/types"
)

// OutcomeKind classifies the result of one fetch attempt (R7.1).
type OutcomeKind int

const (
	// OutcomeSuccess: the page was retrieved.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRateLimited: the source asked us to slow down (HTTP 429, or
	// 503 from sources that use it for throttling). Always retried with
	// backoff; never counts toward the transient retry budget.
	OutcomeRateLimited

	// OutcomeTransient: the attempt may succeed if repeated (network
	// failure, HTTP 5xx). Retried up to the configured budget.
	OutcomeTransient

	// OutcomeFatal: retrying cannot help (other 4xx, malformed response
	// schema). The job is abandoned immediately.
	OutcomeFatal
)

// String returns the metric label for the outcome.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient_error"
	case OutcomeFatal:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// FetchError is the classified error a Fetcher returns on failure. The
// scheduler inspects Kind to select the retry policy.
type FetchError struct {
	Kind OutcomeKind
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error { return e.Err }

// RateLimited wraps err as a rate-limit outcome.
func RateLimited(err error) error {
	return &FetchError{Kind: OutcomeRateLimited, Err: err}
}

// Transient wraps err as a transient outcome.
func Transient(err error) error {
	return &FetchError{Kind: OutcomeTransient, Err: err}
}

// Fatal wraps err as a fatal outcome.
func Fatal(err error) error {
	return &FetchError{Kind: OutcomeFatal, Err: err}
}

// Classify returns the outcome kind for a fetch error. A nil error is
// success; unclassified errors are treated as transient so a Fetcher that
// returns a bare transport error still gets the retry policy.
func Classify(err error) OutcomeKind {
	if err == nil {
		return OutcomeSuccess
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return OutcomeTransient
}

// Fetcher retrieves one page of raw content for a source. Implementations
// may be backed by plain HTTP, a headless browser, or a third-party search
// API; the engine does not care. Failures must be classified via
// RateLimited, Transient, or Fatal so the retry policy applies correctly.
type Fetcher interface {
	// Name identifies the upstream host for rate limiting and metrics.
	Name() string

	// Fetch retrieves the page described by desc.
	Fetch(ctx context.Context, desc PageDescriptor) ([]byte, error)
}

// ExtractResult holds the typed records parsed from one page and, for
// token-mode sources, the continuation token for the next page ("" when the
// source reports no further pages).
type ExtractResult struct {
	Records   []types.Record
	NextToken string
}

// Extractor parses raw page content into records. Extraction is pure: it
// performs no I/O. An extraction error is fatal for the page — retrying a
// parse failure on identical bytes cannot succeed.
type Extractor interface {
	Extract(content []byte) (ExtractResult, error)
}
