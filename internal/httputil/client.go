// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across source integrations.
package httputil

import (
	"fmt"
	"io"
	"net/http"

	"github.com/pdiddy/harvest-engine/internal/harvest"
)

// maxPageBody bounds how much of a response body a fetcher will read.
// 16 MiB is far past any sane metadata page.
const maxPageBody = 16 << 20

// Do executes req and returns the response body with failures classified
// for the harvest scheduler's retry policy: transport errors and 5xx are
// transient, 429 (and 503, which arXiv and others use for throttling) is
// rate-limited, and any other non-2xx status is fatal.
func Do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, harvest.Transient(fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err))
	}
	defer resp.Body.Close()

	if kind := classifyStatus(resp.StatusCode); kind != harvest.OutcomeSuccess {
		io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("%s returned HTTP %d", req.URL.Host, resp.StatusCode)
		switch kind {
		case harvest.OutcomeRateLimited:
			return nil, harvest.RateLimited(err)
		case harvest.OutcomeTransient:
			return nil, harvest.Transient(err)
		default:
			return nil, harvest.Fatal(err)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return nil, harvest.Transient(fmt.Errorf("reading %s response: %w", req.URL.Host, err))
	}
	return body, nil
}

func classifyStatus(code int) harvest.OutcomeKind {
	switch {
	case code >= 200 && code < 300:
		return harvest.OutcomeSuccess
	case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
		return harvest.OutcomeRateLimited
	case code >= 500:
		return harvest.OutcomeTransient
	default:
		return harvest.OutcomeFatal
	}
}
