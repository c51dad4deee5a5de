package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HealthChecker probes a writer-adjacent HTTP endpoint (e.g. a PgBouncer
// or Postgres exporter's /health) before the supervisor declares the
// writer ready to accept batches — grounded on the teacher's resty.Client
// construction in internal/exchange/client.go, repurposed from CLOB REST
// calls to a single readiness GET.
type HealthChecker struct {
	http *resty.Client
}

// NewHealthChecker builds a checker against a base URL, with the same
// bounded-retry discipline the teacher applies to its CLOB client.
func NewHealthChecker(baseURL string) *HealthChecker {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &HealthChecker{http: client}
}

// Wait issues one GET against path, which the client retries up to 3
// times on a transport error or a 5xx. It returns an ErrTransient-wrapped
// error if the last attempt still fails or answers with a 4xx/5xx.
func (h *HealthChecker) Wait(ctx context.Context, path string) error {
	resp, err := h.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return fmt.Errorf("%w: health probe: %v", ErrTransient, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: health probe returned %d", ErrTransient, resp.StatusCode())
	}
	return nil
}
