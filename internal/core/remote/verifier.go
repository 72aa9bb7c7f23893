package remote

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// VerifierClient prefetches a candidate URL to confirm it is actually
// fetchable before the engine commits it to visible state.
type VerifierClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewVerifierClient creates a prefetch verifier. The client itself carries no
// timeout; every call is bounded by the per-call race below.
func NewVerifierClient(logger *zap.Logger) *VerifierClient {
	return &VerifierClient{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Verify fetches the URL and reports whether it settled successfully before
// the timeout. First settled wins: an unresponsive CDN costs at most the
// timeout, and the timeout itself is "not verified", never an error.
func (c *VerifierClient) Verify(ctx context.Context, url string, timeout time.Duration) bool {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		done <- c.fetch(fetchCtx, url)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ok := <-done:
		return ok
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *VerifierClient) fetch(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Prefetch failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused; the bytes themselves warm the
	// CDN edge cache for the real render.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
