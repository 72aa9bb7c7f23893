// Package remote holds HTTP clients for the external collaborators of the
// sync engine: the asset signing service, the CDN prefetch check, the asset
// storage service, and the verification-code service.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ResolverClient asks the signing service for a currently-valid display URL
// for a stored asset path.
type ResolverClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewResolverClient creates a resolver client against the signing service.
func NewResolverClient(baseURL string, logger *zap.Logger) *ResolverClient {
	return &ResolverClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

type resolveResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// GetFreshAssetURL returns a signed URL for the path, or ok=false when no
// fresh URL is available right now. Failures never escape as errors; callers
// treat them as "try again later".
func (c *ResolverClient) GetFreshAssetURL(ctx context.Context, path string) (string, bool) {
	endpoint := c.baseURL + "/api/v1/assets/sign?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Asset resolve request failed", zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Asset resolve rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("path", path),
		)
		return "", false
	}

	var out resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Debug("Asset resolve decode failed", zap.Error(err))
		return "", false
	}
	if !out.Success || out.URL == "" {
		return "", false
	}
	return out.URL, true
}

// statusError formats a non-2xx response for wrapped errors elsewhere in
// this package.
func statusError(op string, code int) error {
	return fmt.Errorf("%s: unexpected status %d", op, code)
}
