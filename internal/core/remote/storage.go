package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/duynhne/profile-sync/internal/core/domain"
)

// StorageClient uploads and deletes profile image assets through the storage
// service. Upload hands the service a reference to the client-local file; the
// service returns the storage path plus a raw URL that may lag behind CDN
// propagation.
type StorageClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStorageClient creates an asset storage client.
func NewStorageClient(baseURL string) *StorageClient {
	return &StorageClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // uploads are slow on mobile links
		},
	}
}

type uploadRequest struct {
	UserID   string `json:"userId"`
	LocalURI string `json:"localUri"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	URL     string `json:"url"`
	Error   string `json:"error,omitempty"`
}

// UploadAsset stores the picked image and returns its storage path and raw URL.
func (c *StorageClient) UploadAsset(ctx context.Context, userID, localURI string) (*domain.UploadResult, error) {
	body, err := json.Marshal(uploadRequest{UserID: userID, LocalURI: localURI})
	if err != nil {
		return nil, fmt.Errorf("encode upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/assets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload asset: %w: %w", domain.ErrTransientService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("upload asset: %w: %w", domain.ErrTransientService, statusError("upload", resp.StatusCode))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("upload asset: %w: %s", domain.ErrTransientService, out.Error)
	}
	return &domain.UploadResult{Path: out.Path, URL: out.URL}, nil
}

// DeleteAsset removes a stored asset.
func (c *StorageClient) DeleteAsset(ctx context.Context, userID, path string) error {
	body, err := json.Marshal(uploadRequest{UserID: userID, LocalURI: path})
	if err != nil {
		return fmt.Errorf("encode delete request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/assets", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete asset: %w: %w", domain.ErrTransientService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete asset: %w: %w", domain.ErrTransientService, statusError("delete", resp.StatusCode))
	}
	return nil
}
