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

// VerificationClient talks to the external verification service that
// generates, delivers and checks change codes. Code delivery (push/email) is
// entirely the service's concern.
type VerificationClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewVerificationClient creates a verification service client.
func NewVerificationClient(baseURL string) *VerificationClient {
	return &VerificationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type codeRequest struct {
	NewValue   string `json:"newValue"`
	Credential string `json:"credential,omitempty"`
	Code       string `json:"code,omitempty"`
	Purpose    string `json:"purpose"`
}

type codeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RequestChangeCode asks the service to send a code for the pending change.
// A service-level refusal (bad credential, rate limit) comes back as
// domain.ErrChallengeRejected carrying the service's message.
func (c *VerificationClient) RequestChangeCode(ctx context.Context, newValue, credential, purpose string) error {
	return c.post(ctx, "/api/v1/verification/request", codeRequest{
		NewValue:   newValue,
		Credential: credential,
		Purpose:    purpose,
	})
}

// ConfirmChangeCode validates the code against the pending change.
func (c *VerificationClient) ConfirmChangeCode(ctx context.Context, newValue, code, purpose string) error {
	return c.post(ctx, "/api/v1/verification/confirm", codeRequest{
		NewValue: newValue,
		Code:     code,
		Purpose:  purpose,
	})
}

func (c *VerificationClient) post(ctx context.Context, path string, payload codeRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verification service: %w: %w", domain.ErrTransientService, err)
	}
	defer resp.Body.Close()

	var out codeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// 5xx with no parseable body is a transient failure, not a rejection.
		if resp.StatusCode >= 500 {
			return fmt.Errorf("verification service: %w: %w", domain.ErrTransientService, statusError("verification", resp.StatusCode))
		}
		return fmt.Errorf("decode verification response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("verification service: %w: %s", domain.ErrTransientService, out.Message)
	}
	if !out.Success {
		if out.Message == "" {
			out.Message = "verification refused"
		}
		return fmt.Errorf("%w: %s", domain.ErrChallengeRejected, out.Message)
	}
	return nil
}
