package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// TokenVerifier resolves a bearer token to a conversation identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// IdentityClient verifies bearer tokens against the remote identity service.
type IdentityClient struct {
	http *resty.Client
}

// IdentityOpts holds configuration for the identity service client.
type IdentityOpts struct {
	BaseURL string
	Timeout time.Duration
}

// IdentityOption configures an IdentityClient.
type IdentityOption func(*IdentityOpts)

// WithIdentityTimeout overrides the default verification timeout.
func WithIdentityTimeout(d time.Duration) IdentityOption {
	return func(o *IdentityOpts) {
		o.Timeout = d
	}
}

// NewIdentityClient creates a client for the identity service at baseURL.
func NewIdentityClient(baseURL string, opts ...IdentityOption) *IdentityClient {
	cfg := IdentityOpts{BaseURL: baseURL, Timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	slog.Debug("IdentityClient created", "base_url", cfg.BaseURL)
	return &IdentityClient{http: client}
}

type verifyResponse struct {
	UserID string `json:"userid"`
}

// Verify asks the identity service who the token belongs to. A non-200 answer
// or an empty userid means the token is not accepted.
func (c *IdentityClient) Verify(ctx context.Context, token string) (string, error) {
	var out verifyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		Get("/auth/verify")
	if err != nil {
		return "", fmt.Errorf("failed to reach identity service: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("identity service rejected token: status %d", resp.StatusCode())
	}
	if out.UserID == "" {
		return "", fmt.Errorf("identity service returned no userid")
	}
	return out.UserID, nil
}
