package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"crisisguard/internal/domain"
)

// ErrorBody is what the server sends on a failed allowlist request.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("allowlist api: %d %s: %s", e.Status, e.Code, e.Message)
}

// RateLimited reports whether the server asked us to back off.
func (e *APIError) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// Client talks to the public allowlist API. The same client serves device
// refreshes, the server's own propagation check and fuzzy-match log delivery.
type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "crisisguard/1")
	return &Client{http: c}
}

// Fetch downloads and validates the allowlist document. Anything that fails
// validation is an error; partial documents are never returned.
func (c *Client) Fetch(ctx context.Context) (domain.AllowlistDocument, error) {
	var (
		doc     domain.AllowlistDocument
		errBody ErrorBody
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&doc).
		SetError(&errBody).
		Get("/v1/allowlist")
	if err != nil {
		return domain.AllowlistDocument{}, fmt.Errorf("fetch allowlist: %w", err)
	}
	if resp.IsError() {
		return domain.AllowlistDocument{}, apiError(resp.StatusCode(), errBody)
	}
	if err := domain.ValidateAllowlist(doc.Allowlist); err != nil {
		return domain.AllowlistDocument{}, err
	}
	if err := domain.ValidateOverrides(doc.Overrides); err != nil {
		return domain.AllowlistDocument{}, err
	}
	return doc, nil
}

// Send delivers one anonymous fuzzy-match event.
func (c *Client) Send(ctx context.Context, req domain.MatchLogRequest) error {
	var errBody ErrorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetError(&errBody).
		Post("/v1/fuzzy-match-log")
	if err != nil {
		return fmt.Errorf("send match log: %w", err)
	}
	if resp.IsError() {
		return apiError(resp.StatusCode(), errBody)
	}
	return nil
}

func apiError(status int, body ErrorBody) *APIError {
	e := &APIError{Status: status, Code: body.Error, Message: body.Message}
	if body.RetryAfter != nil {
		e.RetryAfter = time.Duration(*body.RetryAfter) * time.Second
	}
	if e.Code == "" {
		e.Code = http.StatusText(status)
	}
	return e
}

// Backoff is how long the server asked us to wait before retrying.
func (e *APIError) Backoff() time.Duration { return e.RetryAfter }
