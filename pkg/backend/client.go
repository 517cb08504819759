package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/tierflow/pkg/allowance"
	"github.com/platinummonkey/tierflow/pkg/billing"
	"github.com/platinummonkey/tierflow/pkg/httputil"
	"github.com/platinummonkey/tierflow/pkg/observability"
	"github.com/platinummonkey/tierflow/pkg/payment"
	"github.com/platinummonkey/tierflow/pkg/pricing"
)

var (
	_ billing.MutationAPI        = (*Client)(nil)
	_ billing.SubscriptionReader = (*Client)(nil)
	_ payment.Issuer             = (*Client)(nil)
	_ pricing.PreviewService     = (*Client)(nil)
	_ allowance.Passengers       = (*Client)(nil)
)

// IdempotencyKeyHeader is sent with every charge issue request
const IdempotencyKeyHeader = "Idempotency-Key"

// Config configures the backend client
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client calls the remote billing platform
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *observability.Logger
}

// NewClient creates a new Client
func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// do sends one request. body is encoded as JSON when non-nil and the
// response is decoded into out when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any, header http.Header) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		req.Header.Set(httputil.RequestIDHeader, requestID)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &billing.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.WithFields(map[string]any{
		"op":          op,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := httputil.DecodeError(resp)
		return &billing.RemoteError{Op: op, Status: resp.StatusCode, Message: msg.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &billing.RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// isStatus reports whether err is a RemoteError with the given status
func isStatus(err error, status int) bool {
	var re *billing.RemoteError
	return errors.As(err, &re) && re.Status == status
}

func customerPath(customerID string, parts ...string) string {
	return "/customers/" + url.PathEscape(customerID) + strings.Join(parts, "")
}
