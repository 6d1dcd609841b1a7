package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// HTTPClient checks admission against a remote endpoint. The endpoint receives
// {"billing_scope": ..., "request": <descriptor>} and answers
// {"ok": true} or {"ok": false, "error": "..."}; a non-2xx status is a
// rejection carrying the response's error message (or body).
type HTTPClient struct {
	url    string
	token  string
	client *http.Client
	logger logging.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sets a bearer token.
func WithToken(token string) HTTPOption { return func(c *HTTPClient) { c.token = token } }

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption { return func(c *HTTPClient) { c.client = hc } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) HTTPOption {
	return func(c *HTTPClient) { c.logger = logging.OrNoOp(l) }
}

// NewHTTPClient creates an HTTPClient for url.
func NewHTTPClient(url string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type checkRequest struct {
	BillingScope string          `json:"billing_scope"`
	Request      core.Descriptor `json:"request"`
}

type checkResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// CheckCanExecute implements core.AdmissionService.
func (c *HTTPClient) CheckCanExecute(ctx context.Context, billingScope string, d core.Descriptor) error {
	body, err := json.Marshal(checkRequest{BillingScope: billingScope, Request: d})
	if err != nil {
		return fmt.Errorf("encode admission request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build admission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("admission service unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read admission response: %w", err)
	}

	var parsed checkResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := parsed.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		if msg == "" {
			msg = resp.Status
		}
		c.logger.Warn("admission.rejected", "billing_scope", billingScope, "tool", d.ToolID, "status", resp.StatusCode)
		return &Rejection{Message: msg, Status: resp.StatusCode}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode admission response: %w", decodeErr)
	}
	if !parsed.OK {
		c.logger.Warn("admission.rejected", "billing_scope", billingScope, "tool", d.ToolID, "status", resp.StatusCode)
		return &Rejection{Message: parsed.Error, Status: resp.StatusCode}
	}
	return nil
}
