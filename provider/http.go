package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/toolmesh/core"
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	Name     string
	Endpoint string
	Mode     core.ExecutionMode
	Headers  map[string]string
	Timeout  time.Duration
	// RateLimit bounds calls per second to the endpoint; zero disables it.
	RateLimit float64
	Burst     int
	// MaxResponseBytes bounds the response body (default DefaultMaxResponseBytes).
	MaxResponseBytes int64
}

// DefaultMaxResponseBytes is the response size limit applied when
// HTTPConfig.MaxResponseBytes is unset.
const DefaultMaxResponseBytes = 8 << 20

// HTTPProvider calls a tool server that accepts a JSON request body and
// answers with either a JSON object, a {"content": [...]} block list or text.
type HTTPProvider struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

type httpCall struct {
	RequestID string         `json:"request_id"`
	Tool      string         `json:"tool"`
	SessionID string         `json:"session_id,omitempty"`
	Args      map[string]any `json:"args"`
	Config    map[string]any `json:"config,omitempty"`
}

// NewHTTP constructs an HTTPProvider. A nil client uses http.DefaultClient;
// cfg.Timeout bounds every call whichever client is used.
func NewHTTP(cfg HTTPConfig, client *http.Client) (*HTTPProvider, error) {
	if cfg.Name == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("http provider requires name and endpoint")
	}
	if cfg.Mode == "" {
		cfg.Mode = core.ModeNone
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if client == nil {
		client = http.DefaultClient
	}
	p := &HTTPProvider{cfg: cfg, client: client}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p, nil
}

// Name implements core.Provider.
func (p *HTTPProvider) Name() string { return p.cfg.Name }

// Mode implements core.Provider.
func (p *HTTPProvider) Mode() core.ExecutionMode { return p.cfg.Mode }

// Call posts the request and decodes the response.
func (p *HTTPProvider) Call(ctx context.Context, req *core.Request) (any, error) {
	fail := func(code Code, err error) *CallError {
		return &CallError{ToolID: p.cfg.Name, RequestID: req.ID, Code: code, Err: err}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fail(CodeTransport, fmt.Errorf("rate limit: %w", err))
		}
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	body, err := json.Marshal(httpCall{
		RequestID: req.ID,
		Tool:      req.ToolID,
		SessionID: req.SessionID,
		Args:      req.Args,
		Config:    req.ProviderConfig,
	})
	if err != nil {
		return nil, fail(CodeValidation, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range p.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fail(CodeTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, fail(CodeTransport, fmt.Errorf("read response: %w", err))
	}
	if int64(len(data)) > p.cfg.MaxResponseBytes {
		return nil, fail(CodeTransport, fmt.Errorf("response exceeds %d bytes", p.cfg.MaxResponseBytes))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cerr := fail(CodeExecution, fmt.Errorf("unexpected status %s", resp.Status))
		cerr.Status = resp.StatusCode
		cerr.Body = excerpt(data)
		return nil, cerr
	}
	return decodeResponse(data), nil
}

func decodeResponse(data []byte) any {
	var shape struct {
		Content []core.ContentBlock `json:"content"`
	}
	if err := json.Unmarshal(data, &shape); err == nil && len(shape.Content) > 0 && shape.Content[0].Type != "" {
		return shape.Content
	}
	return data
}
