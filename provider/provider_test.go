package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
)

var (
	_ core.Provider        = (*FunctionProvider)(nil)
	_ core.ControlProvider = (*Handoff)(nil)
	_ core.Provider        = (*HTTPProvider)(nil)
)

func sumParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
}

func TestFunctionProvider_Success(t *testing.T) {
	p := MustFunction("sum", "Add two numbers", sumParams(), func(_ context.Context, req *core.Request) (any, error) {
		return map[string]any{"sum": req.Args["a"].(float64) + req.Args["b"].(float64)}, nil
	}, WithMode(core.ModeRemoteProfile))

	out, err := p.Call(context.Background(), core.NewRequest("s", "sum", map[string]any{"a": 2.0, "b": 3.0}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": 5.0}, out)
	assert.Equal(t, core.ModeRemoteProfile, p.Mode())
	assert.Equal(t, "Add two numbers", p.Description())
}

func TestFunctionProvider_ValidationError(t *testing.T) {
	called := false
	p := MustFunction("sum", "", sumParams(), func(context.Context, *core.Request) (any, error) {
		called = true
		return nil, nil
	})

	_, err := p.Call(context.Background(), core.NewRequest("s", "sum", map[string]any{"a": "x"}))

	var perr *CallError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeValidation, perr.Code)
	assert.False(t, called)
}

func TestFunctionProvider_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	req := core.NewRequest("s", "f", nil)

	plain := MustFunction("f", "", nil, func(context.Context, *core.Request) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := plain.Call(ctx, req)
	var perr *CallError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeExecution, perr.Code)
	assert.EqualError(t, perr.Err, "boom")
	assert.Equal(t, "f", perr.ToolID)
	assert.Equal(t, req.ID, perr.RequestID)

	custom := MustFunction("f", "", nil, func(context.Context, *core.Request) (any, error) {
		return nil, Errorf("f", "QUOTA", "quota")
	})
	_, err = custom.Call(ctx, req)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Code("QUOTA"), perr.Code)

	coded := MustFunction("f", "", nil, func(context.Context, *core.Request) (any, error) {
		return nil, core.NewError(core.KindMissingCredential, "f", "no key")
	})
	_, err = coded.Call(ctx, req)
	assert.ErrorIs(t, err, core.ErrMissingCredential)
}

func TestNewFunction_InvalidSchema(t *testing.T) {
	_, err := NewFunction("bad", "", map[string]any{"type": 42}, func(context.Context, *core.Request) (any, error) { return nil, nil })
	assert.Error(t, err)
}

func TestHandoff(t *testing.T) {
	var target string
	h := NewHandoff(func(w string) { target = w })
	assert.True(t, IsControl(h))

	out, err := h.Call(context.Background(), core.NewRequest("s", HandoffName, map[string]any{"worker": "pricing"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"transferred": true, "worker": "pricing"}, out)
	assert.Equal(t, "pricing", target)

	_, err = h.Call(context.Background(), core.NewRequest("s", HandoffName, map[string]any{"worker": ""}))
	assert.Error(t, err)
	_, err = h.Call(context.Background(), core.NewRequest("s", HandoffName, nil))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	f := MustFunction("b_tool", "", nil, func(context.Context, *core.Request) (any, error) { return nil, nil })
	r := NewRegistry(f, NewHandoff(nil))

	got, err := r.Get("b_tool")
	require.NoError(t, err)
	assert.Same(t, f, got)
	assert.Equal(t, []string{"b_tool", HandoffName}, r.Names())
	assert.False(t, IsControl(f))

	_, err = r.Get("unknown")
	var perr *CallError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeNotFound, perr.Code)
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		var call httpCall
		assert.NoError(t, json.Unmarshal(body, &call))

		switch call.Args["shape"] {
		case "blocks":
			_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"{\"result_count\":1}"}]}`)
		case "fail":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"tool": call.Tool, "remote_profile": call.Config["remote_profile"]})
		}
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPConfig{Name: "remote", Endpoint: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}}, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	req := core.NewRequest("s", "remote", map[string]any{"shape": "object"})
	req.ProviderConfig["remote_profile"] = map[string]any{"username": "bob"}
	out, err := p.Call(ctx, req)
	require.NoError(t, err)
	env := core.NewEnvelope(out)
	fields, ok := core.StructuredFields(env)
	require.True(t, ok)
	assert.Equal(t, "remote", fields["tool"])
	assert.Equal(t, map[string]any{"username": "bob"}, fields["remote_profile"])

	out, err = p.Call(ctx, core.NewRequest("s", "remote", map[string]any{"shape": "blocks"}))
	require.NoError(t, err)
	raw, ok := core.NewEnvelope(out).(core.RawResult)
	require.True(t, ok)
	fields, ok = core.StructuredFields(raw)
	require.True(t, ok)
	assert.Equal(t, float64(1), fields["result_count"])

	_, err = p.Call(ctx, core.NewRequest("s", "remote", map[string]any{"shape": "fail"}))
	var perr *CallError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeExecution, perr.Code)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
	assert.Equal(t, "upstream down", perr.Body)
	assert.Contains(t, perr.Error(), "status 502")

	_, err = NewHTTP(HTTPConfig{Name: "x"}, nil)
	assert.Error(t, err)
}

func TestHTTPProvider_RateLimit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPConfig{Name: "slow", Endpoint: srv.URL, RateLimit: 0.001, Burst: 1}, srv.Client())
	require.NoError(t, err)

	_, err = p.Call(context.Background(), core.NewRequest("s", "slow", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Call(ctx, core.NewRequest("s", "slow", nil))
	var perr *CallError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeTransport, perr.Code)
	assert.Equal(t, 1, hits)
}

func TestHTTPProvider_ResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"payload":"`+strings.Repeat("x", 64)+`"}`)
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPConfig{Name: "big", Endpoint: srv.URL, MaxResponseBytes: 32}, srv.Client())
	require.NoError(t, err)

	_, err = p.Call(context.Background(), core.NewRequest("s", "big", nil))
	var perr *CallError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeTransport, perr.Code)
	assert.Contains(t, perr.Error(), "exceeds 32 bytes")

	p, err = NewHTTP(HTTPConfig{Name: "big", Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)
	_, err = p.Call(context.Background(), core.NewRequest("s", "big", nil))
	assert.NoError(t, err)
}

func TestHTTPProvider_TimeoutWithSharedClient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := NewHTTP(HTTPConfig{Name: "slow", Endpoint: srv.URL, Timeout: 20 * time.Millisecond}, srv.Client())
	require.NoError(t, err)

	_, err = p.Call(context.Background(), core.NewRequest("s", "slow", nil))
	var perr *CallError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeTransport, perr.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
