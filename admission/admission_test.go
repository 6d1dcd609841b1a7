package admission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
)

var _ core.AdmissionService = (*HTTPClient)(nil)

func TestStaticVariants(t *testing.T) {
	ctx := context.Background()
	d := core.Descriptor{ToolID: "t"}

	assert.NoError(t, AllowAll().CheckCanExecute(ctx, "x", d))
	assert.EqualError(t, DenyAll("insufficient balance").CheckCanExecute(ctx, "x", d), "insufficient balance")

	s := Static{Allowed: map[string]bool{"acct-1": true}}
	assert.NoError(t, s.CheckCanExecute(ctx, "acct-1", d))
	var rej *Rejection
	assert.ErrorAs(t, s.CheckCanExecute(ctx, "acct-2", d), &rej)
}

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var in checkRequest
		_ = json.Unmarshal(body, &in)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		switch in.BillingScope {
		case "ok":
			_, _ = io.WriteString(w, `{"ok":true}`)
		case "poor":
			_, _ = io.WriteString(w, `{"ok":false,"error":"Insufficient balance for job search"}`)
		case "forbidden":
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":"project suspended"}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "internal failure")
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, WithToken("tok"), WithHTTPClient(srv.Client()))
	ctx := context.Background()
	d := core.Descriptor{RequestID: "r1", ToolID: "search"}

	assert.NoError(t, c.CheckCanExecute(ctx, "ok", d))
	assert.EqualError(t, c.CheckCanExecute(ctx, "poor", d), "Insufficient balance for job search")

	err := c.CheckCanExecute(ctx, "forbidden", d)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusForbidden, rej.Status)
	assert.Equal(t, "project suspended", rej.Message)

	assert.EqualError(t, c.CheckCanExecute(ctx, "other", d), "internal failure")
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPClient(url, time.Second).CheckCanExecute(context.Background(), "x", core.Descriptor{})
	assert.ErrorContains(t, err, "unreachable")
}
