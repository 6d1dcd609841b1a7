package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/testutil"
	"github.com/hupe1980/toolmesh/session"
)

func noEnv(string) (string, bool) { return "", false }

func envOf(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func TestResolve_MissingAccessKeyIsFatal(t *testing.T) {
	store := session.NewInMemoryStore()
	r := NewResolver(Config{Environment: "test"}, store, WithLookupEnv(noEnv))

	req := core.NewRequest("s1", "search", nil)
	_, err := r.Resolve(context.Background(), req, FieldAccessKey)

	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingCredential))
	assert.True(t, core.IsFatal(err))
	assert.Empty(t, req.Context)
}

func TestResolve_DerivedFieldRequiresAccessKey(t *testing.T) {
	calls := 0
	deriver := DeriverFunc(func(context.Context, string, string) (string, error) {
		calls++
		return "alice", nil
	})
	r := NewResolver(Config{}, session.NewInMemoryStore(), WithLookupEnv(noEnv), WithDeriver(deriver))

	_, err := r.Resolve(context.Background(), core.NewRequest("s1", "t", nil), FieldUsername)

	require.Error(t, err)
	assert.Equal(t, core.KindMissingCredential, core.KindOf(err))
	assert.Zero(t, calls)
}

func TestResolve_SessionBeforeEnvironment(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	require.NoError(t, testutil.NewSessionBuilder("s1").State(FieldAccessKey, "from-session").Seed(ctx, store))

	r := NewResolver(Config{}, store, WithLookupEnv(envOf(map[string]string{"TOOLMESH_ACCESS_KEY": "from-env"})))

	v, err := r.Resolve(ctx, core.NewRequest("s1", "t", nil), FieldAccessKey)
	require.NoError(t, err)
	assert.Equal(t, "from-session", v)

	v, err = r.Resolve(ctx, core.NewRequest("other", "t", nil), FieldAccessKey)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
}

func TestResolve_NumericSessionValue(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	require.NoError(t, store.Set(ctx, "s1", FieldBillingScope, float64(4711)))

	r := NewResolver(Config{}, store, WithLookupEnv(noEnv))
	v, err := r.Resolve(ctx, core.NewRequest("s1", "t", nil), FieldBillingScope)
	require.NoError(t, err)
	assert.Equal(t, "4711", v)
}

func TestResolve_CachedOnRequest(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	require.NoError(t, store.Set(ctx, "s1", FieldAccessKey, "first"))

	r := NewResolver(Config{}, store, WithLookupEnv(noEnv))
	req := core.NewRequest("s1", "t", nil)

	_, err := r.Resolve(ctx, req, FieldAccessKey)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "s1", FieldAccessKey, "second"))

	v, err := r.Resolve(ctx, req, FieldAccessKey)
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestResolve_DotenvFallback(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("PROD_KEY=from-file\n"), 0o600))

	cfg := Config{
		Environment: "prod",
		EnvVars:     map[string]string{FieldAccessKey: "PROD_KEY"},
		DotenvFiles: []string{filepath.Join(dir, "missing.env"), file},
	}
	r := NewResolver(cfg, session.NewInMemoryStore(), WithLookupEnv(noEnv))

	v, err := r.Resolve(context.Background(), core.NewRequest("s1", "t", nil), FieldAccessKey)
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)
}

func TestResolve_DeriverAndWriteBack(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	require.NoError(t, store.Set(ctx, "s1", FieldAccessKey, "key-1"))

	deriver := DeriverFunc(func(_ context.Context, key, field string) (string, error) {
		return field + "-for-" + key, nil
	})
	r := NewResolver(Config{}, store, WithLookupEnv(noEnv), WithDeriver(deriver))

	req := core.NewRequest("s1", "t", nil)
	req.Mode = core.ModeRemoteProfile

	v, err := r.Resolve(ctx, req, FieldTicket)
	require.NoError(t, err)
	assert.Equal(t, "ticket-for-key-1", v)

	profile, ok := req.ProviderConfig[RemoteProfileKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "key-1", profile[FieldAccessKey])
	assert.Equal(t, "ticket-for-key-1", profile[FieldTicket])
}

func TestResolve_DeriverError(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	require.NoError(t, store.Set(ctx, "s1", FieldAccessKey, "key-1"))

	boom := errors.New("identity service down")
	r := NewResolver(Config{}, store, WithLookupEnv(noEnv), WithDeriver(DeriverFunc(
		func(context.Context, string, string) (string, error) { return "", boom },
	)))

	_, err := r.Resolve(ctx, core.NewRequest("s1", "t", nil), FieldUsername)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, core.ErrMissingCredential)
}

func TestWriteBack_Modes(t *testing.T) {
	cfg := Config{EnvVars: map[string]string{FieldAccessKey: "API_KEY"}}

	env := core.NewRequest("s", "t", nil)
	env.Mode = core.ModeEnvironment
	WriteBack(env, FieldAccessKey, "k", cfg)
	assert.Equal(t, map[string]any{"API_KEY": "k"}, env.ProviderConfig[EnvKey])

	none := core.NewRequest("s", "t", nil)
	WriteBack(none, FieldAccessKey, "k", cfg)
	assert.Empty(t, none.ProviderConfig)
	assert.Equal(t, "k", none.Context[FieldAccessKey])
}

func TestBundle(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	require.NoError(t, testutil.NewSessionBuilder("s1").
		State(FieldAccessKey, "k").
		State(FieldBillingScope, "acct-7").
		State(FieldUsername, "bob").
		Seed(ctx, store))

	r := NewResolver(Config{}, store, WithLookupEnv(noEnv), WithDeriver(DeriverFunc(
		func(context.Context, string, string) (string, error) { return "tkt", nil },
	)))

	b, err := r.Bundle(ctx, core.NewRequest("s1", "t", nil), true)
	require.NoError(t, err)
	assert.Equal(t, Bundle{AccessKey: "k", BillingScope: "acct-7", Username: "bob", Ticket: "tkt"}, b)

	_, err = r.Bundle(ctx, core.NewRequest("empty", "t", nil), false)
	assert.ErrorIs(t, err, core.ErrMissingCredential)
}
