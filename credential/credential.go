package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// Field names understood by the resolver.
const (
	FieldAccessKey    = "access_key"
	FieldBillingScope = "billing_scope"
	FieldUsername     = "username"
	FieldTicket       = "ticket"
	FieldEnvironment  = "environment"
)

// Provider configuration keys resolved values are written back under.
const (
	RemoteProfileKey = "remote_profile"
	EnvKey           = "env"
)

// IsDerived reports whether field is derived from the access key.
func IsDerived(field string) bool {
	return field == FieldUsername || field == FieldTicket
}

// Config is the constructor-time credential configuration. Environment
// selects which deployment (e.g. "prod", "test") the process talks to.
type Config struct {
	Environment string
	// EnvVars maps a field to the environment variable consulted as fallback.
	// Unmapped fields use TOOLMESH_<FIELD>.
	EnvVars map[string]string
	// SessionKeys maps a field to its session state key (default: the field name).
	SessionKeys map[string]string
	// DotenvFiles are read once, in order; earlier files win. Missing files are skipped.
	DotenvFiles []string
}

// EnvVar returns the environment variable name for field.
func (c Config) EnvVar(field string) string {
	if name, ok := c.EnvVars[field]; ok && name != "" {
		return name
	}
	return "TOOLMESH_" + strings.ToUpper(field)
}

// SessionKey returns the session state key for field.
func (c Config) SessionKey(field string) string {
	if key, ok := c.SessionKeys[field]; ok && key != "" {
		return key
	}
	return field
}

// Deriver produces derived identity fields (username, ticket) from an access
// key, typically by calling an identity service.
type Deriver interface {
	Derive(ctx context.Context, accessKey, field string) (string, error)
}

// DeriverFunc adapts a function to the Deriver interface.
type DeriverFunc func(ctx context.Context, accessKey, field string) (string, error)

// Derive implements Deriver.
func (f DeriverFunc) Derive(ctx context.Context, accessKey, field string) (string, error) {
	return f(ctx, accessKey, field)
}

// Bundle is the resolved credential set of one call.
type Bundle struct {
	AccessKey    string
	BillingScope string
	Username     string
	Ticket       string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookupEnv replaces os.LookupEnv (tests, sandboxes).
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

// WithDeriver sets the derived-field source.
func WithDeriver(d Deriver) Option {
	return func(r *Resolver) { r.deriver = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrNoOp(l) }
}

// Resolver resolves credential fields for requests.
type Resolver struct {
	cfg       Config
	store     core.SessionStore
	lookupEnv func(string) (string, bool)
	deriver   Deriver
	logger    logging.Logger

	filesOnce  sync.Once
	fileValues map[string]string
}

// NewResolver creates a resolver reading session state from store.
func NewResolver(cfg Config, store core.SessionStore, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:       cfg,
		store:     store,
		lookupEnv: os.LookupEnv,
		logger:    logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Environment returns the configured environment name.
func (r *Resolver) Environment() string { return r.cfg.Environment }

// WriteBack writes value for field onto req using the resolver's configuration.
func (r *Resolver) WriteBack(req *core.Request, field, value string) {
	WriteBack(req, field, value, r.cfg)
}

// Resolve returns the value of field for req. A value that cannot be resolved
// yields a fatal core.KindMissingCredential error.
func (r *Resolver) Resolve(ctx context.Context, req *core.Request, field string) (string, error) {
	if v := req.Context[field]; v != "" {
		return v, nil
	}

	var accessKey string
	if IsDerived(field) {
		key, err := r.Resolve(ctx, req, FieldAccessKey)
		if err != nil {
			return "", &core.Error{
				Kind:    core.KindMissingCredential,
				Op:      "credential.resolve",
				Message: fmt.Sprintf("%s requires an access key", field),
				Err:     err,
			}
		}
		accessKey = key
	}

	v, source, err := r.lookup(ctx, req.SessionID, field)
	if err != nil {
		return "", err
	}

	if v == "" && accessKey != "" && r.deriver != nil {
		derived, err := r.deriver.Derive(ctx, accessKey, field)
		if err != nil {
			return "", &core.Error{Kind: core.KindMissingCredential, Op: "credential.derive", Message: field, Err: err}
		}
		v, source = derived, "deriver"
	}

	if v == "" {
		return "", core.NewError(core.KindMissingCredential, "credential.resolve", "%s not found in session or environment", field)
	}

	r.logger.Debug("credential.resolved", "field", field, "source", source, "session_id", req.SessionID)
	WriteBack(req, field, v, r.cfg)
	return v, nil
}

// Bundle resolves access key and billing scope, plus the derived identity
// fields when withIdentity is set.
func (r *Resolver) Bundle(ctx context.Context, req *core.Request, withIdentity bool) (Bundle, error) {
	var (
		b   Bundle
		err error
	)
	if b.AccessKey, err = r.Resolve(ctx, req, FieldAccessKey); err != nil {
		return Bundle{}, err
	}
	if b.BillingScope, err = r.Resolve(ctx, req, FieldBillingScope); err != nil {
		return Bundle{}, err
	}
	if !withIdentity {
		return b, nil
	}
	if b.Username, err = r.Resolve(ctx, req, FieldUsername); err != nil {
		return Bundle{}, err
	}
	if b.Ticket, err = r.Resolve(ctx, req, FieldTicket); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

func (r *Resolver) lookup(ctx context.Context, sessionID, field string) (string, string, error) {
	if r.store != nil && sessionID != "" {
		raw, ok, err := r.store.Get(ctx, sessionID, r.cfg.SessionKey(field))
		if err != nil {
			return "", "", fmt.Errorf("read session %s: %w", sessionID, err)
		}
		if ok && raw != nil {
			if v := stringify(raw); v != "" {
				return v, "session", nil
			}
		}
	}

	name := r.cfg.EnvVar(field)
	if v, ok := r.lookupEnv(name); ok && v != "" {
		return v, "env", nil
	}
	if v := r.dotenv()[name]; v != "" {
		return v, "dotenv", nil
	}
	return "", "", nil
}

func (r *Resolver) dotenv() map[string]string {
	r.filesOnce.Do(func() {
		r.fileValues = map[string]string{}
		for _, file := range r.cfg.DotenvFiles {
			values, err := godotenv.Read(file)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					r.logger.Warn("credential.dotenv.unreadable", "file", file, "error", err.Error())
				}
				continue
			}
			for k, v := range values {
				if _, exists := r.fileValues[k]; !exists {
					r.fileValues[k] = v
				}
			}
		}
	})
	return r.fileValues
}

// WriteBack caches value on the request context and writes it to the provider
// configuration location selected by the request's execution mode:
// nested under "remote_profile" for ModeRemoteProfile, flat under "env" keyed
// by environment variable name for ModeEnvironment, nowhere for ModeNone.
func WriteBack(req *core.Request, field, value string, cfg Config) {
	if req.Context == nil {
		req.Context = map[string]string{}
	}
	req.Context[field] = value

	if req.ProviderConfig == nil {
		req.ProviderConfig = map[string]any{}
	}
	switch req.Mode {
	case core.ModeRemoteProfile:
		nestedMap(req.ProviderConfig, RemoteProfileKey)[field] = value
	case core.ModeEnvironment:
		nestedMap(req.ProviderConfig, EnvKey)[cfg.EnvVar(field)] = value
	}
}

func nestedMap(cfg map[string]any, key string) map[string]any {
	if m, ok := cfg[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	cfg[key] = m
	return m
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprint(val)
	default:
		return fmt.Sprint(val)
	}
}
