// Package toolmesh provides a high-level façade over the tool-invocation
// control plane: the middleware pipeline wrapping every provider call, the
// retry supervisor and the sequential multi-worker orchestrator. Most
// applications interact with this package by:
//  1. Loading a config.Config (or starting from config.Default())
//  2. Creating a ToolMesh via New(), registering in-process providers and
//     code-declared workers through Options
//  3. Running user requests (Run) or single tool calls (Invoke)
//
// Every collaborator not supplied through Options is built from the
// configuration; in-memory defaults are safe for local development and tests.
package toolmesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/toolmesh/admission"
	"github.com/hupe1980/toolmesh/artifact/httpstore"
	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/credential"
	"github.com/hupe1980/toolmesh/internal/metrics"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/model/anthropic"
	"github.com/hupe1980/toolmesh/model/openai"
	"github.com/hupe1980/toolmesh/normalize"
	"github.com/hupe1980/toolmesh/orchestrator"
	"github.com/hupe1980/toolmesh/pipeline"
	"github.com/hupe1980/toolmesh/provider"
	"github.com/hupe1980/toolmesh/reference"
	"github.com/hupe1980/toolmesh/session"
	sessionredis "github.com/hupe1980/toolmesh/session/redis"
	"github.com/hupe1980/toolmesh/supervisor"
)

// Options overrides collaborators otherwise built from the configuration.
type Options struct {
	// Providers are registered in addition to the HTTP providers of
	// config-declared workers.
	Providers []core.Provider
	// Workers are added to the catalog after the config-declared workers.
	Workers []orchestrator.Worker

	SessionStore   core.SessionStore
	ArchiveStorage core.ArchiveStorage
	Admission      core.AdmissionService
	// Model enables the model-assisted planner regardless of config.Model.
	Model     model.Model
	Deriver   credential.Deriver
	Converter normalize.Converter

	// Registerer receives the Prometheus collectors (default: a fresh registry).
	Registerer prometheus.Registerer
	// HTTPClient is shared by HTTP tool providers and the archive store.
	HTTPClient *http.Client
	// LookupEnv replaces os.LookupEnv for credential fallbacks.
	LookupEnv func(string) (string, bool)

	// Logger (defaults to a logger built from config.Logging)
	Logger logging.Logger
}

// ToolMesh aggregates the wired control plane.
type ToolMesh struct {
	cfg          *config.Config
	logger       logging.Logger
	store        core.SessionStore
	registry     *provider.Registry
	catalog      *orchestrator.Catalog
	references   *reference.Resolver
	pipeline     *pipeline.Pipeline
	orchestrator *orchestrator.Orchestrator
	closers      []func() error
}

// New wires a ToolMesh from cfg. A nil cfg uses config.Default().
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (_ *ToolMesh, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(&logging.LoggerConfig{
			Level:     logging.ParseLevel(cfg.Logging.Level),
			Format:    cfg.Logging.Format,
			Output:    os.Stderr,
			Component: "toolmesh",
		})
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	m := &ToolMesh{cfg: cfg, logger: opts.Logger}
	defer func() {
		if err != nil {
			if cerr := m.Close(); cerr != nil {
				opts.Logger.Warn("toolmesh.close.failed", "error", cerr.Error())
			}
		}
	}()
	collector := metrics.NewCollector(cfg.Metrics.Namespace, opts.Registerer)

	store, err := m.sessionStore(ctx, opts)
	if err != nil {
		return nil, err
	}
	m.store = store

	resolverOpts := []credential.Option{credential.WithLogger(opts.Logger)}
	if opts.Deriver != nil {
		resolverOpts = append(resolverOpts, credential.WithDeriver(opts.Deriver))
	}
	if opts.LookupEnv != nil {
		resolverOpts = append(resolverOpts, credential.WithLookupEnv(opts.LookupEnv))
	}
	creds := credential.NewResolver(credential.Config{
		Environment: cfg.Environment,
		EnvVars:     cfg.EnvVars(),
		SessionKeys: cfg.Credentials.SessionKeys,
		DotenvFiles: cfg.Credentials.DotenvFiles,
	}, store, resolverOpts...)

	adm, err := admissionService(cfg, opts)
	if err != nil {
		return nil, err
	}

	m.registry = provider.NewRegistry(opts.Providers...)
	m.registry.Register(provider.NewHandoff(func(worker string) {
		opts.Logger.Info("toolmesh.handoff", "worker", worker)
	}))
	for _, w := range cfg.Workers {
		if w.Endpoint == "" {
			continue
		}
		timeout, _ := config.ParseDuration(w.Timeout)
		p, err := provider.NewHTTP(provider.HTTPConfig{
			Name:      w.Tool,
			Endpoint:  w.Endpoint,
			Mode:      core.ExecutionMode(w.Mode),
			Headers:   w.Headers,
			Timeout:   timeout,
			RateLimit: w.RateLimit,
			Burst:     w.Burst,
		}, opts.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", w.Name, err)
		}
		m.registry.Register(p)
	}

	m.references = reference.NewResolver(opts.Logger)
	callTimeout, _ := config.ParseDuration(cfg.Pipeline.CallTimeout)
	m.pipeline = pipeline.New(store, m.registry,
		pipeline.WithStages(pipeline.Canonical(pipeline.CanonicalConfig{
			Credentials:   creds,
			Store:         store,
			Admission:     adm,
			References:    m.references,
			ReferenceKeys: cfg.Pipeline.ReferenceArgs,
		})...),
		pipeline.WithCallTimeout(callTimeout),
		pipeline.WithLogger(opts.Logger),
		pipeline.WithMetrics(collector),
	)

	m.catalog, err = m.buildCatalog(opts.Workers)
	if err != nil {
		return nil, err
	}

	orchOpts := orchestrator.Options{
		Sentinel:   cfg.Report.Sentinel,
		References: m.references,
		Supervisor: supervisor.New(supervisor.Options{
			AcceptUnverifiedRetry: cfg.Supervisor.AcceptUnverifiedRetry,
			Logger:                opts.Logger,
			Metrics:               collector,
		}),
		Logger:  opts.Logger,
		Metrics: collector,
	}
	for _, c := range cfg.Report.Columns {
		orchOpts.Columns = append(orchOpts.Columns, orchestrator.Column{Key: c.Key, Header: c.Header, Reference: c.Reference})
	}
	if normalizer, err := m.normalizer(opts, collector); err != nil {
		return nil, err
	} else if normalizer != nil {
		orchOpts.Normalizer = normalizer
	}

	m.orchestrator = orchestrator.New(m.planner(opts), m.pipeline, store, orchOpts)
	return m, nil
}

func (m *ToolMesh) sessionStore(ctx context.Context, opts Options) (core.SessionStore, error) {
	if opts.SessionStore != nil {
		return opts.SessionStore, nil
	}
	if m.cfg.Session.Driver != "redis" {
		return session.NewInMemoryStore(), nil
	}
	rc := m.cfg.Session.Redis
	ttl, _ := config.ParseDuration(rc.TTL)
	store, err := sessionredis.NewStore(ctx, sessionredis.Config{
		Address:  rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
		Prefix:   rc.Prefix,
		TTL:      ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	m.closers = append(m.closers, store.Close)
	return store, nil
}

func admissionService(cfg *config.Config, opts Options) (core.AdmissionService, error) {
	if opts.Admission != nil {
		return opts.Admission, nil
	}
	env := cfg.Active()
	if env.AdmissionURL == "" {
		return admission.AllowAll(), nil
	}
	timeout, err := config.ParseDuration(env.AdmissionTimeout)
	if err != nil {
		return nil, fmt.Errorf("admission timeout: %w", err)
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return admission.NewHTTPClient(env.AdmissionURL, timeout,
		admission.WithToken(env.AdmissionToken),
		admission.WithLogger(opts.Logger),
	), nil
}

func (m *ToolMesh) normalizer(opts Options, collector *metrics.Collector) (*normalize.Normalizer, error) {
	storage := opts.ArchiveStorage
	if storage == nil {
		ac := m.cfg.Archive
		if ac.UploadURL == "" {
			return nil, nil
		}
		hs, err := httpstore.New(httpstore.Config{
			UploadURL:        ac.UploadURL,
			PublicURL:        ac.PublicURL,
			Token:            ac.Token,
			MaxDownloadBytes: ac.MaxDownloadBytes,
		}, opts.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("archive storage: %w", err)
		}
		storage = hs
	}
	converter := opts.Converter
	if converter == nil {
		converter = normalize.PassThrough(m.cfg.Archive.Extensions...)
	}
	return normalize.New(storage, normalize.Config{
		ArchiveExt: m.cfg.Archive.Extension,
		MaxMembers: m.cfg.Archive.MaxMembers,
	}, normalize.WithConverter(converter), normalize.WithLogger(m.logger), normalize.WithMetrics(collector)), nil
}

func (m *ToolMesh) buildCatalog(extra []orchestrator.Worker) (*orchestrator.Catalog, error) {
	workers := make([]orchestrator.Worker, 0, len(m.cfg.Workers)+len(extra))
	for _, w := range m.cfg.Workers {
		workers = append(workers, workerFromConfig(w))
	}
	workers = append(workers, extra...)

	for _, w := range workers {
		if _, err := m.registry.Get(w.ToolID); err != nil {
			return nil, fmt.Errorf("worker %s: no provider for tool %q", w.Name, w.ToolID)
		}
	}
	catalog, err := orchestrator.NewCatalog(workers...)
	if err != nil {
		return nil, fmt.Errorf("worker catalog: %w", err)
	}
	return catalog, nil
}

func workerFromConfig(w config.WorkerConfig) orchestrator.Worker {
	contract := orchestrator.Contract{
		CountField:     w.Contract.CountField,
		DetailField:    w.Contract.DetailField,
		LocationField:  w.Contract.LocationField,
		RequiredFields: w.Contract.RequiredFields,
	}
	if loc := w.Contract.Location; loc != nil {
		pattern := &supervisor.LocationPattern{Scheme: loc.Scheme, DomainFamily: loc.DomainFamily, Suffix: loc.Suffix}
		copy(pattern.Segments[:], loc.Segments)
		contract.Location = pattern
	}
	return orchestrator.Worker{
		Name:         w.Name,
		ToolID:       w.Tool,
		Description:  w.Description,
		Capabilities: w.Capabilities,
		Priority:     w.Priority,
		Contract:     contract,
	}
}

func (m *ToolMesh) planner(opts Options) orchestrator.Planner {
	capability := &orchestrator.CapabilityPlanner{Catalog: m.catalog}
	llm := opts.Model
	if llm == nil {
		mc := m.cfg.Model
		switch mc.Provider {
		case "openai":
			llm = openai.NewModel(func(o *openai.Options) {
				if mc.Name != "" {
					o.Model = mc.Name
				}
				o.Temperature = mc.Temperature
				if mc.MaxTokens > 0 {
					o.MaxCompletionTokens = mc.MaxTokens
				}
			})
		case "anthropic":
			llm = anthropic.NewModel(func(o *anthropic.Options) {
				if mc.Name != "" {
					o.Model = anthropicsdk.Model(mc.Name)
				}
				o.Temperature = mc.Temperature
				if mc.MaxTokens > 0 {
					o.MaxTokens = mc.MaxTokens
				}
			})
		}
	}
	if llm == nil {
		return capability
	}
	return &orchestrator.ModelPlanner{Catalog: m.catalog, Model: llm, Fallback: capability, Logger: m.logger}
}

// Run plans userRequest and executes the plan within sessionID.
func (m *ToolMesh) Run(ctx context.Context, sessionID, userRequest string) (*orchestrator.Report, error) {
	return m.orchestrator.Run(ctx, sessionID, userRequest)
}

// Plan returns the plan Run would execute for userRequest.
func (m *ToolMesh) Plan(ctx context.Context, userRequest string) (orchestrator.Plan, error) {
	return m.orchestrator.Plan(ctx, userRequest)
}

// Invoke runs a single tool call through the pipeline.
func (m *ToolMesh) Invoke(ctx context.Context, sessionID, toolID string, args map[string]any) (core.Envelope, error) {
	return m.pipeline.Invoke(ctx, core.NewRequest(sessionID, toolID, args))
}

// ResolveReference resolves claimed against the artifacts produced in sessionID.
func (m *ToolMesh) ResolveReference(ctx context.Context, sessionID, claimed string) (string, error) {
	produced, err := m.store.ListArtifacts(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("list artifacts: %w", err)
	}
	return m.references.Resolve(claimed, produced), nil
}

// SessionStore returns the session store.
func (m *ToolMesh) SessionStore() core.SessionStore { return m.store }

// Registry returns the provider registry.
func (m *ToolMesh) Registry() *provider.Registry { return m.registry }

// Catalog returns the worker catalog.
func (m *ToolMesh) Catalog() *orchestrator.Catalog { return m.catalog }

// Pipeline returns the middleware pipeline.
func (m *ToolMesh) Pipeline() *pipeline.Pipeline { return m.pipeline }

// Orchestrator returns the orchestrator.
func (m *ToolMesh) Orchestrator() *orchestrator.Orchestrator { return m.orchestrator }

// Close releases resources held by the configured stores.
func (m *ToolMesh) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
