// Package normalize post-processes successful tool responses. Bundled
// archives referenced by a response are expanded into individually
// addressable artifacts whose URLs are merged back into the response.
package normalize

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/metrics"
	"github.com/hupe1980/toolmesh/logging"
)

// Converter turns one eligible archive member into its addressable form. It
// returns the artifact name and content; ok=false skips the member.
type Converter interface {
	Convert(name string, data []byte) (outName string, out []byte, ok bool, err error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(name string, data []byte) (string, []byte, bool, error)

// Convert implements Converter.
func (f ConverterFunc) Convert(name string, data []byte) (string, []byte, bool, error) {
	return f(name, data)
}

// PassThrough returns a Converter keeping members whose extension is in exts
// (case-insensitive, with leading dot) unchanged. An empty list keeps all.
func PassThrough(exts ...string) Converter {
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}
	return ConverterFunc(func(name string, data []byte) (string, []byte, bool, error) {
		if len(allowed) > 0 && !allowed[strings.ToLower(path.Ext(name))] {
			return "", nil, false, nil
		}
		return path.Base(name), data, true, nil
	})
}

// Config configures a Normalizer.
type Config struct {
	// ArchiveExt is the bundled-archive extension (default ".zip").
	ArchiveExt string
	// MaxMembers bounds the number of expanded members (default 256).
	MaxMembers int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithConverter sets the member converter (default: PassThrough()).
func WithConverter(c Converter) Option { return func(n *Normalizer) { n.converter = c } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(n *Normalizer) { n.logger = logging.OrNoOp(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(n *Normalizer) { n.metrics = m } }

// Normalizer expands archive references in response envelopes.
type Normalizer struct {
	cfg       Config
	storage   core.ArchiveStorage
	converter Converter
	logger    logging.Logger
	metrics   *metrics.Collector
}

// New creates a Normalizer uploading through storage.
func New(storage core.ArchiveStorage, cfg Config, opts ...Option) *Normalizer {
	if cfg.ArchiveExt == "" {
		cfg.ArchiveExt = ".zip"
	}
	if !strings.HasPrefix(cfg.ArchiveExt, ".") {
		cfg.ArchiveExt = "." + cfg.ArchiveExt
	}
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = 256
	}
	n := &Normalizer{
		cfg:       cfg,
		storage:   storage,
		converter: PassThrough(),
		logger:    logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns env with every archive field expanded, plus the uploaded
// artifact URLs. Envelopes that are not structured, or have no archive field,
// are returned unchanged. A failed expansion leaves the envelope unchanged.
func (n *Normalizer) Normalize(ctx context.Context, sessionID string, env core.Envelope) (core.Envelope, []string) {
	fields, ok := core.StructuredFields(env)
	if !ok {
		return env, nil
	}

	keys := slices.Sorted(maps.Keys(fields))
	var archives []string
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && n.isArchiveURL(s) {
			archives = append(archives, s)
		}
	}
	if len(archives) == 0 {
		return env, nil
	}

	merged := maps.Clone(fields)
	var uploaded []string
	for _, url := range archives {
		members, err := n.expand(ctx, sessionID, url)
		if err != nil {
			n.logger.Warn("normalize.archive.failed", "url", url, "session_id", sessionID, "error", err.Error())
			n.metrics.RecordArchiveExpansion("failed")
			return env, nil
		}
		for _, m := range members {
			if _, exists := merged[m.name]; !exists {
				merged[m.name] = m.url
			}
			uploaded = append(uploaded, m.url)
		}
		n.metrics.RecordArchiveExpansion("expanded")
		n.logger.Info("normalize.archive.expanded", "url", url, "members", len(members))
	}
	return core.StructuredResult{Fields: merged}, uploaded
}

func (n *Normalizer) isArchiveURL(s string) bool {
	if !strings.HasPrefix(strings.ToLower(s), "https://") {
		return false
	}
	u := s
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(strings.ToLower(u), strings.ToLower(n.cfg.ArchiveExt))
}

type member struct {
	name string
	url  string
}

func (n *Normalizer) expand(ctx context.Context, sessionID, url string) ([]member, error) {
	data, err := n.storage.Download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	stem := archiveStem(url, n.cfg.ArchiveExt)
	var out []member
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if len(out) >= n.cfg.MaxMembers {
			return nil, fmt.Errorf("archive has more than %d members", n.cfg.MaxMembers)
		}
		content, err := readMember(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		name, converted, ok, err := n.converter.Convert(f.Name, content)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", f.Name, err)
		}
		if !ok {
			continue
		}
		artifactURL, err := n.storage.Upload(ctx, converted, path.Join(sessionID, stem, name))
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", name, err)
		}
		out = append(out, member{name: name, url: artifactURL})
	}
	return out, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func archiveStem(url, ext string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	base := path.Base(url)
	return base[:len(base)-len(ext)]
}
