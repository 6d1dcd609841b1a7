// Package httpstore implements core.ArchiveStorage against a plain HTTP object
// store: objects are fetched with GET and written with PUT to
// "<UploadURL>/<path>".
package httpstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config configures the HTTP store.
type Config struct {
	// UploadURL is the base URL objects are PUT under.
	UploadURL string
	// PublicURL is the base URL returned for uploaded objects (defaults to UploadURL).
	PublicURL string
	// Token is sent as a bearer token when non-empty.
	Token string
	// MaxDownloadBytes bounds downloads (default 256 MiB).
	MaxDownloadBytes int64
	Timeout          time.Duration
}

// Store is an HTTP backed archive storage.
type Store struct {
	cfg    Config
	client *http.Client
}

// New constructs a Store. A nil client uses a client with cfg.Timeout.
func New(cfg Config, client *http.Client) (*Store, error) {
	if cfg.UploadURL == "" {
		return nil, errors.New("httpstore: upload url must not be empty")
	}
	cfg.UploadURL = strings.TrimRight(cfg.UploadURL, "/")
	if cfg.PublicURL == "" {
		cfg.PublicURL = cfg.UploadURL
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 256 << 20
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Store{cfg: cfg, client: client}, nil
}

// Download fetches url.
func (s *Store) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > s.cfg.MaxDownloadBytes {
		return nil, fmt.Errorf("download %s: exceeds %d bytes", url, s.cfg.MaxDownloadBytes)
	}
	return data, nil
}

// Upload writes data under path and returns its public URL.
func (s *Store) Upload(ctx context.Context, data []byte, path string) (string, error) {
	path = strings.TrimLeft(path, "/")
	if strings.TrimSpace(path) == "" {
		return "", errors.New("httpstore: path must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.cfg.UploadURL+"/"+path, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upload %s: unexpected status %s", path, resp.Status)
	}
	return s.cfg.PublicURL + "/" + path, nil
}

func (s *Store) authorize(req *http.Request) {
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
}
