package artifact

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore is a trivial in‑process core.ArchiveStorage implementation
// useful for tests, examples and single‑process prototypes. Uploaded objects
// are addressed by "<baseURL>/<path>" and kept in a map guarded by an RWMutex.
// Data is copied on upload / download to avoid accidental external mutation
// of internal buffers.
//
// This implementation does not enforce retention limits, size quotas, or
// eviction.
type InMemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte // url -> data
}

// NewInMemoryStore returns an empty in‑memory store addressing objects under baseURL
// (defaults to "memory://artifacts").
func NewInMemoryStore(baseURL string) *InMemoryStore {
	if baseURL == "" {
		baseURL = "memory://artifacts"
	}
	return &InMemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string][]byte)}
}

// Put stores data under an explicit URL, e.g. to seed an archive a fake
// provider will reference.
func (a *InMemoryStore) Put(url string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[url] = clone(data)
}

// Download returns a copy of the object stored under url or ErrNotFound.
func (a *InMemoryStore) Download(_ context.Context, url string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[url]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(data), nil
}

// Upload stores (or overwrites) data under path and returns its URL.
func (a *InMemoryStore) Upload(_ context.Context, data []byte, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidPath
	}
	url := a.baseURL + "/" + strings.TrimLeft(path, "/")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[url] = clone(data)
	return url, nil
}

// URLs returns the stored object URLs sorted lexically.
func (a *InMemoryStore) URLs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	urls := make([]string, 0, len(a.objects))
	for u := range a.objects {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func clone(data []byte) []byte {
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp
}
