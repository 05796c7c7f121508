package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Options carries connection settings shared by all backends.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	Logger       *zap.Logger
}

// Opener opens a Store for a backend-specific DSN.
type Opener func(ctx context.Context, dsn string, opts Options) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Opener{}
)

// RegisterBackend registers a Store constructor for a URL scheme.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(scheme string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[scheme] = open
}

// Backends returns the registered schemes, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open picks a backend from the URL scheme. A value without a scheme is a
// sqlite file path. The DSN handed to the backend has the scheme prefix
// removed only for sqlite.
func Open(ctx context.Context, url string, opts Options) (Store, error) {
	scheme, dsn := splitScheme(url)

	backendsMu.RLock()
	open, ok := backends[scheme]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage backend registered for %q (available: %s)",
			scheme, strings.Join(Backends(), ", "))
	}

	store, err := open(ctx, dsn, opts)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", scheme, err)
	}
	return store, nil
}

func splitScheme(url string) (scheme, dsn string) {
	i := strings.Index(url, "://")
	if i < 0 {
		return "sqlite", url
	}
	scheme = strings.ToLower(url[:i])
	switch scheme {
	case "sqlite", "file":
		return "sqlite", url[i+3:]
	case "postgresql":
		return "postgres", url
	}
	return scheme, url
}
