package etl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mdsync/internal/domain"
)

// ── Source ──────────────────────────────────────────────────
// A Source opens an Extractor for one provider.
// Implementations live in etl/sources/, one file per source type.

// Extractor fetches a fully materialized batch of trips for one window.
// Pagination is handled inside; a failure aborts the window.
type Extractor interface {
	Fetch(ctx context.Context, w TimeWindow, paging bool) ([]Record, error)
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, w TimeWindow, paging bool) ([]Record, error)

func (f ExtractorFunc) Fetch(ctx context.Context, w TimeWindow, paging bool) ([]Record, error) {
	return f(ctx, w, paging)
}

// Source is the interface every trip source must implement.
type Source interface {
	// Type is the value providers use in their `source` option.
	Type() string

	// Open builds an Extractor for the provider. Credentials are already resolved.
	Open(ctx context.Context, cfg *domain.ProviderConfig) (Extractor, error)
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its type.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Type()] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("unknown source type: %q", typ)
	}
	return s, nil
}

// ListSources returns the registered source types, sorted.
func ListSources() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
