package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a provider's previous run has not finished.
var ErrAlreadyRunning = errors.New("already running")

// providerGuard tracks in-flight provider runs so a provider never syncs twice at once.
type providerGuard struct {
	mu      sync.Mutex
	running map[string]time.Time // provider -> started
	wg      sync.WaitGroup
}

// acquire marks provider as running. The returned release must be called
// when the run ends.
func (g *providerGuard) acquire(provider string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]time.Time)
	}
	if since, ok := g.running[provider]; ok {
		return nil, fmt.Errorf("provider %s: %w (since %s)", provider, ErrAlreadyRunning, since.UTC().Format(time.RFC3339))
	}
	g.running[provider] = time.Now()
	g.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, provider)
			g.mu.Unlock()
			g.wg.Done()
		})
	}, nil
}

// providers lists the running providers in name order.
func (g *providerGuard) providers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.running))
	for p := range g.running {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// wait blocks until no run is in flight or ctx is done.
func (g *providerGuard) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
