package breaker

import (
	"sort"
	"sync"
)

// Registry owns the breakers for every (app, provider) pair. Breakers are
// created lazily on first use and live for the process lifetime; provider
// deletion in the UI just leaves an idle breaker behind.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	configFn func(appType string) Config
}

// NewRegistry builds a registry. configFn supplies the thresholds for new
// breakers per app; it is called outside the registry lock.
func NewRegistry(configFn func(appType string) Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		configFn: configFn,
	}
}

func key(appType, providerID string) string {
	return appType + "/" + providerID
}

// ConfigFor reports the thresholds a new breaker of this app would receive.
func (r *Registry) ConfigFor(appType string) Config {
	return r.configFn(appType)
}

// Get returns the breaker for a provider, creating it on first use.
func (r *Registry) Get(appType, providerID string) *Breaker {
	k := key(appType, providerID)

	r.mu.RLock()
	b, ok := r.breakers[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	cfg := r.configFn(appType)

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[k]; ok {
		return b
	}
	b = New(k, cfg)
	r.breakers[k] = b
	return b
}

// UpdateAll pushes fresh thresholds to every breaker of one app. Used when
// the per-app proxy config changes at runtime.
func (r *Registry) UpdateAll(appType string, cfg Config) {
	prefix := appType + "/"

	r.mu.RLock()
	targets := make([]*Breaker, 0, len(r.breakers))
	for k, b := range r.breakers {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			targets = append(targets, b)
		}
	}
	r.mu.RUnlock()

	for _, b := range targets {
		b.UpdateConfig(cfg)
	}
}

// Reset returns one provider's breaker to Closed if it exists.
func (r *Registry) Reset(appType, providerID string) {
	r.mu.RLock()
	b, ok := r.breakers[key(appType, providerID)]
	r.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

// Snapshots returns the state of every breaker, sorted by name for stable
// status output.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	targets := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		targets = append(targets, b)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(targets))
	for _, b := range targets {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
