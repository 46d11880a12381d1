// Package failover promotes the provider that actually served a request to
// "current" when the chain had to skip past the configured one. The client
// response is already in flight by the time this runs, so every step is
// best-effort: failures are logged and swallowed.
package failover

import (
	"log"
	"sync"

	"github.com/keisium/ccrelay/internal/db"
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/keisium/ccrelay/internal/notify"
)

// Manager serializes provider promotions per (app, provider) pair.
type Manager struct {
	store    *db.Store
	notifier *notify.Notifier

	mu       sync.Mutex
	inFlight map[string]bool

	wg sync.WaitGroup
}

func NewManager(store *db.Store, notifier *notify.Notifier) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		inFlight: make(map[string]bool),
	}
}

// MaybeSwitch runs after a successful forward. When the serving provider is
// not the one recorded as current at request start and auto-failover is on,
// it promotes the provider in the background. Duplicate switches for the
// same (app, provider) pair are collapsed while one is in flight.
func (m *Manager) MaybeSwitch(appType string, provider models.Provider, recordedCurrentID string, autoFailoverEnabled bool) {
	if !autoFailoverEnabled || provider.ID == recordedCurrentID {
		return
	}

	key := appType + "/" + provider.ID
	m.mu.Lock()
	if m.inFlight[key] {
		m.mu.Unlock()
		return
	}
	m.inFlight[key] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.promote(key, appType, provider)
}

// Flush waits for in-flight promotions. Shutdown and tests only.
func (m *Manager) Flush() {
	m.wg.Wait()
}

func (m *Manager) promote(key, appType string, provider models.Provider) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, key)
		m.mu.Unlock()
	}()

	log.Printf("🔄 Auto-failover: promoting %s to current for %s", provider.Name, appType)

	if err := m.store.SetCurrentProvider(appType, provider.ID); err != nil {
		log.Printf("⚠️ Auto-failover: failed to persist current provider for %s: %v", appType, err)
	}
	if err := m.store.SetLiveConfigBackup(appType, provider.SettingsConfig); err != nil {
		log.Printf("⚠️ Auto-failover: failed to refresh live config backup for %s: %v", appType, err)
	}

	m.notifier.Publish(notify.SwitchEvent{
		AppType:      appType,
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		Source:       notify.SourceFailover,
	})
}
