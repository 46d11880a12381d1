// Package selector builds the ordered failover chain for one app and feeds
// request outcomes back into the breakers and the persistent health rows.
package selector

import (
	"fmt"
	"log"

	"github.com/keisium/ccrelay/internal/breaker"
	"github.com/keisium/ccrelay/internal/db"
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/keisium/ccrelay/internal/proxy/relayerr"
)

// Selector resolves which providers a request may try, in order.
type Selector struct {
	store    *db.Store
	breakers *breaker.Registry
}

func New(store *db.Store, breakers *breaker.Registry) *Selector {
	return &Selector{store: store, breakers: breakers}
}

// SelectProviders returns the failover chain for an app: the current
// provider first when set and available, then the failover queue in order,
// skipping anything already included or whose breaker is open. Availability
// is checked with IsAvailable, which never consumes a half-open probe slot;
// admission happens later in the forwarder.
func (s *Selector) SelectProviders(appType string) ([]models.Provider, error) {
	all, err := s.store.GetAllProviders(appType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relayerr.ErrDatabase, err)
	}
	if len(all) == 0 {
		return nil, relayerr.ErrNoProvidersConfigured
	}

	byID := make(map[string]models.Provider, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}

	var (
		chain   []models.Provider
		sawOpen bool
	)
	included := make(map[string]bool)

	consider := func(providerID string) {
		if providerID == "" || included[providerID] {
			return
		}
		p, ok := byID[providerID]
		if !ok {
			return
		}
		br := s.breakers.Get(appType, providerID)
		if !br.IsAvailable() {
			sawOpen = true
			return
		}
		chain = append(chain, p)
		included[providerID] = true
	}

	consider(s.store.GetCurrentProvider(appType))

	queue, err := s.store.GetFailoverQueue(appType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relayerr.ErrDatabase, err)
	}
	for _, item := range queue {
		consider(item.ProviderID)
	}

	if len(chain) == 0 {
		if sawOpen {
			return nil, relayerr.ErrAllProvidersCircuitOpen
		}
		return nil, relayerr.ErrNoAvailableProvider
	}
	return chain, nil
}

// RecordResult feeds one request outcome into the provider's breaker and
// its persistent health row. Store failures are logged, never raised: the
// client response has already been decided by the time this runs.
func (s *Selector) RecordResult(appType, providerID string, success bool, cause error) {
	br := s.breakers.Get(appType, providerID)
	errText := ""
	if success {
		br.RecordSuccess()
	} else {
		if cause != nil {
			errText = cause.Error()
		}
		br.RecordFailure(errText)
	}

	threshold := s.breakers.ConfigFor(appType).FailureThreshold
	if err := s.store.UpdateProviderHealth(providerID, appType, success, errText, threshold); err != nil {
		log.Printf("⚠️ Failed to persist health for %s/%s: %v", appType, providerID, err)
	}
}
