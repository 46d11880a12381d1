// Package monitor turns finished requests into durable log rows and keeps
// the in-memory counters the /status endpoint reports. Persisting runs off
// the request path so logging can never delay or fail a client response.
package monitor

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keisium/ccrelay/internal/db"
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/keisium/ccrelay/internal/proxy/protocol"
	"github.com/keisium/ccrelay/internal/proxy/usage"
)

// Entry is everything known about one completed request.
type Entry struct {
	Session  *protocol.Session
	Status   int
	Usage    usage.TokenUsage
	Provider *models.Provider // nil when no provider was ever reached
	Err      error
}

// Monitor owns the request-log pipeline and the live counters.
type Monitor struct {
	store *db.Store

	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64

	lastMu      sync.RWMutex
	lastError   string
	lastErrorAt time.Time

	wg sync.WaitGroup
}

// Stats is the counter snapshot served by /status.
type Stats struct {
	TotalRequests int64     `json:"total_requests"`
	SuccessCount  int64     `json:"success_count"`
	ErrorCount    int64     `json:"error_count"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
}

// New builds a monitor and primes the counters from rows already on disk,
// so restart does not zero the status page.
func New(store *db.Store) *Monitor {
	m := &Monitor{store: store}

	stats := store.GetRequestStats()
	m.totalRequests.Store(stats.TotalRequests)
	m.successCount.Store(stats.SuccessCount)
	m.errorCount.Store(stats.ErrorCount)
	log.Printf("📊 Request log: total=%d success=%d errors=%d", stats.TotalRequests, stats.SuccessCount, stats.ErrorCount)

	return m
}

// Record captures one finished request. Counters update immediately; cost
// computation and the database write happen on a background goroutine.
func (m *Monitor) Record(e Entry) {
	m.totalRequests.Add(1)
	if e.Status >= 200 && e.Status < 400 {
		m.successCount.Add(1)
	} else {
		m.errorCount.Add(1)
		if e.Err != nil {
			m.lastMu.Lock()
			m.lastError = e.Err.Error()
			m.lastErrorAt = time.Now()
			m.lastMu.Unlock()
		}
	}

	m.wg.Add(1)
	go m.persist(e)
}

// Stats returns the current counter snapshot.
func (m *Monitor) Stats() Stats {
	m.lastMu.RLock()
	lastError, lastErrorAt := m.lastError, m.lastErrorAt
	m.lastMu.RUnlock()

	return Stats{
		TotalRequests: m.totalRequests.Load(),
		SuccessCount:  m.successCount.Load(),
		ErrorCount:    m.errorCount.Load(),
		LastError:     lastError,
		LastErrorAt:   lastErrorAt,
	}
}

// Flush blocks until every queued log write has finished. Shutdown and
// tests use it; the request path never does.
func (m *Monitor) Flush() {
	m.wg.Wait()
}

func (m *Monitor) persist(e Entry) {
	defer m.wg.Done()

	row := models.RequestLog{
		ID:                  e.Session.ID,
		Timestamp:           e.Session.StartTime.UnixMilli(),
		AppType:             e.Session.AppType,
		RequestModel:        e.Session.Model,
		MappedModel:         e.Session.MappedModel,
		ClientFormat:        string(e.Session.Format),
		IsStream:            e.Session.IsStreaming,
		DurationMS:          e.Session.LatencyMS(),
		Status:              e.Status,
		InputTokens:         e.Usage.InputTokens,
		OutputTokens:        e.Usage.OutputTokens,
		CacheReadTokens:     e.Usage.CacheReadTokens,
		CacheCreationTokens: e.Usage.CacheCreationTokens,
	}
	if e.Provider != nil {
		row.ProviderID = e.Provider.ID
		row.ProviderName = e.Provider.Name
	}
	if e.Err != nil {
		row.Error = e.Err.Error()
	}

	if pricing, ok := m.store.GetModelPricing(m.pricingModel(e)); ok {
		breakdown := usage.ComputeCost(e.Usage, pricing, m.multiplier(e))
		if breakdown != nil {
			row.CostTotal = breakdown.TotalCost.String()
			if raw, err := json.Marshal(breakdown); err == nil {
				row.CostBreakdown = string(raw)
			}
		}
	}

	if err := m.store.SaveRequestLog(&row); err != nil {
		log.Printf("⚠️ Failed to save request log %s: %v", row.ID, err)
	}
}

// pricingModel resolves which model id prices this request: the model the
// upstream reported, unless the provider pins pricing to the request side
// or the response never named one.
func (m *Monitor) pricingModel(e Entry) string {
	requestModel := e.Session.Model
	if e.Session.MappedModel != "" {
		requestModel = e.Session.MappedModel
	}

	if e.Provider != nil && e.Provider.DecodedMeta().PricingModelSource == "request" {
		return requestModel
	}
	if e.Usage.Model != "" {
		return e.Usage.Model
	}
	return requestModel
}

func (m *Monitor) multiplier(e Entry) decimal.Decimal {
	if e.Provider == nil {
		return decimal.NewFromInt(1)
	}
	return e.Provider.CostMultiplier()
}
