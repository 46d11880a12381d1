package db

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/keisium/ccrelay/internal/db/models"
	"gorm.io/gorm"
)

// Config keys the proxy core reads and writes.
const (
	keyCurrentProviderPrefix  = "current_provider:"
	keyLiveConfigBackupPrefix = "live_config_backup:"
	keyOutboundProxyURL       = "outbound_proxy_url"
	keyRectifierConfig        = "rectifier_config"
)

// Store is the read/write surface the proxy core uses against the shared
// SQLite database. All methods are safe for concurrent use; gorm serializes
// access to the underlying connection.
type Store struct {
	db *gorm.DB
}

// DB exposes the raw handle for tests and migrations.
func (s *Store) DB() *gorm.DB { return s.db }

// ===== Providers and failover queue =====

// GetAllProviders returns every provider configured for an app type.
func (s *Store) GetAllProviders(appType string) ([]models.Provider, error) {
	var providers []models.Provider
	if err := s.db.Where("app_type = ?", appType).Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("load providers for %s: %w", appType, err)
	}
	return providers, nil
}

// GetProvider looks one provider up by id within an app type.
func (s *Store) GetProvider(appType, providerID string) (*models.Provider, error) {
	var p models.Provider
	err := s.db.Where("app_type = ? AND id = ?", appType, providerID).First(&p).Error
	if err != nil {
		return nil, fmt.Errorf("provider %s/%s: %w", appType, providerID, err)
	}
	return &p, nil
}

// GetCurrentProvider returns the id the UI considers active for an app,
// or empty string when none is set.
func (s *Store) GetCurrentProvider(appType string) string {
	return s.GetConfigValue(keyCurrentProviderPrefix + appType)
}

// SetCurrentProvider promotes a provider to current for an app.
func (s *Store) SetCurrentProvider(appType, providerID string) error {
	return s.SetConfigValue(keyCurrentProviderPrefix+appType, providerID)
}

// GetFailoverQueue returns the ordered failover queue for an app:
// providers flagged in_failover_queue, sorted by sort_index ascending
// with unset indexes last, ties broken by id.
func (s *Store) GetFailoverQueue(appType string) ([]models.FailoverQueueItem, error) {
	var providers []models.Provider
	err := s.db.Where("app_type = ? AND in_failover_queue = ?", appType, true).Find(&providers).Error
	if err != nil {
		return nil, fmt.Errorf("load failover queue for %s: %w", appType, err)
	}

	sort.SliceStable(providers, func(i, j int) bool {
		a, b := providers[i], providers[j]
		switch {
		case a.SortIndex != nil && b.SortIndex != nil && *a.SortIndex != *b.SortIndex:
			return *a.SortIndex < *b.SortIndex
		case a.SortIndex != nil && b.SortIndex == nil:
			return true
		case a.SortIndex == nil && b.SortIndex != nil:
			return false
		default:
			return a.ID < b.ID
		}
	})

	items := make([]models.FailoverQueueItem, 0, len(providers))
	for _, p := range providers {
		items = append(items, models.FailoverQueueItem{
			ProviderID:   p.ID,
			ProviderName: p.Name,
			SortIndex:    p.SortIndex,
		})
	}
	return items, nil
}

// ===== Per-app proxy config =====

// GetProxyConfigForApp returns the app's proxy config, falling back to
// defaults when no row exists. Values are normalized into documented ranges.
func (s *Store) GetProxyConfigForApp(appType string) models.ProxyConfig {
	var cfg models.ProxyConfig
	if err := s.db.Where("app_type = ?", appType).First(&cfg).Error; err != nil {
		cfg = models.DefaultProxyConfig(appType)
	}
	cfg.Normalize()
	return cfg
}

// UpdateProxyConfigForApp upserts the app's proxy config row. Columns are
// written through an explicit map: a struct write would let gorm fill false
// and zero fields from the schema defaults on first insert.
func (s *Store) UpdateProxyConfigForApp(cfg models.ProxyConfig) error {
	cfg.Normalize()
	var existing models.ProxyConfig
	if err := s.db.Where("app_type = ?", cfg.AppType).First(&existing).Error; err != nil {
		if err := s.db.Create(&models.ProxyConfig{AppType: cfg.AppType}).Error; err != nil {
			return fmt.Errorf("create proxy config for %s: %w", cfg.AppType, err)
		}
	}
	return s.db.Model(&models.ProxyConfig{}).Where("app_type = ?", cfg.AppType).Updates(map[string]interface{}{
		"enabled":                      cfg.Enabled,
		"auto_failover_enabled":        cfg.AutoFailoverEnabled,
		"max_retries":                  cfg.MaxRetries,
		"streaming_first_byte_timeout": cfg.StreamingFirstByteTimeout,
		"streaming_idle_timeout":       cfg.StreamingIdleTimeout,
		"non_streaming_timeout":        cfg.NonStreamingTimeout,
		"circuit_failure_threshold":    cfg.CircuitFailureThreshold,
		"circuit_success_threshold":    cfg.CircuitSuccessThreshold,
		"circuit_timeout_seconds":      cfg.CircuitTimeoutSeconds,
		"circuit_error_rate_threshold": cfg.CircuitErrorRateThreshold,
		"circuit_min_requests":         cfg.CircuitMinRequests,
	}).Error
}

// GetCircuitBreakerConfig returns the breaker knobs for an app as a
// standalone view of the proxy config.
func (s *Store) GetCircuitBreakerConfig(appType string) (failureThreshold, successThreshold, timeoutSeconds, minRequests int, errorRate float64) {
	cfg := s.GetProxyConfigForApp(appType)
	return cfg.CircuitFailureThreshold, cfg.CircuitSuccessThreshold,
		cfg.CircuitTimeoutSeconds, cfg.CircuitMinRequests, cfg.CircuitErrorRateThreshold
}

// ===== Rectifier config =====

// GetRectifierConfig reads the rectifier blob, defaulting when absent.
func (s *Store) GetRectifierConfig() models.RectifierConfig {
	raw := s.GetConfigValue(keyRectifierConfig)
	if raw == "" {
		return models.DefaultRectifierConfig()
	}
	var cfg models.RectifierConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		log.Printf("⚠️ Malformed rectifier_config, using defaults: %v", err)
		return models.DefaultRectifierConfig()
	}
	return cfg
}

// SetRectifierConfig persists the rectifier blob.
func (s *Store) SetRectifierConfig(cfg models.RectifierConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.SetConfigValue(keyRectifierConfig, string(raw))
}

// ===== Outbound proxy URL =====

// GetOutboundProxyURL returns the persisted outbound proxy URL, if any.
func (s *Store) GetOutboundProxyURL() string {
	return s.GetConfigValue(keyOutboundProxyURL)
}

// SetOutboundProxyURL persists the outbound proxy URL; empty clears it.
func (s *Store) SetOutboundProxyURL(proxyURL string) error {
	return s.SetConfigValue(keyOutboundProxyURL, proxyURL)
}

// ===== Live config backup =====

// SetLiveConfigBackup stores the settings snapshot that would be restored
// to the CLI's config file if the proxy is stopped.
func (s *Store) SetLiveConfigBackup(appType, settingsJSON string) error {
	return s.SetConfigValue(keyLiveConfigBackupPrefix+appType, settingsJSON)
}

// GetLiveConfigBackup returns the stored snapshot for an app, if any.
func (s *Store) GetLiveConfigBackup(appType string) string {
	return s.GetConfigValue(keyLiveConfigBackupPrefix + appType)
}

// ===== Request logs =====

// SaveRequestLog writes one request log row. Callers run this on a
// background goroutine; an error is returned for tests but callers on the
// hot path only log it.
func (s *Store) SaveRequestLog(entry *models.RequestLog) error {
	if err := s.db.Create(entry).Error; err != nil {
		return fmt.Errorf("save request log: %w", err)
	}
	return nil
}

// GetRequestLogs returns one page of request logs, newest first, with an
// optional app-type filter.
func (s *Store) GetRequestLogs(appType string, page, pageSize int) ([]models.RequestLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}

	query := s.db.Model(&models.RequestLog{})
	if appType != "" {
		query = query.Where("app_type = ?", appType)
	}

	var total int64
	query.Count(&total)

	var logs []models.RequestLog
	offset := (page - 1) * pageSize
	err := query.Order("timestamp DESC").Offset(offset).Limit(pageSize).Find(&logs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("load request logs: %w", err)
	}
	return logs, total, nil
}

// GetRequestStats aggregates success/error counts over the request log.
func (s *Store) GetRequestStats() models.RequestStats {
	var stats models.RequestStats
	s.db.Model(&models.RequestLog{}).Count(&stats.TotalRequests)
	s.db.Model(&models.RequestLog{}).Where("status >= 200 AND status < 400").Count(&stats.SuccessCount)
	stats.ErrorCount = stats.TotalRequests - stats.SuccessCount
	return stats
}

// ===== Provider health =====

// UpdateProviderHealth records the outcome of one forwarding attempt.
// failureThreshold controls when the row flips to unhealthy.
func (s *Store) UpdateProviderHealth(providerID, appType string, success bool, errText string, failureThreshold int) error {
	if failureThreshold < 1 {
		failureThreshold = 1
	}

	var row models.ProviderHealth
	err := s.db.Where("provider_id = ? AND app_type = ?", providerID, appType).First(&row).Error
	if err != nil {
		row = models.ProviderHealth{ProviderID: providerID, AppType: appType, Healthy: true}
	}

	now := time.Now()
	if success {
		row.ConsecutiveFailures = 0
		row.Healthy = true
		row.LastSuccessAt = &now
		row.LastError = ""
	} else {
		row.ConsecutiveFailures++
		row.LastFailureAt = &now
		row.LastError = errText
		if row.ConsecutiveFailures >= failureThreshold {
			row.Healthy = false
		}
	}
	return s.db.Save(&row).Error
}

// GetProviderHealth returns the persisted health row, or nil when none exists.
func (s *Store) GetProviderHealth(providerID, appType string) *models.ProviderHealth {
	var row models.ProviderHealth
	if err := s.db.Where("provider_id = ? AND app_type = ?", providerID, appType).First(&row).Error; err != nil {
		return nil
	}
	return &row
}

// ===== Config KV =====

// GetConfigValue reads one config row, empty string when missing.
func (s *Store) GetConfigValue(key string) string {
	var cfg models.Config
	if err := s.db.Where("key = ?", key).First(&cfg).Error; err != nil {
		return ""
	}
	return cfg.Value
}

// SetConfigValue upserts one config row.
func (s *Store) SetConfigValue(key, value string) error {
	var existing models.Config
	if err := s.db.Where("key = ?", key).First(&existing).Error; err != nil {
		return s.db.Create(&models.Config{Key: key, Value: value}).Error
	}
	return s.db.Model(&models.Config{}).Where("key = ?", key).Update("value", value).Error
}
