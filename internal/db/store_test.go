package db

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite memory db: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := database.AutoMigrate(
		&models.Provider{},
		&models.ProxyConfig{},
		&models.ModelPricing{},
		&models.RequestLog{},
		&models.ProviderHealth{},
		&models.Config{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return NewStore(database)
}

func intPtr(v int) *int { return &v }

func TestFailoverQueueOrdering(t *testing.T) {
	store := newTestStore(t)

	providers := []models.Provider{
		{ID: "p-c", Name: "gamma", AppType: models.AppClaude, InFailoverQueue: true},
		{ID: "p-a", Name: "alpha", AppType: models.AppClaude, InFailoverQueue: true, SortIndex: intPtr(2)},
		{ID: "p-b", Name: "beta", AppType: models.AppClaude, InFailoverQueue: true, SortIndex: intPtr(1)},
		{ID: "p-d", Name: "delta", AppType: models.AppClaude, InFailoverQueue: false},
		{ID: "p-e", Name: "other-app", AppType: models.AppCodex, InFailoverQueue: true, SortIndex: intPtr(0)},
	}
	for i := range providers {
		if err := store.DB().Create(&providers[i]).Error; err != nil {
			t.Fatalf("create provider: %v", err)
		}
	}

	queue, err := store.GetFailoverQueue(models.AppClaude)
	if err != nil {
		t.Fatalf("GetFailoverQueue: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("expected 3 queue items, got %d", len(queue))
	}
	want := []string{"p-b", "p-a", "p-c"}
	for i, id := range want {
		if queue[i].ProviderID != id {
			t.Errorf("queue[%d] = %s, want %s", i, queue[i].ProviderID, id)
		}
	}
}

func TestCurrentProviderRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if got := store.GetCurrentProvider(models.AppClaude); got != "" {
		t.Fatalf("expected empty current provider, got %q", got)
	}
	if err := store.SetCurrentProvider(models.AppClaude, "p-1"); err != nil {
		t.Fatalf("SetCurrentProvider: %v", err)
	}
	if got := store.GetCurrentProvider(models.AppClaude); got != "p-1" {
		t.Fatalf("expected p-1, got %q", got)
	}
	// Overwrite, and check apps stay independent.
	if err := store.SetCurrentProvider(models.AppClaude, "p-2"); err != nil {
		t.Fatalf("SetCurrentProvider overwrite: %v", err)
	}
	if got := store.GetCurrentProvider(models.AppClaude); got != "p-2" {
		t.Fatalf("expected p-2 after overwrite, got %q", got)
	}
	if got := store.GetCurrentProvider(models.AppCodex); got != "" {
		t.Fatalf("expected codex current to stay empty, got %q", got)
	}
}

func TestProxyConfigDefaultsAndNormalize(t *testing.T) {
	store := newTestStore(t)

	cfg := store.GetProxyConfigForApp(models.AppGemini)
	if cfg.AppType != models.AppGemini {
		t.Fatalf("expected app type %s, got %s", models.AppGemini, cfg.AppType)
	}
	if cfg.MaxRetries != 3 || cfg.StreamingFirstByteTimeout != 60 || cfg.StreamingIdleTimeout != 120 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	cfg.CircuitErrorRateThreshold = 7.5
	cfg.CircuitMinRequests = 0
	cfg.StreamingFirstByteTimeout = -1
	if err := store.UpdateProxyConfigForApp(cfg); err != nil {
		t.Fatalf("UpdateProxyConfigForApp: %v", err)
	}

	saved := store.GetProxyConfigForApp(models.AppGemini)
	if saved.CircuitErrorRateThreshold != 0.5 {
		t.Errorf("error rate not clamped: %v", saved.CircuitErrorRateThreshold)
	}
	if saved.CircuitMinRequests < 1 {
		t.Errorf("min requests not clamped: %d", saved.CircuitMinRequests)
	}
	if saved.StreamingFirstByteTimeout < 1 {
		t.Errorf("first byte timeout not clamped: %d", saved.StreamingFirstByteTimeout)
	}
}

func TestProxyConfigZeroValuesPersist(t *testing.T) {
	store := newTestStore(t)

	// First write creates the row; false and zero must survive it.
	cfg := store.GetProxyConfigForApp(models.AppClaude)
	cfg.Enabled = false
	cfg.AutoFailoverEnabled = false
	cfg.MaxRetries = 0
	cfg.StreamingIdleTimeout = 0
	if err := store.UpdateProxyConfigForApp(cfg); err != nil {
		t.Fatalf("UpdateProxyConfigForApp: %v", err)
	}

	saved := store.GetProxyConfigForApp(models.AppClaude)
	if saved.Enabled || saved.AutoFailoverEnabled {
		t.Errorf("disabled flags reverted: %+v", saved)
	}
	if saved.MaxRetries != 0 {
		t.Errorf("max retries = %d, want 0", saved.MaxRetries)
	}
	if saved.StreamingIdleTimeout != 0 {
		t.Errorf("idle timeout = %d, want 0", saved.StreamingIdleTimeout)
	}

	// Second write updates the existing row.
	if err := store.UpdateProxyConfigForApp(saved); err != nil {
		t.Fatalf("UpdateProxyConfigForApp rewrite: %v", err)
	}
	again := store.GetProxyConfigForApp(models.AppClaude)
	if again.Enabled || again.StreamingIdleTimeout != 0 {
		t.Errorf("zero values lost on rewrite: %+v", again)
	}
}

func TestRectifierConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cfg := store.GetRectifierConfig()
	if !cfg.Enabled || !cfg.RequestThinkingBudget || cfg.RequestThinkingSignature {
		t.Fatalf("unexpected rectifier defaults: %+v", cfg)
	}

	cfg.Enabled = false
	cfg.RequestThinkingSignature = true
	if err := store.SetRectifierConfig(cfg); err != nil {
		t.Fatalf("SetRectifierConfig: %v", err)
	}
	saved := store.GetRectifierConfig()
	if saved.Enabled || !saved.RequestThinkingSignature {
		t.Fatalf("rectifier config did not round trip: %+v", saved)
	}
}

func TestRequestLogPagination(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		entry := &models.RequestLog{
			ID:        fmt.Sprintf("log-%d", i),
			Timestamp: base + int64(i),
			AppType:   models.AppClaude,
			Status:    200,
		}
		if err := store.SaveRequestLog(entry); err != nil {
			t.Fatalf("SaveRequestLog: %v", err)
		}
	}
	store.SaveRequestLog(&models.RequestLog{
		ID:        "log-codex",
		Timestamp: base + 100,
		AppType:   models.AppCodex,
		Status:    502,
	})

	logs, total, err := store.GetRequestLogs(models.AppClaude, 1, 2)
	if err != nil {
		t.Fatalf("GetRequestLogs: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(logs) != 2 {
		t.Fatalf("expected page of 2, got %d", len(logs))
	}
	if logs[0].ID != "log-4" || logs[1].ID != "log-3" {
		t.Fatalf("expected newest first, got %s then %s", logs[0].ID, logs[1].ID)
	}

	all, total, err := store.GetRequestLogs("", 1, 100)
	if err != nil {
		t.Fatalf("GetRequestLogs all: %v", err)
	}
	if total != 6 || len(all) != 6 {
		t.Fatalf("expected 6 rows unfiltered, got total=%d len=%d", total, len(all))
	}

	stats := store.GetRequestStats()
	if stats.TotalRequests != 6 || stats.SuccessCount != 5 || stats.ErrorCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestProviderHealthTransitions(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 2; i++ {
		if err := store.UpdateProviderHealth("p-1", models.AppClaude, false, "boom", 3); err != nil {
			t.Fatalf("UpdateProviderHealth: %v", err)
		}
	}
	row := store.GetProviderHealth("p-1", models.AppClaude)
	if row == nil {
		t.Fatal("expected health row")
	}
	if !row.Healthy || row.ConsecutiveFailures != 2 {
		t.Fatalf("expected healthy with 2 failures, got %+v", row)
	}

	if err := store.UpdateProviderHealth("p-1", models.AppClaude, false, "boom", 3); err != nil {
		t.Fatalf("UpdateProviderHealth: %v", err)
	}
	row = store.GetProviderHealth("p-1", models.AppClaude)
	if row.Healthy {
		t.Fatalf("expected unhealthy after threshold, got %+v", row)
	}

	if err := store.UpdateProviderHealth("p-1", models.AppClaude, true, "", 3); err != nil {
		t.Fatalf("UpdateProviderHealth success: %v", err)
	}
	row = store.GetProviderHealth("p-1", models.AppClaude)
	if !row.Healthy || row.ConsecutiveFailures != 0 || row.LastError != "" {
		t.Fatalf("expected reset after success, got %+v", row)
	}
}

func TestProviderHealthFirstFailureCanMarkUnhealthy(t *testing.T) {
	store := newTestStore(t)

	// Threshold 1 flips the row on the very write that creates it.
	if err := store.UpdateProviderHealth("p-2", models.AppClaude, false, "down", 1); err != nil {
		t.Fatalf("UpdateProviderHealth: %v", err)
	}
	row := store.GetProviderHealth("p-2", models.AppClaude)
	if row == nil {
		t.Fatal("expected health row")
	}
	if row.Healthy || row.ConsecutiveFailures != 1 || row.LastError != "down" {
		t.Fatalf("expected unhealthy first row, got %+v", row)
	}
}

func TestModelPricingLookup(t *testing.T) {
	store := newTestStore(t)
	if err := seedDefaultPricing(store.DB()); err != nil {
		t.Fatalf("seedDefaultPricing: %v", err)
	}

	// Exact match.
	row, ok := store.GetModelPricing("claude-sonnet-4-5")
	if !ok {
		t.Fatal("expected pricing for claude-sonnet-4-5")
	}
	if !row.InputPrice.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("unexpected input price: %s", row.InputPrice)
	}

	// Dated id resolves by longest prefix.
	row, ok = store.GetModelPricing("claude-sonnet-4-5-20250929")
	if !ok {
		t.Fatal("expected prefix match for dated model id")
	}
	if row.ModelID != "claude-sonnet-4-5" {
		t.Fatalf("expected claude-sonnet-4-5 family, got %s", row.ModelID)
	}

	if _, ok := store.GetModelPricing("totally-unknown-model"); ok {
		t.Fatal("expected no pricing for unknown model")
	}
	if _, ok := store.GetModelPricing(""); ok {
		t.Fatal("expected no pricing for empty model id")
	}
}

func TestSeedDefaultPricingIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := seedDefaultPricing(store.DB()); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	// Edit a row, reseed, and the edit must survive.
	edited := models.ModelPricing{
		ModelID:    "claude-sonnet-4-5",
		InputPrice: decimal.RequireFromString("9.99"),
		IsActive:   true,
	}
	if err := store.UpsertModelPricing(edited); err != nil {
		t.Fatalf("UpsertModelPricing: %v", err)
	}
	if err := seedDefaultPricing(store.DB()); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	row, ok := store.GetModelPricing("claude-sonnet-4-5")
	if !ok {
		t.Fatal("expected pricing row")
	}
	if !row.InputPrice.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("seed overwrote user edit, input price = %s", row.InputPrice)
	}
}

func TestProviderSettingsDecode(t *testing.T) {
	store := newTestStore(t)

	p := models.Provider{
		ID:      "p-1",
		Name:    "packy",
		AppType: models.AppClaude,
		SettingsConfig: `{"base_url":"https://api.example.com","api_key":"sk-test",` +
			`"oauth":{"access_token":"at","refresh_token":"rt","expires_at":1893456000000}}`,
		Meta: `{"cost_multiplier":"0.1","auth_mode":"bearer"}`,
	}
	if err := store.DB().Create(&p).Error; err != nil {
		t.Fatalf("create provider: %v", err)
	}

	loaded, err := store.GetProvider(models.AppClaude, "p-1")
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	settings := loaded.Settings()
	if settings.BaseURL != "https://api.example.com" || settings.APIKey != "sk-test" {
		t.Fatalf("settings did not decode: %+v", settings)
	}
	if settings.OAuth == nil || settings.OAuth.AccessToken != "at" {
		t.Fatalf("oauth did not decode: %+v", settings.OAuth)
	}
	meta := loaded.DecodedMeta()
	if meta.AuthMode != "bearer" {
		t.Fatalf("meta did not decode: %+v", meta)
	}
	if !loaded.CostMultiplier().Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("cost multiplier = %s, want 0.1", loaded.CostMultiplier())
	}
}

func TestCostMultiplierDefaultsToOne(t *testing.T) {
	p := models.Provider{ID: "p", Meta: `{"cost_multiplier":"not-a-number"}`}
	if !p.CostMultiplier().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("malformed multiplier should default to 1, got %s", p.CostMultiplier())
	}
	empty := models.Provider{ID: "p2"}
	if !empty.CostMultiplier().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("missing multiplier should default to 1, got %s", empty.CostMultiplier())
	}
}
