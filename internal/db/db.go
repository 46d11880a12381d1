package db

import (
	"log"

	"github.com/glebarez/sqlite"
	"github.com/keisium/ccrelay/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database shared with the host UI and runs
// migrations for the tables the proxy core owns or reads.
func InitDB(dbPath string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := database.AutoMigrate(
		&models.Provider{},
		&models.ProxyConfig{},
		&models.ModelPricing{},
		&models.RequestLog{},
		&models.ProviderHealth{},
		&models.Config{},
	); err != nil {
		return nil, err
	}

	if err := seedDefaultPricing(database); err != nil {
		log.Printf("⚠️ Failed to seed default pricing: %v", err)
	}

	return database, nil
}

// NewStore wraps an initialized gorm handle.
func NewStore(database *gorm.DB) *Store {
	return &Store{db: database}
}

// Open is the convenience used by main: InitDB + NewStore.
func Open(dbPath string) (*Store, error) {
	database, err := InitDB(dbPath)
	if err != nil {
		return nil, err
	}
	log.Printf("💾 Database ready: %s", dbPath)
	return NewStore(database), nil
}
