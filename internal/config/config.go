// Package config loads the bootstrap file that seeds the relay before the
// database opens: listen address, database path, ambient toggles. Everything
// the host UI edits at runtime lives in the database instead.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the shape of ccrelay.yaml.
type Config struct {
	ListenAddress        string `yaml:"listen_address"`
	ListenPort           int    `yaml:"listen_port"`
	DBPath               string `yaml:"db_path"`
	Verbose              bool   `yaml:"verbose"`
	DesktopNotifications bool   `yaml:"desktop_notifications"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ListenAddress:        "127.0.0.1",
		ListenPort:           10789,
		DBPath:               defaultDBPath(),
		DesktopNotifications: true,
		ShutdownGraceSeconds: 10,
	}
}

// Path resolves the config file location: CCRELAY_CONFIG wins, otherwise
// ccrelay.yaml in the working directory.
func Path() string {
	if explicit := os.Getenv("CCRELAY_CONFIG"); explicit != "" {
		return explicit
	}
	return "ccrelay.yaml"
}

// Load reads the bootstrap config. A `.env` file is loaded first so it can
// feed the env overrides; a missing config file is not an error, defaults
// apply. Env overrides win over file values.
func Load(path string) (Config, error) {
	loadDotEnv()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

// loadDotEnv pulls in the first .env found: working directory, then the
// ccrelay config home.
func loadDotEnv() {
	candidates := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "ccrelay", ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CCRELAY_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("CCRELAY_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = port
		}
	}
	if v := os.Getenv("CCRELAY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if os.Getenv("CCRELAY_VERBOSE") == "1" {
		cfg.Verbose = true
	}
}

// normalize clamps values into workable ranges.
func (c *Config) normalize() {
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1"
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		c.ListenPort = 10789
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath()
	}
	if c.ShutdownGraceSeconds < 1 {
		c.ShutdownGraceSeconds = 10
	}
}

// defaultDBPath places the database under the user config dir, falling back
// to the working directory when no home is available.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ccrelay.db"
	}
	return filepath.Join(home, ".config", "ccrelay", "ccrelay.db")
}

// EnsureDBDir creates the parent directory of the database file.
func EnsureDBDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
