// Package config provides configuration management for codeaudit.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	// DefaultListenPort is the default HTTP port for the auditd service.
	DefaultListenPort = 38800

	// DefaultEmbeddingModel is the model assumed when a caller omits one.
	DefaultEmbeddingModel = "bge-small-v1.5"
)

// DefaultEmbeddingModels maps supported embedding model identifiers to their
// fixed vector dimensions. Stored and query vectors must match the dimension
// declared for their model.
var DefaultEmbeddingModels = map[string]int{
	"bge-small-v1.5":         384,
	"text-embedding-3-small": 1536,
}

// Config holds the application configuration.
type Config struct {
	// HTTP settings
	ListenPort int `json:"listen_port"`

	// Database settings
	DSN      string `json:"dsn"` // PostgreSQL DSN; empty selects sqlite at DBPath
	DBPath   string `json:"db_path"`
	MaxConns int    `json:"max_conns"`

	// Embedding settings
	EmbeddingModels map[string]int `json:"embedding_models"` // model id -> dimension

	// Maintenance settings
	MaintenanceEnabled       bool `json:"maintenance_enabled"`
	MaintenanceIntervalHours int  `json:"maintenance_interval_hours"`
	MaintenanceBudgetMinutes int  `json:"maintenance_budget_minutes"`

	// Retention windows (days). Zero disables the sweep for that table.
	AuditEventRetentionDays int `json:"audit_event_retention_days"`
	AnalysisRetentionDays   int `json:"analysis_retention_days"`  // failed/cancelled runs only
	ViolationRetentionDays  int `json:"violation_retention_days"` // resolved violations only

	// Rollup settings
	RollupKeepGenerations int `json:"rollup_keep_generations"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.codeaudit).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codeaudit")
}

// DBPath returns the sqlite database file path used when no DSN is set.
func DBPath() string {
	return filepath.Join(DataDir(), "codeaudit.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		ListenPort:               DefaultListenPort,
		DBPath:                   DBPath(),
		MaxConns:                 10,
		EmbeddingModels:          DefaultEmbeddingModels,
		MaintenanceEnabled:       true,
		MaintenanceIntervalHours: 6,
		MaintenanceBudgetMinutes: 30,
		AuditEventRetentionDays:  30,
		AnalysisRetentionDays:    90,
		ViolationRetentionDays:   365,
		RollupKeepGenerations:    2,
	}
}

// Load loads configuration from the settings file, merging with defaults.
// Environment variables CODEAUDIT_DSN and CODEAUDIT_PORT take precedence.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if len(data) > 0 {
		var settings map[string]interface{}
		if err := json.Unmarshal(data, &settings); err == nil {
			applySettings(cfg, settings)
		}
	}

	if dsn := os.Getenv("CODEAUDIT_DSN"); dsn != "" {
		cfg.DSN = dsn
	}
	if raw := os.Getenv("CODEAUDIT_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			cfg.ListenPort = port
		}
	}

	return cfg, nil
}

// applySettings maps settings file keys onto the config.
func applySettings(cfg *Config, settings map[string]interface{}) {
	if v, ok := settings["CODEAUDIT_PORT"].(float64); ok && v > 0 {
		cfg.ListenPort = int(v)
	}
	if v, ok := settings["CODEAUDIT_DSN"].(string); ok && v != "" {
		cfg.DSN = v
	}
	if v, ok := settings["CODEAUDIT_DB_PATH"].(string); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := settings["CODEAUDIT_MAX_CONNS"].(float64); ok && v > 0 {
		cfg.MaxConns = int(v)
	}
	if v, ok := settings["CODEAUDIT_MAINTENANCE_ENABLED"].(bool); ok {
		cfg.MaintenanceEnabled = v
	}
	if v, ok := settings["CODEAUDIT_MAINTENANCE_INTERVAL_HOURS"].(float64); ok && v > 0 {
		cfg.MaintenanceIntervalHours = int(v)
	}
	if v, ok := settings["CODEAUDIT_MAINTENANCE_BUDGET_MINUTES"].(float64); ok && v > 0 {
		cfg.MaintenanceBudgetMinutes = int(v)
	}
	if v, ok := settings["CODEAUDIT_AUDIT_EVENT_RETENTION_DAYS"].(float64); ok && v >= 0 {
		cfg.AuditEventRetentionDays = int(v)
	}
	if v, ok := settings["CODEAUDIT_ANALYSIS_RETENTION_DAYS"].(float64); ok && v >= 0 {
		cfg.AnalysisRetentionDays = int(v)
	}
	if v, ok := settings["CODEAUDIT_VIOLATION_RETENTION_DAYS"].(float64); ok && v >= 0 {
		cfg.ViolationRetentionDays = int(v)
	}
	if v, ok := settings["CODEAUDIT_ROLLUP_KEEP_GENERATIONS"].(float64); ok && v > 0 {
		cfg.RollupKeepGenerations = int(v)
	}
	if v, ok := settings["CODEAUDIT_EMBEDDING_MODELS"].(map[string]interface{}); ok && len(v) > 0 {
		modelDims := make(map[string]int, len(v))
		for model, dims := range v {
			if d, ok := dims.(float64); ok && d > 0 {
				modelDims[model] = int(d)
			}
		}
		if len(modelDims) > 0 {
			cfg.EmbeddingModels = modelDims
		}
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Set replaces the global configuration. Intended for tests.
func Set(cfg *Config) {
	configOnce.Do(func() {})
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}

// ModelDimension returns the declared vector dimension for a model id.
func (c *Config) ModelDimension(model string) (int, bool) {
	dims, ok := c.EmbeddingModels[model]
	return dims, ok
}
