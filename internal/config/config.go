// Package config holds runtime settings for the field client. Values are
// resolved defaults-first, then overlaid from an optional JSON file, then
// from command-line flags; later sources win.
package config

import "time"

type Config struct {
	// DatabasePath is the SQLite file holding records, the operation queue
	// and the identifier mapping.
	DatabasePath string
	// RemoteBaseURL is the base URL of the remote record store.
	RemoteBaseURL string
	// ServiceID selects the inspection service whose records sync.
	ServiceID string
	// CatalogPath is an optional JSON file holding the question template
	// catalogue; empty means the session starts with no templates.
	CatalogPath string
	// Category narrows the session to one template category; empty means
	// every category.
	Category string

	// WorkerCount bounds concurrent question-key drains.
	WorkerCount int
	// MaxAttempts caps transient retries before a record goes failed.
	MaxAttempts int
	// DrainInterval is the background queue drain period.
	DrainInterval time.Duration

	// DebounceWindow collapses bursts of invalidation signals.
	DebounceWindow time.Duration
	// CooldownWindow suppresses invalidations that echo a local mutation.
	CooldownWindow time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "fieldsync.db"
	c.RemoteBaseURL = "http://127.0.0.1:8080"
	c.ServiceID = ""
	c.CatalogPath = ""
	c.Category = ""
	c.WorkerCount = 3
	c.MaxAttempts = 5
	c.DrainInterval = 15 * time.Second
	c.DebounceWindow = 250 * time.Millisecond
	c.CooldownWindow = 1500 * time.Millisecond
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
