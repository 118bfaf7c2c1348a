package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/mkarpova/fieldsync/internal/flagx"
	"github.com/mkarpova/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations can
// be given either as strings like "250ms" or as integer nanoseconds.
type JsonConfig struct {
	DatabasePath   string         `json:"database_path"`
	RemoteBaseURL  string         `json:"remote_base_url"`
	ServiceID      string         `json:"service_id"`
	CatalogPath    string         `json:"catalog_path"`
	Category       string         `json:"category"`
	WorkerCount    int            `json:"worker_count"`
	MaxAttempts    int            `json:"max_attempts"`
	DrainInterval  timex.Duration `json:"drain_interval"`
	DebounceWindow timex.Duration `json:"debounce_window"`
	CooldownWindow timex.Duration `json:"cooldown_window"`
}

// parseJson overlays cfg with values from the JSON file named by the -c or
// -config flag. Missing file flag means no overlay. Read or unmarshal errors
// panic; the process cannot run on a half-applied configuration.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.RemoteBaseURL != "" {
		cfg.RemoteBaseURL = jc.RemoteBaseURL
	}
	if jc.ServiceID != "" {
		cfg.ServiceID = jc.ServiceID
	}
	if jc.CatalogPath != "" {
		cfg.CatalogPath = jc.CatalogPath
	}
	if jc.Category != "" {
		cfg.Category = jc.Category
	}
	if jc.WorkerCount > 0 {
		cfg.WorkerCount = jc.WorkerCount
	}
	if jc.MaxAttempts > 0 {
		cfg.MaxAttempts = jc.MaxAttempts
	}
	if jc.DrainInterval.Duration > 0 {
		cfg.DrainInterval = time.Duration(jc.DrainInterval.Duration)
	}
	if jc.DebounceWindow.Duration > 0 {
		cfg.DebounceWindow = time.Duration(jc.DebounceWindow.Duration)
	}
	if jc.CooldownWindow.Duration > 0 {
		cfg.CooldownWindow = time.Duration(jc.CooldownWindow.Duration)
	}
}
