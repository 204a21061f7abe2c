package extension

import "time"

// Config holds the purse extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.purse" or "purse" keys).
type Config struct {
	// DisableAutoStart leaves the engine stopped when the app starts. The
	// host then calls Engine().Start itself, typically after login.
	DisableAutoStart bool `json:"disable_auto_start" mapstructure:"disable_auto_start" yaml:"disable_auto_start"`

	// UserID is the local user id ("usr_..."). When empty the engine
	// generates one on first start.
	UserID string `json:"user_id" mapstructure:"user_id" yaml:"user_id"`

	// DataDir selects the SQLite store (DataDir/purse.db) when no store
	// was set programmatically. Empty means the in-memory store.
	DataDir string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`

	// CatalogFile is a YAML product table replacing the default catalog.
	CatalogFile string `json:"catalog_file" mapstructure:"catalog_file" yaml:"catalog_file"`

	// MinStartingBalance and MaxStartingBalance bound the coins granted to a
	// new user (default: 10 and 30).
	MinStartingBalance int64 `json:"min_starting_balance" mapstructure:"min_starting_balance" yaml:"min_starting_balance"`
	MaxStartingBalance int64 `json:"max_starting_balance" mapstructure:"max_starting_balance" yaml:"max_starting_balance"`

	// HookTimeout bounds a single plugin hook (default: 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinStartingBalance: 10,
		MaxStartingBalance: 30,
		HookTimeout:        5 * time.Second,
	}
}
