package extension

import (
	"time"

	"github.com/xraph/purse"
	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/plugin"
	"github.com/xraph/purse/store"
)

// Option configures the purse Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithClient sets the app store client. Without it the extension uses the
// simulated store seeded from the catalog.
func WithClient(c appstore.Client) Option {
	return func(e *Extension) {
		e.client = c
	}
}

// WithCatalog replaces the default product catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Extension) {
		e.catalog = c
	}
}

// WithEngineOption passes a purse.Option through to the underlying engine.
func WithEngineOption(opt purse.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a purse plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, purse.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableAutoStart leaves the engine stopped on app start.
func WithDisableAutoStart() Option {
	return func(e *Extension) { e.config.DisableAutoStart = true }
}

// WithUserID sets the local user id.
func WithUserID(userID string) Option {
	return func(e *Extension) { e.config.UserID = userID }
}

// WithDataDir persists entitlements in a SQLite database under dir.
func WithDataDir(dir string) Option {
	return func(e *Extension) { e.config.DataDir = dir }
}

// WithCatalogFile loads the product table from a YAML file.
func WithCatalogFile(path string) Option {
	return func(e *Extension) { e.config.CatalogFile = path }
}

// WithStartingBalance sets the range new users' balances are drawn from.
func WithStartingBalance(minCoins, maxCoins int64) Option {
	return func(e *Extension) {
		e.config.MinStartingBalance = minCoins
		e.config.MaxStartingBalance = maxCoins
	}
}

// WithHookTimeout bounds a single plugin hook.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
