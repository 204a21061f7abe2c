// Package extension provides the Forge extension adapter for purse.
//
// It implements the forge.Extension interface to integrate the purchase
// engine into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.purse" or "purse" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/purse"
	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/appstore/sim"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/store"
	"github.com/xraph/purse/store/memory"
	"github.com/xraph/purse/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "purse"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "In-app purchase and entitlement reconciliation engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts purse as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *purse.Engine
	store      store.Store
	client     appstore.Client
	catalog    *catalog.Catalog
	engineOpts []purse.Option
}

// New creates a new purse Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying purse engine.
// This is nil until Register is called.
func (e *Extension) Engine() *purse.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// builds the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.build(context.Background()); err != nil {
		return err
	}

	return vessel.Provide(fapp.Container(), func() (*purse.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("purse: extension not initialized")
	}

	if !e.config.DisableAutoStart {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("purse: store not initialized")
	}
	return e.store.Ping(ctx)
}

// build resolves the catalog, store and client from the resolved config
// and constructs the engine.
func (e *Extension) build(ctx context.Context) error {
	if e.catalog == nil {
		e.catalog = catalog.Default()
		if e.config.CatalogFile != "" {
			c, err := catalog.LoadFile(e.config.CatalogFile)
			if err != nil {
				return fmt.Errorf("purse: load catalog: %w", err)
			}
			e.catalog = c
		}
	}

	if e.store == nil {
		if e.config.DataDir != "" {
			st, err := sqlite.Open(ctx, e.config.DataDir)
			if err != nil {
				return fmt.Errorf("purse: open store: %w", err)
			}
			e.store = st
		} else {
			e.store = memory.New()
		}
	}

	if e.client == nil {
		e.client = sim.New(sim.FromCatalog(e.catalog))
	}

	opts, err := e.buildEngineOpts()
	if err != nil {
		return err
	}

	e.engine = purse.New(e.store, e.client, opts...)
	return nil
}

// buildEngineOpts constructs purse.Option values from the resolved config.
func (e *Extension) buildEngineOpts() ([]purse.Option, error) {
	opts := make([]purse.Option, 0, len(e.engineOpts)+4)

	opts = append(opts, purse.WithCatalog(e.catalog))

	if e.config.UserID != "" {
		userID, err := id.ParseUserID(e.config.UserID)
		if err != nil {
			return nil, fmt.Errorf("purse: invalid user_id: %w", err)
		}
		opts = append(opts, purse.WithUserID(userID))
	}

	opts = append(opts, purse.WithStartingBalance(e.config.MinStartingBalance, e.config.MaxStartingBalance))

	if e.config.HookTimeout > 0 {
		opts = append(opts, purse.WithHookTimeout(e.config.HookTimeout))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("purse: configuration is required but not found in config files; " +
				"ensure 'extensions.purse' or 'purse' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("purse: configuration loaded",
		forge.F("disable_auto_start", e.config.DisableAutoStart),
		forge.F("data_dir", e.config.DataDir),
		forge.F("catalog_file", e.config.CatalogFile),
		forge.F("min_starting_balance", e.config.MinStartingBalance),
		forge.F("max_starting_balance", e.config.MaxStartingBalance),
		forge.F("hook_timeout", e.config.HookTimeout),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.purse", "purse"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("purse: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("purse: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MinStartingBalance == 0 && cfg.MaxStartingBalance == 0 {
		cfg.MinStartingBalance = defaults.MinStartingBalance
		cfg.MaxStartingBalance = defaults.MaxStartingBalance
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableAutoStart {
		yamlConfig.DisableAutoStart = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.UserID == "" {
		yamlConfig.UserID = programmaticConfig.UserID
	}
	if yamlConfig.DataDir == "" {
		yamlConfig.DataDir = programmaticConfig.DataDir
	}
	if yamlConfig.CatalogFile == "" {
		yamlConfig.CatalogFile = programmaticConfig.CatalogFile
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.MinStartingBalance == 0 && yamlConfig.MaxStartingBalance == 0 {
		yamlConfig.MinStartingBalance = programmaticConfig.MinStartingBalance
		yamlConfig.MaxStartingBalance = programmaticConfig.MaxStartingBalance
	}
	if yamlConfig.HookTimeout == 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
