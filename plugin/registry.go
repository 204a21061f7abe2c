package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// DefaultHookTimeout bounds how long a single hook may run.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration and cached per
// hook type.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onBalanceChanged        []OnBalanceChanged
	onVIPChanged            []OnVIPChanged
	onLedgerReset           []OnLedgerReset
	onTransactionReconciled []OnTransactionReconciled
	onDuplicateDelivery     []OnDuplicateDelivery
	onUnknownProduct        []OnUnknownProduct
	onPurchaseFailed        []OnPurchaseFailed
	onPurchaseDeferred      []OnPurchaseDeferred
	onRestoreCompleted      []OnRestoreCompleted
	onRestoreFailed         []OnRestoreFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout. Non-positive values are ignored.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)
	r.rebuild()

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// Unregister removes the plugin with the given name. It reports whether a
// plugin was removed. Emissions already in progress may still reach it.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if p.Name() != name {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(r.plugins) {
		return false
	}

	r.plugins = kept
	r.rebuild()

	r.logger.Debug("plugin unregistered", "name", name)
	return true
}

// rebuild recomputes the per-hook caches into fresh slices so that
// snapshots taken by in-flight emissions are never mutated.
func (r *Registry) rebuild() {
	r.onInit = collect[OnInit](r.plugins)
	r.onShutdown = collect[OnShutdown](r.plugins)
	r.onBalanceChanged = collect[OnBalanceChanged](r.plugins)
	r.onVIPChanged = collect[OnVIPChanged](r.plugins)
	r.onLedgerReset = collect[OnLedgerReset](r.plugins)
	r.onTransactionReconciled = collect[OnTransactionReconciled](r.plugins)
	r.onDuplicateDelivery = collect[OnDuplicateDelivery](r.plugins)
	r.onUnknownProduct = collect[OnUnknownProduct](r.plugins)
	r.onPurchaseFailed = collect[OnPurchaseFailed](r.plugins)
	r.onPurchaseDeferred = collect[OnPurchaseDeferred](r.plugins)
	r.onRestoreCompleted = collect[OnRestoreCompleted](r.plugins)
	r.onRestoreFailed = collect[OnRestoreFailed](r.plugins)
}

func collect[T Plugin](plugins []Plugin) []T {
	var out []T
	for _, p := range plugins {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// implementedInterfaces returns the hook names implemented by the plugin.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	check := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	check(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	check(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	check(reflect.TypeOf((*OnBalanceChanged)(nil)).Elem(), "OnBalanceChanged")
	check(reflect.TypeOf((*OnVIPChanged)(nil)).Elem(), "OnVIPChanged")
	check(reflect.TypeOf((*OnLedgerReset)(nil)).Elem(), "OnLedgerReset")
	check(reflect.TypeOf((*OnTransactionReconciled)(nil)).Elem(), "OnTransactionReconciled")
	check(reflect.TypeOf((*OnDuplicateDelivery)(nil)).Elem(), "OnDuplicateDelivery")
	check(reflect.TypeOf((*OnUnknownProduct)(nil)).Elem(), "OnUnknownProduct")
	check(reflect.TypeOf((*OnPurchaseFailed)(nil)).Elem(), "OnPurchaseFailed")
	check(reflect.TypeOf((*OnPurchaseDeferred)(nil)).Elem(), "OnPurchaseDeferred")
	check(reflect.TypeOf((*OnRestoreCompleted)(nil)).Elem(), "OnRestoreCompleted")
	check(reflect.TypeOf((*OnRestoreFailed)(nil)).Elem(), "OnRestoreFailed")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnInit", p.Name(), func() error { return p.OnInit(ctx, engine) })
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnShutdown", p.Name(), func() error { return p.OnShutdown(ctx) })
	}
}

// EmitBalanceChanged notifies balance subscribers.
func (r *Registry) EmitBalanceChanged(ctx context.Context, change BalanceChange) {
	r.mu.RLock()
	plugins := r.onBalanceChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnBalanceChanged", p.Name(), func() error { return p.OnBalanceChanged(ctx, change) })
	}
}

// EmitVIPChanged notifies VIP subscribers.
func (r *Registry) EmitVIPChanged(ctx context.Context, change VIPChange) {
	r.mu.RLock()
	plugins := r.onVIPChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnVIPChanged", p.Name(), func() error { return p.OnVIPChanged(ctx, change) })
	}
}

// EmitLedgerReset notifies plugins that a user's record was destroyed.
func (r *Registry) EmitLedgerReset(ctx context.Context, userID string) {
	r.mu.RLock()
	plugins := r.onLedgerReset
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnLedgerReset", p.Name(), func() error { return p.OnLedgerReset(ctx, userID) })
	}
}

// EmitTransactionReconciled notifies plugins of an applied transaction.
func (r *Registry) EmitTransactionReconciled(ctx context.Context, rec Reconciliation) {
	r.mu.RLock()
	plugins := r.onTransactionReconciled
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnTransactionReconciled", p.Name(), func() error { return p.OnTransactionReconciled(ctx, rec) })
	}
}

// EmitDuplicateDelivery notifies plugins of a redelivered transaction.
func (r *Registry) EmitDuplicateDelivery(ctx context.Context, rec Reconciliation) {
	r.mu.RLock()
	plugins := r.onDuplicateDelivery
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnDuplicateDelivery", p.Name(), func() error { return p.OnDuplicateDelivery(ctx, rec) })
	}
}

// EmitUnknownProduct notifies plugins of a transaction for an unknown product.
func (r *Registry) EmitUnknownProduct(ctx context.Context, rec Reconciliation) {
	r.mu.RLock()
	plugins := r.onUnknownProduct
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnUnknownProduct", p.Name(), func() error { return p.OnUnknownProduct(ctx, rec) })
	}
}

// EmitPurchaseFailed notifies plugins of a store-reported failure.
func (r *Registry) EmitPurchaseFailed(ctx context.Context, rec Reconciliation) {
	r.mu.RLock()
	plugins := r.onPurchaseFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnPurchaseFailed", p.Name(), func() error { return p.OnPurchaseFailed(ctx, rec) })
	}
}

// EmitPurchaseDeferred notifies plugins of a transaction awaiting approval.
func (r *Registry) EmitPurchaseDeferred(ctx context.Context, rec Reconciliation) {
	r.mu.RLock()
	plugins := r.onPurchaseDeferred
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnPurchaseDeferred", p.Name(), func() error { return p.OnPurchaseDeferred(ctx, rec) })
	}
}

// EmitRestoreCompleted notifies plugins that a restore run finished.
func (r *Registry) EmitRestoreCompleted(ctx context.Context, summary RestoreSummary) {
	r.mu.RLock()
	plugins := r.onRestoreCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnRestoreCompleted", p.Name(), func() error { return p.OnRestoreCompleted(ctx, summary) })
	}
}

// EmitRestoreFailed notifies plugins that a restore run failed.
func (r *Registry) EmitRestoreFailed(ctx context.Context, requestID string, restoreErr error) {
	r.mu.RLock()
	plugins := r.onRestoreFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnRestoreFailed", p.Name(), func() error { return p.OnRestoreFailed(ctx, requestID, restoreErr) })
	}
}

func (r *Registry) dispatch(ctx context.Context, hook, pluginName string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never stall reconciliation.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
