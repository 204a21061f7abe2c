// Package plugin provides the observer system of purse.
// Plugins implement any subset of the hook interfaces below and are
// dispatched to by type after registration.
package plugin

import "context"

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Entitlement hooks
// ──────────────────────────────────────────────────

// OnBalanceChanged is called after a coin balance mutation is persisted.
type OnBalanceChanged interface {
	Plugin
	OnBalanceChanged(ctx context.Context, change BalanceChange) error
}

// OnVIPChanged is called after the VIP window is extended and persisted.
type OnVIPChanged interface {
	Plugin
	OnVIPChanged(ctx context.Context, change VIPChange) error
}

// OnLedgerReset is called after a user's entitlement record is destroyed.
type OnLedgerReset interface {
	Plugin
	OnLedgerReset(ctx context.Context, userID string) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTransactionReconciled is called when a purchased or restored
// transaction has been applied and finalized.
type OnTransactionReconciled interface {
	Plugin
	OnTransactionReconciled(ctx context.Context, rec Reconciliation) error
}

// OnDuplicateDelivery is called when the store redelivers a transaction
// that was already applied.
type OnDuplicateDelivery interface {
	Plugin
	OnDuplicateDelivery(ctx context.Context, rec Reconciliation) error
}

// OnUnknownProduct is called when a transaction names a product that the
// catalog does not contain.
type OnUnknownProduct interface {
	Plugin
	OnUnknownProduct(ctx context.Context, rec Reconciliation) error
}

// OnPurchaseFailed is called when the store reports a failed transaction.
type OnPurchaseFailed interface {
	Plugin
	OnPurchaseFailed(ctx context.Context, rec Reconciliation) error
}

// OnPurchaseDeferred is called when a transaction awaits external approval.
type OnPurchaseDeferred interface {
	Plugin
	OnPurchaseDeferred(ctx context.Context, rec Reconciliation) error
}

// ──────────────────────────────────────────────────
// Restore hooks
// ──────────────────────────────────────────────────

// OnRestoreCompleted is called when the store signals the end of a restore run.
type OnRestoreCompleted interface {
	Plugin
	OnRestoreCompleted(ctx context.Context, summary RestoreSummary) error
}

// OnRestoreFailed is called when a restore run fails.
type OnRestoreFailed interface {
	Plugin
	OnRestoreFailed(ctx context.Context, requestID string, err error) error
}
