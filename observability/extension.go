// Package observability provides a metrics extension for purse that records
// entitlement and reconciliation event counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/purse/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnBalanceChanged        = (*MetricsExtension)(nil)
	_ plugin.OnVIPChanged            = (*MetricsExtension)(nil)
	_ plugin.OnLedgerReset           = (*MetricsExtension)(nil)
	_ plugin.OnTransactionReconciled = (*MetricsExtension)(nil)
	_ plugin.OnDuplicateDelivery     = (*MetricsExtension)(nil)
	_ plugin.OnUnknownProduct        = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseFailed        = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseDeferred      = (*MetricsExtension)(nil)
	_ plugin.OnRestoreCompleted      = (*MetricsExtension)(nil)
	_ plugin.OnRestoreFailed         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records purchase and entitlement metrics.
// Register it as a purse plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	CoinsCredited   Counter
	CoinsDebited    Counter
	BalanceChanges  Counter
	VIPExtensions   Counter
	VIPDaysGranted  Counter
	LedgerResets    Counter
	BalanceAfterTxn Histogram

	// Reconciliation metrics
	TransactionsApplied Counter
	DuplicateDeliveries Counter
	UnknownProducts     Counter
	PurchasesFailed     Counter
	PurchasesDeferred   Counter

	// Restore metrics
	RestoresCompleted  Counter
	RestoresFailed     Counter
	RestoreRedelivered Histogram
	RestoreLatency     Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions or NewPrometheusFactory elsewhere.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		CoinsCredited:   factory.Counter("purse.ledger.coins.credited"),
		CoinsDebited:    factory.Counter("purse.ledger.coins.debited"),
		BalanceChanges:  factory.Counter("purse.ledger.balance.changes"),
		VIPExtensions:   factory.Counter("purse.ledger.vip.extensions"),
		VIPDaysGranted:  factory.Counter("purse.ledger.vip.days_granted"),
		LedgerResets:    factory.Counter("purse.ledger.resets"),
		BalanceAfterTxn: factory.Histogram("purse.ledger.balance.after_purchase"),

		TransactionsApplied: factory.Counter("purse.reconcile.applied"),
		DuplicateDeliveries: factory.Counter("purse.reconcile.duplicates"),
		UnknownProducts:     factory.Counter("purse.reconcile.unknown_products"),
		PurchasesFailed:     factory.Counter("purse.purchase.failed"),
		PurchasesDeferred:   factory.Counter("purse.purchase.deferred"),

		RestoresCompleted:  factory.Counter("purse.restore.completed"),
		RestoresFailed:     factory.Counter("purse.restore.failed"),
		RestoreRedelivered: factory.Histogram("purse.restore.redelivered"),
		RestoreLatency:     factory.Histogram("purse.restore.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnBalanceChanged implements plugin.OnBalanceChanged.
func (m *MetricsExtension) OnBalanceChanged(_ context.Context, change plugin.BalanceChange) error {
	m.BalanceChanges.Inc()
	switch d := change.Delta(); {
	case d > 0:
		m.CoinsCredited.Add(float64(d))
	case d < 0:
		m.CoinsDebited.Add(float64(-d))
	}
	if change.TransactionID != "" {
		m.BalanceAfterTxn.Observe(float64(change.After))
	}
	return nil
}

// OnVIPChanged implements plugin.OnVIPChanged.
func (m *MetricsExtension) OnVIPChanged(_ context.Context, change plugin.VIPChange) error {
	m.VIPExtensions.Inc()
	m.VIPDaysGranted.Add(float64(change.Days))
	return nil
}

// OnLedgerReset implements plugin.OnLedgerReset.
func (m *MetricsExtension) OnLedgerReset(_ context.Context, _ string) error {
	m.LedgerResets.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTransactionReconciled implements plugin.OnTransactionReconciled.
func (m *MetricsExtension) OnTransactionReconciled(_ context.Context, _ plugin.Reconciliation) error {
	m.TransactionsApplied.Inc()
	return nil
}

// OnDuplicateDelivery implements plugin.OnDuplicateDelivery.
func (m *MetricsExtension) OnDuplicateDelivery(_ context.Context, _ plugin.Reconciliation) error {
	m.DuplicateDeliveries.Inc()
	return nil
}

// OnUnknownProduct implements plugin.OnUnknownProduct.
func (m *MetricsExtension) OnUnknownProduct(_ context.Context, _ plugin.Reconciliation) error {
	m.UnknownProducts.Inc()
	return nil
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed.
func (m *MetricsExtension) OnPurchaseFailed(_ context.Context, _ plugin.Reconciliation) error {
	m.PurchasesFailed.Inc()
	return nil
}

// OnPurchaseDeferred implements plugin.OnPurchaseDeferred.
func (m *MetricsExtension) OnPurchaseDeferred(_ context.Context, _ plugin.Reconciliation) error {
	m.PurchasesDeferred.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Restore hooks
// ──────────────────────────────────────────────────

// OnRestoreCompleted implements plugin.OnRestoreCompleted.
func (m *MetricsExtension) OnRestoreCompleted(_ context.Context, summary plugin.RestoreSummary) error {
	m.RestoresCompleted.Inc()
	m.RestoreRedelivered.Observe(float64(summary.Redelivered))
	m.RestoreLatency.Observe(float64(summary.Elapsed / time.Millisecond))
	return nil
}

// OnRestoreFailed implements plugin.OnRestoreFailed.
func (m *MetricsExtension) OnRestoreFailed(_ context.Context, _ string, _ error) error {
	m.RestoresFailed.Inc()
	return nil
}
