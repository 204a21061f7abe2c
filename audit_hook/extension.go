// Package audithook bridges purse entitlement and purchase events to an
// audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/purse/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnBalanceChanged        = (*Extension)(nil)
	_ plugin.OnVIPChanged            = (*Extension)(nil)
	_ plugin.OnLedgerReset           = (*Extension)(nil)
	_ plugin.OnTransactionReconciled = (*Extension)(nil)
	_ plugin.OnDuplicateDelivery     = (*Extension)(nil)
	_ plugin.OnUnknownProduct        = (*Extension)(nil)
	_ plugin.OnPurchaseFailed        = (*Extension)(nil)
	_ plugin.OnPurchaseDeferred      = (*Extension)(nil)
	_ plugin.OnRestoreCompleted      = (*Extension)(nil)
	_ plugin.OnRestoreFailed         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly. Callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges purse events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnBalanceChanged implements plugin.OnBalanceChanged.
func (e *Extension) OnBalanceChanged(ctx context.Context, c plugin.BalanceChange) error {
	action := ActionCoinsCredited
	if c.Delta() < 0 {
		action = ActionCoinsDebited
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceBalance, c.UserID, CategoryEntitlement, nil,
		"before", c.Before,
		"after", c.After,
		"reason", c.Reason,
		"transaction_id", c.TransactionID,
	)
}

// OnVIPChanged implements plugin.OnVIPChanged.
func (e *Extension) OnVIPChanged(ctx context.Context, c plugin.VIPChange) error {
	kv := []any{
		"days", c.Days,
		"expires_at", c.After,
		"reason", c.Reason,
		"transaction_id", c.TransactionID,
	}
	if c.Before != nil {
		kv = append(kv, "previous_expiry", *c.Before)
	}
	return e.record(ctx, ActionVIPExtended, SeverityInfo, OutcomeSuccess,
		ResourceVIP, c.UserID, CategoryEntitlement, nil,
		kv...,
	)
}

// OnLedgerReset implements plugin.OnLedgerReset.
func (e *Extension) OnLedgerReset(ctx context.Context, userID string) error {
	return e.record(ctx, ActionLedgerReset, SeverityWarning, OutcomeSuccess,
		ResourceUser, userID, CategoryAccount, nil,
		"user_id", userID,
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnTransactionReconciled implements plugin.OnTransactionReconciled.
func (e *Extension) OnTransactionReconciled(ctx context.Context, rec plugin.Reconciliation) error {
	return e.recordTransaction(ctx, ActionTransactionApplied, SeverityInfo, OutcomeSuccess, rec, nil)
}

// OnDuplicateDelivery implements plugin.OnDuplicateDelivery.
func (e *Extension) OnDuplicateDelivery(ctx context.Context, rec plugin.Reconciliation) error {
	return e.recordTransaction(ctx, ActionDuplicateDelivery, SeverityInfo, OutcomeSuccess, rec, nil)
}

// OnUnknownProduct implements plugin.OnUnknownProduct.
func (e *Extension) OnUnknownProduct(ctx context.Context, rec plugin.Reconciliation) error {
	return e.recordTransaction(ctx, ActionUnknownProduct, SeverityError, OutcomeFailure, rec,
		fmt.Errorf("product %q is not in the catalog", rec.ProductID))
}

// OnPurchaseFailed implements plugin.OnPurchaseFailed.
func (e *Extension) OnPurchaseFailed(ctx context.Context, rec plugin.Reconciliation) error {
	var err error
	if rec.FailureMessage != "" {
		err = fmt.Errorf("%s: %s", rec.FailureCode, rec.FailureMessage)
	}
	return e.recordTransaction(ctx, ActionPurchaseFailed, SeverityWarning, OutcomeFailure, rec, err)
}

// OnPurchaseDeferred implements plugin.OnPurchaseDeferred.
func (e *Extension) OnPurchaseDeferred(ctx context.Context, rec plugin.Reconciliation) error {
	return e.recordTransaction(ctx, ActionPurchaseDeferred, SeverityInfo, OutcomePending, rec, nil)
}

// ──────────────────────────────────────────────────
// Restore hooks
// ──────────────────────────────────────────────────

// OnRestoreCompleted implements plugin.OnRestoreCompleted.
func (e *Extension) OnRestoreCompleted(ctx context.Context, s plugin.RestoreSummary) error {
	return e.record(ctx, ActionRestoreCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRestore, s.RequestID, CategoryPurchase, nil,
		"redelivered", s.Redelivered,
		"applied", s.Applied,
		"duplicates", s.Duplicates,
		"rejected", s.Rejected,
		"elapsed_ms", s.Elapsed.Milliseconds(),
	)
}

// OnRestoreFailed implements plugin.OnRestoreFailed.
func (e *Extension) OnRestoreFailed(ctx context.Context, requestID string, err error) error {
	return e.record(ctx, ActionRestoreFailed, SeverityWarning, OutcomeFailure,
		ResourceRestore, requestID, CategoryPurchase, err,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// recordTransaction records a reconciliation event keyed by transaction id.
func (e *Extension) recordTransaction(ctx context.Context, action, severity, outcome string, rec plugin.Reconciliation, err error) error {
	return e.record(ctx, action, severity, outcome,
		ResourceTransaction, rec.TransactionID, CategoryPurchase, err,
		"product_id", rec.ProductID,
		"state", rec.State,
		"disposition", rec.Disposition,
		"request_id", rec.RequestID,
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
