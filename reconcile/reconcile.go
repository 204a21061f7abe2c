// Package reconcile maps store transactions onto entitlement mutations.
//
// Each purchased or restored transaction yields at most one ledger grant,
// keyed by its idempotency key, and is finished with the store only after
// the grant is persisted. Failed transactions are finished without a
// mutation; deferred ones are left for the store to resolve.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/ledger"
	"github.com/xraph/purse/plugin"
)

// ErrPurchaseFailed wraps the *appstore.StoreError of a failed transaction.
var ErrPurchaseFailed = errors.New("purse: purchase failed")

// ErrUnknownState is reported for transaction states the reconciler does
// not handle.
var ErrUnknownState = errors.New("purse: unknown transaction state")

// Disposition is how a transaction was handled.
type Disposition string

const (
	// Applied: the entitlement was granted and the transaction finished.
	Applied Disposition = "applied"
	// Duplicate: the transaction key was already applied; finished only.
	Duplicate Disposition = "duplicate"
	// Rejected: the product is not in the catalog; finished only.
	Rejected Disposition = "rejected"
	// Failed: the store failed the transaction; finished only.
	Failed Disposition = "failed"
	// Deferred: awaiting outside approval; not finished.
	Deferred Disposition = "deferred"
	// InFlight: the store is still processing; nothing to do.
	InFlight Disposition = "in_flight"
	// Error: the grant could not be persisted; not finished so that the
	// store delivers it again.
	Error Disposition = "error"
)

// IsResolved reports whether the transaction reached an outcome the
// requester can be told about.
func (d Disposition) IsResolved() bool { return d != InFlight }

// Result describes the handling of one transaction.
type Result struct {
	Transaction appstore.Transaction
	Disposition Disposition
	Product     *catalog.Product
	Receipt     *entitlement.Receipt
	Finished    bool
	Err         error
}

// Catalog is the product lookup used by the reconciler.
type Catalog interface {
	Describe(productID string) (catalog.Product, error)
}

// Ledger is the entitlement writer used by the reconciler.
type Ledger interface {
	Grant(ctx context.Context, g ledger.Grant) (*entitlement.Receipt, error)
}

// Reconciler handles store transactions. It is safe for concurrent use;
// the ledger serializes the mutations.
type Reconciler struct {
	catalog  Catalog
	ledger   Ledger
	finisher appstore.Finisher
	plugins  *plugin.Registry
	logger   *slog.Logger

	handlers map[appstore.TransactionState]func(context.Context, *Result)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithPlugins sets the registry that receives reconciliation events.
func WithPlugins(reg *plugin.Registry) Option {
	return func(r *Reconciler) { r.plugins = reg }
}

// New creates a Reconciler.
func New(c Catalog, l Ledger, f appstore.Finisher, opts ...Option) *Reconciler {
	r := &Reconciler{
		catalog:  c,
		ledger:   l,
		finisher: f,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.handlers = map[appstore.TransactionState]func(context.Context, *Result){
		appstore.StatePurchasing: r.inFlight,
		appstore.StateDeferred:   r.deferred,
		appstore.StateFailed:     r.failed,
		appstore.StatePurchased:  r.grant,
		appstore.StateRestored:   r.grant,
	}
	return r
}

// Reconcile handles one transaction. It never panics on store input and
// always returns a Result; Result.Err carries failures.
func (r *Reconciler) Reconcile(ctx context.Context, txn appstore.Transaction) *Result {
	res := &Result{Transaction: txn}

	handle, ok := r.handlers[txn.State]
	if !ok {
		res.Disposition = Error
		res.Err = fmt.Errorf("%w: %q", ErrUnknownState, txn.State)
		r.logger.Error("unhandled transaction state",
			"transaction_id", txn.ID,
			"state", string(txn.State),
		)
		return res
	}

	handle(ctx, res)
	return res
}

// ReconcileAll handles txns in order.
func (r *Reconciler) ReconcileAll(ctx context.Context, txns []appstore.Transaction) []*Result {
	results := make([]*Result, 0, len(txns))
	for _, txn := range txns {
		results = append(results, r.Reconcile(ctx, txn))
	}
	return results
}

// ──────────────────────────────────────────────────
// State handlers
// ──────────────────────────────────────────────────

func (r *Reconciler) inFlight(_ context.Context, res *Result) {
	res.Disposition = InFlight
	r.logger.Debug("transaction in flight",
		"transaction_id", res.Transaction.ID,
		"product_id", res.Transaction.Payment.ProductID,
	)
}

func (r *Reconciler) deferred(ctx context.Context, res *Result) {
	res.Disposition = Deferred
	r.logger.Info("transaction deferred",
		"transaction_id", res.Transaction.ID,
		"product_id", res.Transaction.Payment.ProductID,
	)
	r.plugins.EmitPurchaseDeferred(ctx, r.event(res))
}

func (r *Reconciler) failed(ctx context.Context, res *Result) {
	txn := res.Transaction
	storeErr := txn.Error
	if storeErr == nil {
		storeErr = &appstore.StoreError{Code: appstore.CodeUnknown, Message: "the store reported a failure without a reason"}
	}

	res.Disposition = Failed
	res.Err = fmt.Errorf("%w: %w", ErrPurchaseFailed, storeErr)
	res.Finished = r.finish(ctx, txn)

	r.logger.Warn("transaction failed",
		"transaction_id", txn.ID,
		"product_id", txn.Payment.ProductID,
		"code", storeErr.Code,
		"reason", storeErr.Message,
	)
	r.plugins.EmitPurchaseFailed(ctx, r.event(res))
}

func (r *Reconciler) grant(ctx context.Context, res *Result) {
	txn := res.Transaction

	p, err := r.catalog.Describe(txn.Payment.ProductID)
	if err != nil {
		res.Disposition = Rejected
		res.Err = fmt.Errorf("transaction %s: %w", txn.ID, err)
		res.Finished = r.finish(ctx, txn)

		r.logger.Error("transaction for unknown product",
			"transaction_id", txn.ID,
			"product_id", txn.Payment.ProductID,
			"error", err,
		)
		r.plugins.EmitUnknownProduct(ctx, r.event(res))
		return
	}
	res.Product = &p

	origin := entitlement.OriginPurchase
	if txn.State == appstore.StateRestored {
		origin = entitlement.OriginRestore
	}

	rcpt, err := r.ledger.Grant(ctx, ledger.GrantFor(p, txn.IdempotencyKey(), txn.ID, origin))
	switch {
	case errors.Is(err, ledger.ErrAlreadyApplied):
		res.Disposition = Duplicate
		res.Finished = r.finish(ctx, txn)

		r.logger.Warn("duplicate transaction delivery",
			"transaction_id", txn.ID,
			"transaction_key", txn.IdempotencyKey(),
			"product_id", p.ID,
		)
		r.plugins.EmitDuplicateDelivery(ctx, r.event(res))

	case err != nil:
		res.Disposition = Error
		res.Err = err

		r.logger.Error("apply transaction failed",
			"transaction_id", txn.ID,
			"product_id", p.ID,
			"error", err,
		)

	default:
		res.Disposition = Applied
		res.Receipt = rcpt
		res.Finished = r.finish(ctx, txn)

		r.logger.Info("transaction applied",
			"transaction_id", txn.ID,
			"product_id", p.ID,
			"origin", string(origin),
			"coins", rcpt.Coins,
			"days", rcpt.Days,
		)
		r.plugins.EmitTransactionReconciled(ctx, r.event(res))
	}
}

// finish acknowledges txn. A failed finish is logged only: the store
// redelivers and the receipt journal absorbs the duplicate.
func (r *Reconciler) finish(ctx context.Context, txn appstore.Transaction) bool {
	if err := r.finisher.Finish(ctx, txn); err != nil {
		r.logger.Warn("finish transaction failed",
			"transaction_id", txn.ID,
			"error", err,
		)
		return false
	}
	return true
}

func (r *Reconciler) event(res *Result) plugin.Reconciliation {
	txn := res.Transaction
	ev := plugin.Reconciliation{
		TransactionID: txn.ID,
		ProductID:     txn.Payment.ProductID,
		State:         string(txn.State),
		Disposition:   string(res.Disposition),
		RequestID:     txn.Payment.ApplicationToken,
	}
	if txn.Error != nil {
		ev.FailureCode = txn.Error.Code
		ev.FailureMessage = txn.Error.Message
	}
	return ev
}
