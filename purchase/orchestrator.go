// Package purchase drives purchase and restore requests against the store
// and routes the store's asynchronous answers.
//
// Every purchase request carries its own token and waits on its own
// channel, so concurrent requests never steal each other's outcome. Store
// callbacks are reconciled whether or not anyone is still waiting.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/plugin"
	"github.com/xraph/purse/reconcile"
)

var _ appstore.Observer = (*Orchestrator)(nil)

// Orchestrator submits requests to the store and observes its callbacks.
type Orchestrator struct {
	client     appstore.Client
	catalog    *catalog.Catalog
	reconciler *reconcile.Reconciler
	plugins    *plugin.Registry
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	waiters  map[string]chan *Outcome
	restore  *restoreRun
	detached bool
}

type restoreRun struct {
	outcome RestoreOutcome
	started time.Time
	err     error
	done    chan struct{}
	once    sync.Once

	// callers still waiting; guarded by Orchestrator.mu
	callers int
}

func (r *restoreRun) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithPlugins sets the registry that receives restore events.
func WithPlugins(reg *plugin.Registry) Option {
	return func(o *Orchestrator) { o.plugins = reg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. Call Attach to start observing the store.
func New(client appstore.Client, c *catalog.Catalog, r *reconcile.Reconciler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:     client,
		catalog:    c,
		reconciler: r,
		plugins:    plugin.NewRegistry(),
		logger:     slog.Default(),
		now:        time.Now,
		waiters:    make(map[string]chan *Outcome),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attach installs the orchestrator as the store observer. The store
// redelivers unfinished transactions from earlier sessions right away.
func (o *Orchestrator) Attach() {
	o.mu.Lock()
	o.detached = false
	o.mu.Unlock()
	o.client.SetObserver(o)
}

// Detach stops observing the store and releases every pending waiter with
// ErrDetached. Transactions the store still holds are delivered to the
// next observer.
func (o *Orchestrator) Detach() {
	o.client.SetObserver(nil)

	o.mu.Lock()
	o.detached = true
	waiters := o.waiters
	o.waiters = make(map[string]chan *Outcome)
	run := o.restore
	o.restore = nil
	o.mu.Unlock()

	for token, ch := range waiters {
		ch <- &Outcome{RequestID: id.MustParse(token), Status: StatusFailed, Err: ErrDetached}
	}
	if run != nil {
		run.finish(ErrDetached)
	}
}

// ──────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────

// FetchCatalogMetadata asks the store for the localized metadata of ids,
// or of the whole catalog when ids is empty.
func (o *Orchestrator) FetchCatalogMetadata(ctx context.Context, ids []string) ([]appstore.ProductMetadata, error) {
	if len(ids) == 0 {
		ids = o.catalog.AllIDs()
	}
	for _, pid := range ids {
		if !o.catalog.Contains(pid) {
			return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, pid)
		}
	}

	resp, err := o.client.ListProducts(ctx, ids)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if len(resp.InvalidIDs) > 0 {
		o.logger.Warn("store does not sell catalog products", "product_ids", resp.InvalidIDs)
	}
	if len(resp.Products) == 0 {
		return nil, ErrNoProductsFound
	}
	return resp.Products, nil
}

// Purchase submits exactly one payment for productID and waits for its
// outcome. Cancelling ctx only abandons the wait: the store still
// completes the purchase and the entitlement is still granted.
func (o *Orchestrator) Purchase(ctx context.Context, productID string) (*Outcome, error) {
	if _, err := o.catalog.Describe(productID); err != nil {
		return nil, err
	}
	if !o.client.CanMakePayments() {
		return nil, ErrPaymentsDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	requestID := id.NewRequestID()
	token := requestID.String()
	ch := make(chan *Outcome, 1)

	o.mu.Lock()
	if o.detached {
		o.mu.Unlock()
		return nil, ErrDetached
	}
	o.waiters[token] = ch
	o.mu.Unlock()

	err := o.client.SubmitPayment(ctx, appstore.Payment{ProductID: productID, ApplicationToken: token})
	if err != nil {
		o.dropWaiter(token)
		var se *appstore.StoreError
		if errors.As(err, &se) && se.Code == appstore.CodeNotAllowed {
			return nil, fmt.Errorf("%w: %w", ErrPaymentsDisabled, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	o.logger.Debug("payment submitted",
		"request_id", token,
		"product_id", productID,
	)

	select {
	case out := <-ch:
		return out, out.Err
	case <-ctx.Done():
		o.dropWaiter(token)
		o.logger.Info("purchase wait abandoned",
			"request_id", token,
			"product_id", productID,
		)
		return nil, ctx.Err()
	}
}

// RestorePurchases asks the store to redeliver completed subscription
// purchases and waits for the run to end. Callers arriving while a run is
// in progress join it and receive the same outcome. When every waiting
// caller has given up, the run is abandoned and the next call asks the
// store again.
func (o *Orchestrator) RestorePurchases(ctx context.Context) (*RestoreOutcome, error) {
	o.mu.Lock()
	if o.detached {
		o.mu.Unlock()
		return nil, ErrDetached
	}
	run := o.restore
	starter := run == nil
	if starter {
		run = &restoreRun{
			outcome: RestoreOutcome{RequestID: id.NewRequestID()},
			started: o.now(),
			done:    make(chan struct{}),
		}
		o.restore = run
	}
	run.callers++
	o.mu.Unlock()

	if starter {
		o.logger.Info("restore started", "request_id", run.outcome.RequestID.String())
		if err := o.client.RestoreCompletedTransactions(context.WithoutCancel(ctx)); err != nil {
			o.endRestore(run)
			run.finish(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}
	}

	select {
	case <-run.done:
		if run.err != nil {
			return nil, run.err
		}
		o.mu.Lock()
		out := run.outcome
		o.mu.Unlock()
		return &out, nil
	case <-ctx.Done():
		o.abandonRestore(run)
		return nil, ctx.Err()
	}
}

// ──────────────────────────────────────────────────
// appstore.Observer
// ──────────────────────────────────────────────────

// TransactionsUpdated reconciles every transaction and resolves the
// request waiting on it, if any.
func (o *Orchestrator) TransactionsUpdated(ctx context.Context, txns []appstore.Transaction) {
	for _, txn := range txns {
		res := o.reconciler.Reconcile(ctx, txn)
		if !res.Disposition.IsResolved() {
			continue
		}

		o.mu.Lock()
		if txn.State == appstore.StateRestored && o.restore != nil {
			o.restore.outcome.add(res)
		}
		ch, waiting := o.waiters[txn.Payment.ApplicationToken]
		if waiting {
			delete(o.waiters, txn.Payment.ApplicationToken)
		}
		o.mu.Unlock()

		if waiting {
			reqID, _ := id.ParseRequestID(txn.Payment.ApplicationToken)
			ch <- outcomeFor(reqID, res)
		}
	}
}

// RestoreCompleted ends the current restore run successfully.
func (o *Orchestrator) RestoreCompleted(ctx context.Context) {
	o.mu.Lock()
	run := o.restore
	o.restore = nil
	if run != nil {
		run.outcome.Elapsed = o.now().Sub(run.started)
	}
	o.mu.Unlock()

	if run == nil {
		o.logger.Debug("restore completion without a restore in progress")
		return
	}
	run.finish(nil)

	out := run.outcome
	o.logger.Info("restore completed",
		"request_id", out.RequestID.String(),
		"redelivered", out.Redelivered,
		"applied", out.Applied,
		"duplicates", out.Duplicates,
	)
	o.plugins.EmitRestoreCompleted(ctx, plugin.RestoreSummary{
		RequestID:   out.RequestID.String(),
		Redelivered: out.Redelivered,
		Applied:     out.Applied,
		Duplicates:  out.Duplicates,
		Rejected:    out.Rejected,
		Elapsed:     out.Elapsed,
	})
}

// RestoreFailed ends the current restore run with the store's error.
func (o *Orchestrator) RestoreFailed(ctx context.Context, err error) {
	o.mu.Lock()
	run := o.restore
	o.restore = nil
	o.mu.Unlock()

	if run == nil {
		o.logger.Debug("restore failure without a restore in progress", "error", err)
		return
	}
	run.finish(fmt.Errorf("%w: %w", ErrRestoreFailed, err))

	o.logger.Warn("restore failed",
		"request_id", run.outcome.RequestID.String(),
		"error", err,
	)
	o.plugins.EmitRestoreFailed(ctx, run.outcome.RequestID.String(), err)
}

// Pending returns the number of purchase requests awaiting an outcome.
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.waiters)
}

func (o *Orchestrator) dropWaiter(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.waiters, token)
}

// abandonRestore drops one caller from run and forgets the run once nobody
// waits on it. A late completion for it is then ignored.
func (o *Orchestrator) abandonRestore(run *restoreRun) {
	o.mu.Lock()
	run.callers--
	abandoned := run.callers == 0 && o.restore == run
	if abandoned {
		o.restore = nil
	}
	o.mu.Unlock()

	if abandoned {
		o.logger.Info("restore wait abandoned", "request_id", run.outcome.RequestID.String())
	}
}

func (o *Orchestrator) endRestore(run *restoreRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.restore == run {
		o.restore = nil
	}
}
