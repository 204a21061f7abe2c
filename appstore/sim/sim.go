// Package sim implements appstore.Client in process. It delivers
// transactions asynchronously the way a platform store does, keeps
// unfinished transactions queued for redelivery and answers restore
// requests from its purchase history.
//
// Deliveries run on their own goroutines and never hold the simulator's
// lock while calling the observer.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/id"
)

var _ appstore.Client = (*Store)(nil)

// ErrUnknownTransaction is returned by Finish and Approve for transactions
// the simulator is not holding.
var ErrUnknownTransaction = errors.New("sim: unknown transaction")

// Behavior decides how the simulated store answers a payment.
type Behavior struct {
	State appstore.TransactionState
	Err   *appstore.StoreError
}

var (
	// Approve completes the payment.
	Approve = Behavior{State: appstore.StatePurchased}
	// Defer leaves the payment awaiting approval (Ask to Buy).
	Defer = Behavior{State: appstore.StateDeferred}
	// Cancel fails the payment as cancelled by the user.
	Cancel = Fail(appstore.CodeCancelled, "payment cancelled by user")
)

// Fail fails the payment with the given store error.
func Fail(code, message string) Behavior {
	return Behavior{
		State: appstore.StateFailed,
		Err:   &appstore.StoreError{Code: code, Message: message},
	}
}

// Store is the simulated commerce store.
type Store struct {
	mu       sync.Mutex
	observer appstore.Observer

	products    map[string]appstore.ProductMetadata
	consumables map[string]bool
	behaviors   map[string]Behavior
	fallback    Behavior

	unfinished []appstore.Transaction
	finished   []appstore.Transaction
	deferred   map[string]appstore.Transaction
	history    []appstore.Transaction

	paymentsDisabled bool
	listErr          error
	restoreErr       error
	finishErr        error

	restores int

	held    bool
	release chan struct{}
	wg      sync.WaitGroup

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithProducts sets the products the store sells.
func WithProducts(products ...appstore.ProductMetadata) Option {
	return func(s *Store) {
		for _, p := range products {
			s.products[p.ID] = p
		}
	}
}

// FromCatalog sells every product of c. Consumables are excluded from
// restores.
func FromCatalog(c *catalog.Catalog) Option {
	return func(s *Store) {
		for _, pid := range c.AllIDs() {
			p, _ := c.Describe(pid)
			s.products[pid] = appstore.ProductMetadata{
				ID:          p.ID,
				Title:       p.Title,
				Description: describe(p),
				Price:       p.Price,
			}
			if p.IsConsumable() {
				s.consumables[pid] = true
			}
		}
	}
}

// WithConsumables marks product ids as consumable.
func WithConsumables(ids ...string) Option {
	return func(s *Store) {
		for _, pid := range ids {
			s.consumables[pid] = true
		}
	}
}

// WithPaymentsDisabled makes CanMakePayments report false.
func WithPaymentsDisabled() Option {
	return func(s *Store) { s.paymentsDisabled = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now for transaction dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a simulated store that approves every payment.
func New(opts ...Option) *Store {
	s := &Store{
		products:    make(map[string]appstore.ProductMetadata),
		consumables: make(map[string]bool),
		behaviors:   make(map[string]Behavior),
		deferred:    make(map[string]appstore.Transaction),
		fallback:    Approve,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// appstore.Client
// ──────────────────────────────────────────────────

// SetObserver installs o and redelivers every unfinished transaction to it.
func (s *Store) SetObserver(o appstore.Observer) {
	s.mu.Lock()
	s.observer = o
	pending := slices.Clone(s.unfinished)
	s.mu.Unlock()

	if o != nil && len(pending) > 0 {
		s.deliver(pending)
	}
}

func (s *Store) CanMakePayments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.paymentsDisabled
}

func (s *Store) ListProducts(ctx context.Context, ids []string) (*appstore.ProductsResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}

	resp := &appstore.ProductsResponse{}
	for _, pid := range ids {
		if p, ok := s.products[pid]; ok {
			resp.Products = append(resp.Products, p)
		} else {
			resp.InvalidIDs = append(resp.InvalidIDs, pid)
		}
	}
	return resp, nil
}

func (s *Store) SubmitPayment(ctx context.Context, p appstore.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.paymentsDisabled {
		s.mu.Unlock()
		return &appstore.StoreError{Code: appstore.CodeNotAllowed, Message: "payments are disabled on this device"}
	}

	b, ok := s.behaviors[p.ProductID]
	if !ok {
		b = s.fallback
	}
	if _, sold := s.products[p.ProductID]; !sold && b.State == appstore.StatePurchased {
		b = Fail(appstore.CodeProductNotOnSale, fmt.Sprintf("product %s is not available", p.ProductID))
	}

	txn := appstore.Transaction{
		ID:      id.NewTransactionID().String(),
		Payment: p,
		State:   appstore.StatePurchasing,
		Date:    s.now().UTC(),
	}
	purchasing := txn

	txn.State = b.State
	txn.Error = b.Err
	switch b.State {
	case appstore.StateDeferred:
		s.deferred[txn.ID] = txn
	default:
		s.unfinished = append(s.unfinished, txn)
	}
	s.mu.Unlock()

	s.logger.Debug("sim: payment submitted",
		"transaction_id", txn.ID,
		"product_id", p.ProductID,
		"state", string(txn.State),
	)

	s.deliver([]appstore.Transaction{purchasing}, []appstore.Transaction{txn})
	return nil
}

func (s *Store) RestoreCompletedTransactions(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.restores++
	if s.restoreErr != nil {
		err := s.restoreErr
		o := s.observer
		s.mu.Unlock()
		s.async(func(ctx context.Context) {
			if o != nil {
				o.RestoreFailed(ctx, err)
			}
		})
		return nil
	}

	restored := make([]appstore.Transaction, 0, len(s.history))
	for _, orig := range s.history {
		restored = append(restored, appstore.Transaction{
			ID:         id.NewTransactionID().String(),
			OriginalID: orig.IdempotencyKey(),
			Payment:    appstore.Payment{ProductID: orig.Payment.ProductID},
			State:      appstore.StateRestored,
			Date:       s.now().UTC(),
		})
	}
	s.unfinished = append(s.unfinished, restored...)
	o := s.observer
	s.mu.Unlock()

	s.logger.Debug("sim: restore requested", "redelivered", len(restored))

	s.async(func(ctx context.Context) {
		if o == nil {
			return
		}
		if len(restored) > 0 {
			o.TransactionsUpdated(ctx, restored)
		}
		o.RestoreCompleted(ctx)
	})
	return nil
}

// Finish removes txn from the redelivery queue. Finished purchases of
// non-consumable products become eligible for restore.
func (s *Store) Finish(_ context.Context, txn appstore.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishErr != nil {
		return s.finishErr
	}

	i := slices.IndexFunc(s.unfinished, func(t appstore.Transaction) bool { return t.ID == txn.ID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, txn.ID)
	}
	done := s.unfinished[i]
	s.unfinished = slices.Delete(s.unfinished, i, i+1)
	s.finished = append(s.finished, done)

	if done.State == appstore.StatePurchased && !s.consumables[done.Payment.ProductID] {
		s.history = append(s.history, done)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Scripting
// ──────────────────────────────────────────────────

// SetBehavior sets how payments for productID are answered.
func (s *Store) SetBehavior(productID string, b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[productID] = b
}

// SetDefaultBehavior sets how payments without a product behavior are answered.
func (s *Store) SetDefaultBehavior(b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = b
}

// SetPaymentsEnabled toggles CanMakePayments.
func (s *Store) SetPaymentsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentsDisabled = !enabled
}

// FailListProducts makes ListProducts return err. Pass nil to recover.
func (s *Store) FailListProducts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// FailRestores makes restore runs end with RestoreFailed(err).
func (s *Store) FailRestores(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreErr = err
}

// FailFinishes makes Finish return err. Pass nil to recover.
func (s *Store) FailFinishes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishErr = err
}

// Resolve settles a deferred transaction with b (Approve or a failure)
// and delivers the result.
func (s *Store) Resolve(txnID string, b Behavior) error {
	s.mu.Lock()
	txn, ok := s.deferred[txnID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, txnID)
	}
	delete(s.deferred, txnID)
	txn.State = b.State
	txn.Error = b.Err
	s.unfinished = append(s.unfinished, txn)
	s.mu.Unlock()

	s.deliver([]appstore.Transaction{txn})
	return nil
}

// Deferred returns the ids of transactions awaiting approval.
func (s *Store) Deferred() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.deferred))
	for tid := range s.deferred {
		ids = append(ids, tid)
	}
	slices.Sort(ids)
	return ids
}

// Deliver injects transactions as if the store had reported them.
// Transactions other than purchasing and deferred ones are queued until
// finished.
func (s *Store) Deliver(txns ...appstore.Transaction) {
	s.mu.Lock()
	for i := range txns {
		if txns[i].ID == "" {
			txns[i].ID = id.NewTransactionID().String()
		}
		if txns[i].Date.IsZero() {
			txns[i].Date = s.now().UTC()
		}
		if txns[i].State.IsTerminal() {
			s.unfinished = append(s.unfinished, txns[i])
		}
	}
	s.mu.Unlock()

	s.deliver(txns)
}

// Redeliver reports every unfinished transaction again, as the store does
// on the next launch.
func (s *Store) Redeliver() {
	s.mu.Lock()
	pending := slices.Clone(s.unfinished)
	s.mu.Unlock()

	if len(pending) > 0 {
		s.deliver(pending)
	}
}

// SeedHistory records completed purchases from an earlier session so that
// restores redeliver them.
func (s *Store) SeedHistory(txns ...appstore.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txns {
		if t.ID == "" {
			t.ID = id.NewTransactionID().String()
		}
		t.State = appstore.StatePurchased
		s.history = append(s.history, t)
	}
}

// History returns the purchases a restore would redeliver.
func (s *Store) History() []appstore.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Finished returns the finished transactions in finish order.
func (s *Store) Finished() []appstore.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.finished)
}

// Unfinished returns the transactions still queued for redelivery.
func (s *Store) Unfinished() []appstore.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.unfinished)
}

// RestoreRequests returns how many restore runs were requested.
func (s *Store) RestoreRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restores
}

// Hold pauses deliveries until Release.
func (s *Store) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		s.held = true
		s.release = make(chan struct{})
	}
}

// Release resumes deliveries paused by Hold.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		s.held = false
		close(s.release)
	}
}

// Wait blocks until every delivery started so far has returned.
func (s *Store) Wait() { s.wg.Wait() }

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// deliver reports batches to the observer in order on one goroutine.
func (s *Store) deliver(batches ...[]appstore.Transaction) {
	s.mu.Lock()
	o := s.observer
	s.mu.Unlock()
	if o == nil {
		return
	}

	s.async(func(ctx context.Context) {
		for _, batch := range batches {
			o.TransactionsUpdated(ctx, batch)
		}
	})
}

func (s *Store) async(fn func(ctx context.Context)) {
	s.mu.Lock()
	var gate chan struct{}
	if s.held {
		gate = s.release
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if gate != nil {
			<-gate
		}
		fn(context.Background())
	}()
}

func describe(p catalog.Product) string {
	if p.IsSubscription() {
		return fmt.Sprintf("%d days of VIP", p.SubscriptionDays)
	}
	return fmt.Sprintf("%d coins", p.CoinAmount)
}
