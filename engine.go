package purse

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/ledger"
	"github.com/xraph/purse/plugin"
	"github.com/xraph/purse/purchase"
	"github.com/xraph/purse/reconcile"
	"github.com/xraph/purse/store"
)

// MessageCost is the price in coins of one chat message for non-VIP users.
const MessageCost = 1

// Default starting balance range for new users.
const (
	DefaultMinStartingBalance = 10
	DefaultMaxStartingBalance = 30
)

// Engine is the in-app commerce engine of one user. It owns the ledger,
// the reconciler and the purchase orchestrator, and is the only surface
// the UI talks to.
type Engine struct {
	store   store.Store
	client  appstore.Client
	catalog *catalog.Catalog
	plugins *plugin.Registry
	logger  *slog.Logger
	now     func() time.Time
	display *time.Location

	userID   id.UserID
	minStart int64
	maxStart int64

	mu     sync.RWMutex
	ledger *ledger.Ledger
	orch   *purchase.Orchestrator

	subscribers atomic.Int64
}

// New creates a new Engine. Call Start before using it.
func New(s store.Store, client appstore.Client, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		client:   client,
		catalog:  catalog.Default(),
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
		display:  time.Local,
		minStart: DefaultMinStartingBalance,
		maxStart: DefaultMaxStartingBalance,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog replaces the default product catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithUserID sets the local user whose entitlements the engine manages.
// Without it Start generates a new user id.
func WithUserID(userID id.UserID) Option {
	return func(e *Engine) { e.userID = userID }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStartingBalance sets the inclusive range from which a new user's
// coin balance is drawn.
func WithStartingBalance(minCoins, maxCoins int64) Option {
	return func(e *Engine) {
		e.minStart = max(0, minCoins)
		e.maxStart = max(e.minStart, maxCoins)
	}
}

// WithHookTimeout bounds how long a single plugin hook may run.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Engine) { e.plugins.WithTimeout(d) }
}

// WithDisplayLocation sets the time zone used by VIPExpiryDisplay.
func WithDisplayLocation(loc *time.Location) Option {
	return func(e *Engine) { e.display = loc }
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start migrates the store, opens the user's ledger and starts observing
// the store. Unfinished transactions from earlier sessions are reconciled
// right away.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger != nil {
		return ErrAlreadyStarted
	}

	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	if e.userID.IsNil() {
		e.userID = id.NewUserID()
		e.logger.Info("generated local user id", "user_id", e.userID.String())
	}

	l, err := ledger.Open(ctx, e.store, e.userID,
		ledger.WithLogger(e.logger),
		ledger.WithPlugins(e.plugins),
		ledger.WithClock(e.now),
		ledger.WithStartingBalance(e.startingBalance),
	)
	if err != nil {
		return err
	}

	rec := reconcile.New(e.catalog, l, e.client,
		reconcile.WithLogger(e.logger),
		reconcile.WithPlugins(e.plugins),
	)
	orch := purchase.New(e.client, e.catalog, rec,
		purchase.WithLogger(e.logger),
		purchase.WithPlugins(e.plugins),
		purchase.WithClock(e.now),
	)

	e.ledger = l
	e.orch = orch

	e.plugins.EmitInit(ctx, e)
	orch.Attach()

	e.logger.Info("purse started",
		"user_id", e.userID.String(),
		"coin_balance", l.Balance(),
		"products", e.catalog.Len(),
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop stops observing the store and closes it. Entitlements stay
// persisted.
func (e *Engine) Stop() error {
	e.mu.Lock()
	orch := e.orch
	e.ledger = nil
	e.orch = nil
	e.mu.Unlock()

	if orch != nil {
		orch.Detach()
	}

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Logout destroys the user's persisted entitlements and stops observing
// the store. The engine may be started again; the user then begins with a
// fresh starting balance.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger == nil {
		return ErrNotStarted
	}

	e.orch.Detach()
	if err := e.ledger.Destroy(ctx); err != nil {
		return err
	}

	e.logger.Info("user logged out", "user_id", e.userID.String())
	e.ledger = nil
	e.orch = nil
	return nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// UserID returns the local user id. It is nil before the first Start
// unless set with WithUserID.
func (e *Engine) UserID() id.UserID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userID
}

// Catalog returns the product catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// CoinsBalance returns the current coin balance, or 0 when not started.
func (e *Engine) CoinsBalance() int64 {
	if l := e.current(); l != nil {
		return l.Balance()
	}
	return 0
}

// HasEnoughCoins reports whether the balance covers amount.
func (e *Engine) HasEnoughCoins(amount int64) bool {
	if l := e.current(); l != nil {
		return l.HasEnough(amount)
	}
	return false
}

// IsVIPActive reports whether the VIP window is open now.
func (e *Engine) IsVIPActive() bool {
	if l := e.current(); l != nil {
		return l.IsVIPActive()
	}
	return false
}

// VIPExpiry returns the end of the VIP window, if one was ever granted.
func (e *Engine) VIPExpiry() (time.Time, bool) {
	if l := e.current(); l != nil {
		return l.VIPExpiry()
	}
	return time.Time{}, false
}

// VIPExpiryDisplay returns the VIP status line shown on the profile
// screen.
func (e *Engine) VIPExpiryDisplay() string {
	exp, ok := e.VIPExpiry()
	switch {
	case !ok:
		return "Not a VIP member"
	case exp.After(e.now()):
		return "VIP until " + exp.In(e.display).Format("2006-01-02 15:04")
	default:
		return "VIP expired on " + exp.In(e.display).Format("2006-01-02")
	}
}

// Receipts returns the transactions applied to this user, oldest first.
func (e *Engine) Receipts() []entitlement.Receipt {
	if l := e.current(); l != nil {
		return l.Receipts()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Actions
// ──────────────────────────────────────────────────

// SpendCoins debits amount coins. It fails with ErrInsufficientFunds,
// leaving the balance untouched, when the balance does not cover it.
func (e *Engine) SpendCoins(ctx context.Context, amount int64, reason string) (int64, error) {
	l, _, err := e.session()
	if err != nil {
		return 0, err
	}
	return l.Debit(ctx, amount, reason)
}

// SpendUnlessVIP debits amount coins unless VIP is active.
func (e *Engine) SpendUnlessVIP(ctx context.Context, amount int64, reason string) (charged bool, balance int64, err error) {
	l, _, err := e.session()
	if err != nil {
		return false, 0, err
	}
	return l.SpendUnlessVIP(ctx, amount, reason)
}

// ChargeMessage charges MessageCost for one chat message. VIP users chat
// for free.
func (e *Engine) ChargeMessage(ctx context.Context) (charged bool, balance int64, err error) {
	return e.SpendUnlessVIP(ctx, MessageCost, "chat message")
}

// FetchProducts returns the store metadata of ids, or of the whole catalog.
func (e *Engine) FetchProducts(ctx context.Context, ids ...string) ([]appstore.ProductMetadata, error) {
	_, orch, err := e.session()
	if err != nil {
		return nil, err
	}
	return orch.FetchCatalogMetadata(ctx, ids)
}

// RequestPurchase buys productID and waits for the outcome. A deferred
// purchase returns StatusDeferred with no error.
func (e *Engine) RequestPurchase(ctx context.Context, productID string) (*Outcome, error) {
	_, orch, err := e.session()
	if err != nil {
		return nil, err
	}
	return orch.Purchase(ctx, productID)
}

// RequestRestore restores completed subscription purchases.
func (e *Engine) RequestRestore(ctx context.Context) (*RestoreOutcome, error) {
	_, orch, err := e.session()
	if err != nil {
		return nil, err
	}
	return orch.RestorePurchases(ctx)
}

// Subscribe registers UI callbacks for balance, VIP and restore events and
// returns the function that removes them.
func (e *Engine) Subscribe(s plugin.Subscriber) (unsubscribe func(), err error) {
	if s.ID == "" {
		s.ID = fmt.Sprintf("subscriber-%d", e.subscribers.Add(1))
	}
	sub := &s
	if err := e.plugins.Register(sub); err != nil {
		return nil, err
	}
	return func() { e.plugins.Unregister(sub.ID) }, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (e *Engine) current() *ledger.Ledger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger
}

func (e *Engine) session() (*ledger.Ledger, *purchase.Orchestrator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ledger == nil {
		return nil, nil, ErrNotStarted
	}
	return e.ledger, e.orch, nil
}

func (e *Engine) startingBalance() int64 {
	if e.maxStart <= e.minStart {
		return e.minStart
	}
	return e.minStart + rand.Int64N(e.maxStart-e.minStart+1)
}
