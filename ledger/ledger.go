// Package ledger implements the entitlement ledger: the only writer of a
// user's coin balance and VIP window.
//
// Every mutation runs under a single mutex, persists the complete state
// synchronously and only then publishes it. Reads never block: they return
// the last persisted snapshot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/plugin"
)

// Day is the length of one VIP day.
const Day = 24 * time.Hour

// MaxExtensionDays bounds a single VIP extension (100 years).
const MaxExtensionDays = 36500

// Ledger owns the entitlement state of one user.
type Ledger struct {
	mu       sync.Mutex
	store    entitlement.Store
	userID   id.UserID
	snapshot atomic.Pointer[entitlement.State]
	closed   atomic.Bool
	seq      uint64 // guarded by mu

	plugins         *plugin.Registry
	logger          *slog.Logger
	now             func() time.Time
	startingBalance func() int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithPlugins sets the registry that receives balance and VIP events.
func WithPlugins(r *plugin.Registry) Option {
	return func(l *Ledger) { l.plugins = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithStartingBalance sets the function that chooses the balance of a newly
// created user. It is called at most once per Open.
func WithStartingBalance(fn func() int64) Option {
	return func(l *Ledger) { l.startingBalance = fn }
}

// Open loads the state of userID from s, creating and persisting it with
// the starting balance when none exists.
func Open(ctx context.Context, s entitlement.Store, userID id.UserID, opts ...Option) (*Ledger, error) {
	if userID.IsNil() {
		return nil, errors.New("purse: ledger requires a user id")
	}

	l := &Ledger{
		store:           s,
		userID:          userID,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		now:             time.Now,
		startingBalance: func() int64 { return 0 },
	}
	for _, opt := range opts {
		opt(l)
	}

	st, err := s.GetState(ctx, userID)
	switch {
	case err == nil:
		l.logger.Debug("entitlement state loaded",
			"user_id", userID.String(),
			"coin_balance", st.CoinBalance,
			"receipts", len(st.Receipts),
		)
	case errors.Is(err, entitlement.ErrNotFound):
		start := l.startingBalance()
		if start < 0 {
			start = 0
		}
		st = entitlement.NewState(userID, start, l.now())
		if err := s.SaveState(ctx, st); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersist, err)
		}
		l.logger.Info("entitlement state created",
			"user_id", userID.String(),
			"coin_balance", start,
		)
	default:
		return nil, fmt.Errorf("purse: load entitlement state: %w", err)
	}

	l.snapshot.Store(st.Clone())
	return l, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// UserID returns the user this ledger belongs to.
func (l *Ledger) UserID() id.UserID { return l.userID }

// Balance returns the current coin balance.
func (l *Ledger) Balance() int64 { return l.snapshot.Load().CoinBalance }

// HasEnough reports whether the balance covers amount.
func (l *Ledger) HasEnough(amount int64) bool { return l.snapshot.Load().HasEnough(amount) }

// VIPExpiry returns the end of the VIP window, if one was ever granted.
func (l *Ledger) VIPExpiry() (time.Time, bool) {
	st := l.snapshot.Load()
	if st.VIPExpiry == nil {
		return time.Time{}, false
	}
	return *st.VIPExpiry, true
}

// IsVIPActive reports whether the VIP window ends strictly after now.
func (l *Ledger) IsVIPActive() bool {
	return l.snapshot.Load().IsVIPActive(l.now())
}

// Snapshot returns a copy of the last persisted state.
func (l *Ledger) Snapshot() *entitlement.State { return l.snapshot.Load().Clone() }

// Receipts returns the applied-transaction journal, oldest first.
func (l *Ledger) Receipts() []entitlement.Receipt {
	return append([]entitlement.Receipt(nil), l.snapshot.Load().Receipts...)
}

// ──────────────────────────────────────────────────
// Mutations
// ──────────────────────────────────────────────────

// Credit adds amount coins and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, amount int64, reason string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: credit of %d coins", ErrInvalidAmount, amount)
	}

	before, after, seq, err := l.commit(ctx, func(next *entitlement.State, _ time.Time) error {
		return addCoins(next, amount)
	})
	if err != nil {
		return l.Balance(), err
	}

	l.emitBalance(ctx, seq, before, after, reason, "")
	return after.CoinBalance, nil
}

// Debit removes amount coins and returns the new balance. It fails with
// ErrInsufficientFunds, leaving the balance untouched, when amount exceeds it.
func (l *Ledger) Debit(ctx context.Context, amount int64, reason string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: debit of %d coins", ErrInvalidAmount, amount)
	}

	before, after, seq, err := l.commit(ctx, func(next *entitlement.State, _ time.Time) error {
		if amount > next.CoinBalance {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, next.CoinBalance)
		}
		next.CoinBalance -= amount
		return nil
	})
	if err != nil {
		return l.Balance(), err
	}

	l.emitBalance(ctx, seq, before, after, reason, "")
	return after.CoinBalance, nil
}

// SpendUnlessVIP debits amount coins unless VIP is active, in which case
// nothing is charged. The VIP check and the debit are one atomic step.
func (l *Ledger) SpendUnlessVIP(ctx context.Context, amount int64, reason string) (charged bool, balance int64, err error) {
	if amount < 0 {
		return false, 0, fmt.Errorf("%w: spend of %d coins", ErrInvalidAmount, amount)
	}

	before, after, seq, err := l.commit(ctx, func(next *entitlement.State, now time.Time) error {
		if next.IsVIPActive(now) {
			return errUnchanged
		}
		if amount > next.CoinBalance {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, next.CoinBalance)
		}
		next.CoinBalance -= amount
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, l.Balance(), nil
	}
	if err != nil {
		return false, l.Balance(), err
	}

	l.emitBalance(ctx, seq, before, after, reason, "")
	return true, after.CoinBalance, nil
}

// ExtendVIP extends the VIP window by days, starting from the later of now
// and the current expiry, and returns the new expiry.
func (l *Ledger) ExtendVIP(ctx context.Context, days int, reason string) (time.Time, error) {
	if days <= 0 || days > MaxExtensionDays {
		return time.Time{}, fmt.Errorf("%w: extension of %d days", ErrInvalidAmount, days)
	}

	before, after, seq, err := l.commit(ctx, func(next *entitlement.State, now time.Time) error {
		exp := extend(next.VIPExpiry, now, days)
		next.VIPExpiry = &exp
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	l.emitVIP(ctx, seq, before, after, days, reason, "")
	return *after.VIPExpiry, nil
}

// Grant applies the effect of one store transaction together with its
// receipt in a single persisted write. A key that is already journaled
// yields ErrAlreadyApplied and no mutation.
func (l *Ledger) Grant(ctx context.Context, g Grant) (*entitlement.Receipt, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	var rcpt entitlement.Receipt
	before, after, seq, err := l.commit(ctx, func(next *entitlement.State, now time.Time) error {
		if next.HasReceipt(g.TransactionKey) {
			return ErrAlreadyApplied
		}
		if err := addCoins(next, g.Coins); err != nil {
			return err
		}
		if g.Days > 0 {
			exp := extend(next.VIPExpiry, now, g.Days)
			next.VIPExpiry = &exp
		}
		rcpt = entitlement.Receipt{
			ID:             id.NewReceiptID(),
			TransactionKey: g.TransactionKey,
			TransactionID:  g.TransactionID,
			ProductID:      g.ProductID,
			Origin:         g.Origin,
			Coins:          g.Coins,
			Days:           g.Days,
			AppliedAt:      now,
		}
		next.Receipts = append(next.Receipts, rcpt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := string(g.Origin) + ":" + g.ProductID
	if g.Coins > 0 {
		l.emitBalance(ctx, seq, before, after, reason, g.TransactionID)
	}
	if g.Days > 0 {
		l.emitVIP(ctx, seq, before, after, g.Days, reason, g.TransactionID)
	}
	return &rcpt, nil
}

// Destroy deletes the persisted state. The ledger rejects every later
// mutation with ErrClosed.
func (l *Ledger) Destroy(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.store.DeleteState(ctx, l.userID); err != nil && !errors.Is(err, entitlement.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	l.closed.Store(true)

	l.logger.Info("entitlement state destroyed", "user_id", l.userID.String())
	l.plugins.EmitLedgerReset(ctx, l.userID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// errUnchanged aborts a commit without error and without persisting.
var errUnchanged = errors.New("unchanged")

// commit applies fn to a copy of the current state, persists it and then
// publishes it. fn errors abort the commit with nothing persisted. seq
// numbers successful commits in order.
func (l *Ledger) commit(ctx context.Context, fn func(next *entitlement.State, now time.Time) error) (before, after *entitlement.State, seq uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return nil, nil, 0, ErrClosed
	}

	cur := l.snapshot.Load()
	next := cur.Clone()
	now := l.now().UTC()
	if err := fn(next, now); err != nil {
		return nil, nil, 0, err
	}
	next.TouchAt(now)

	if err := l.store.SaveState(ctx, next); err != nil {
		l.logger.Error("persist entitlement state failed",
			"user_id", l.userID.String(),
			"error", err,
		)
		return nil, nil, 0, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	l.snapshot.Store(next)
	l.seq++
	return cur, next.Clone(), l.seq, nil
}

// addCoins credits amount, refusing a balance that would overflow.
func addCoins(next *entitlement.State, amount int64) error {
	if amount > math.MaxInt64-next.CoinBalance {
		return fmt.Errorf("%w: credit of %d coins overflows balance %d", ErrInvalidAmount, amount, next.CoinBalance)
	}
	next.CoinBalance += amount
	return nil
}

// extend returns the expiry after adding days to the later of now and cur.
func extend(cur *time.Time, now time.Time, days int) time.Time {
	base := now
	if cur != nil && cur.After(now) {
		base = *cur
	}
	return base.Add(time.Duration(days) * Day).UTC()
}

func (l *Ledger) emitBalance(ctx context.Context, seq uint64, before, after *entitlement.State, reason, txnID string) {
	l.plugins.EmitBalanceChanged(ctx, plugin.BalanceChange{
		Seq:           seq,
		UserID:        l.userID.String(),
		Before:        before.CoinBalance,
		After:         after.CoinBalance,
		Reason:        reason,
		TransactionID: txnID,
		At:            after.UpdatedAt,
	})
}

func (l *Ledger) emitVIP(ctx context.Context, seq uint64, before, after *entitlement.State, days int, reason, txnID string) {
	l.plugins.EmitVIPChanged(ctx, plugin.VIPChange{
		Seq:           seq,
		UserID:        l.userID.String(),
		Before:        before.VIPExpiry,
		After:         *after.VIPExpiry,
		Days:          days,
		Reason:        reason,
		TransactionID: txnID,
		At:            after.UpdatedAt,
	})
}
