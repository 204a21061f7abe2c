package ledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/ledger"
	"github.com/xraph/purse/plugin"
	"github.com/xraph/purse/store/memory"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type events struct {
	mu       sync.Mutex
	balances []plugin.BalanceChange
	vips     []plugin.VIPChange
	resets   []string
}

func (e *events) Name() string { return "events" }

func (e *events) OnBalanceChanged(_ context.Context, c plugin.BalanceChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances = append(e.balances, c)
	return nil
}

func (e *events) OnVIPChanged(_ context.Context, c plugin.VIPChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vips = append(e.vips, c)
	return nil
}

func (e *events) OnLedgerReset(_ context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets = append(e.resets, userID)
	return nil
}

func open(t *testing.T, s entitlement.Store, uid id.UserID, start int64, opts ...ledger.Option) (*ledger.Ledger, *clock) {
	t.Helper()
	c := &clock{now: t0}
	opts = append([]ledger.Option{
		ledger.WithClock(c.Now),
		ledger.WithStartingBalance(func() int64 { return start }),
	}, opts...)
	l, err := ledger.Open(context.Background(), s, uid, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, c
}

func TestOpenCreatesAndReloads(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	uid := id.NewUserID()

	l, _ := open(t, s, uid, 42)
	if l.Balance() != 42 {
		t.Fatalf("starting balance = %d, want 42", l.Balance())
	}
	if _, err := l.Credit(ctx, 8, "test"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	// A second open must load, not re-randomize.
	again, _ := open(t, s, uid, 999)
	if again.Balance() != 50 {
		t.Errorf("reloaded balance = %d, want 50", again.Balance())
	}
}

func TestOpenRequiresUser(t *testing.T) {
	if _, err := ledger.Open(context.Background(), memory.New(), id.Nil); err == nil {
		t.Fatal("expected error for nil user id")
	}
}

func TestCoinScenario(t *testing.T) {
	ctx := context.Background()
	l, _ := open(t, memory.New(), id.NewUserID(), 0)

	if bal, err := l.Credit(ctx, 100, "purchase"); err != nil || bal != 100 {
		t.Fatalf("Credit = %d, %v", bal, err)
	}

	bal, err := l.Debit(ctx, 150, "chat")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if bal != 100 || l.Balance() != 100 {
		t.Fatalf("balance after failed debit = %d", l.Balance())
	}

	if bal, err := l.Debit(ctx, 100, "chat"); err != nil || bal != 0 {
		t.Fatalf("Debit = %d, %v", bal, err)
	}
	if l.HasEnough(1) {
		t.Error("HasEnough(1) on empty balance")
	}
}

func TestInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	l, _ := open(t, memory.New(), id.NewUserID(), 10)

	if _, err := l.Credit(ctx, -1, ""); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("Credit(-1): %v", err)
	}
	if _, err := l.Debit(ctx, -1, ""); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("Debit(-1): %v", err)
	}
	if _, err := l.ExtendVIP(ctx, 0, ""); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("ExtendVIP(0): %v", err)
	}
	if l.Balance() != 10 {
		t.Errorf("balance changed to %d", l.Balance())
	}
}

func TestOverflowIsRejected(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		mutate func(l *ledger.Ledger) error
	}{
		{"credit past max balance", func(l *ledger.Ledger) error {
			_, err := l.Credit(ctx, math.MaxInt64, "")
			return err
		}},
		{"grant past max balance", func(l *ledger.Ledger) error {
			_, err := l.Grant(ctx, ledger.Grant{TransactionKey: "k", ProductID: "p", Coins: math.MaxInt64 - 5})
			return err
		}},
		{"extension beyond bound", func(l *ledger.Ledger) error {
			_, err := l.ExtendVIP(ctx, ledger.MaxExtensionDays+1, "")
			return err
		}},
		{"extension that overflows duration", func(l *ledger.Ledger) error {
			_, err := l.ExtendVIP(ctx, 200000, "")
			return err
		}},
		{"grant of too many days", func(l *ledger.Ledger) error {
			_, err := l.Grant(ctx, ledger.Grant{TransactionKey: "k", ProductID: "p", Days: ledger.MaxExtensionDays + 1})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := open(t, memory.New(), id.NewUserID(), 10)
			if err := tt.mutate(l); !errors.Is(err, ledger.ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
			if l.Balance() != 10 {
				t.Errorf("balance = %d, want 10", l.Balance())
			}
			if _, ok := l.VIPExpiry(); ok {
				t.Error("VIP expiry set by rejected mutation")
			}
			if len(l.Receipts()) != 0 {
				t.Error("receipt journaled by rejected mutation")
			}
		})
	}
}

func TestLargestExtensionNeverShortens(t *testing.T) {
	ctx := context.Background()
	l, _ := open(t, memory.New(), id.NewUserID(), 0)

	first, err := l.ExtendVIP(ctx, ledger.MaxExtensionDays, "")
	if err != nil {
		t.Fatalf("ExtendVIP: %v", err)
	}
	second, err := l.ExtendVIP(ctx, ledger.MaxExtensionDays, "")
	if err != nil {
		t.Fatalf("ExtendVIP: %v", err)
	}
	if !second.After(first) {
		t.Errorf("second expiry %v is not after %v", second, first)
	}
}

func TestBalanceNeverNegativeUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	l, _ := open(t, memory.New(), id.NewUserID(), 100)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%4 == 0 {
				_, _ = l.Credit(ctx, 3, "refill")
				return
			}
			if _, err := l.Debit(ctx, 7, "spend"); err == nil {
				succeeded.Add(1)
			} else if !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
			if l.Balance() < 0 {
				t.Errorf("negative balance observed: %d", l.Balance())
			}
		}()
	}
	wg.Wait()

	want := int64(100) + 16*3 - succeeded.Load()*7
	if l.Balance() != want {
		t.Errorf("final balance = %d, want %d", l.Balance(), want)
	}
}

func TestExtendVIP(t *testing.T) {
	ctx := context.Background()

	t.Run("absent expiry starts from now", func(t *testing.T) {
		l, _ := open(t, memory.New(), id.NewUserID(), 0)
		exp, err := l.ExtendVIP(ctx, 7, "test")
		if err != nil {
			t.Fatal(err)
		}
		if !exp.Equal(t0.Add(7 * ledger.Day)) {
			t.Errorf("expiry = %v", exp)
		}
		if !l.IsVIPActive() {
			t.Error("expected VIP active")
		}
	})

	t.Run("future expiry is extended additively", func(t *testing.T) {
		l, _ := open(t, memory.New(), id.NewUserID(), 0)
		_, _ = l.ExtendVIP(ctx, 7, "first")
		exp, _ := l.ExtendVIP(ctx, 7, "second")
		if !exp.Equal(t0.Add(14 * ledger.Day)) {
			t.Errorf("expiry = %v, want T+14d", exp)
		}
	})

	t.Run("lapsed expiry restarts from now", func(t *testing.T) {
		l, c := open(t, memory.New(), id.NewUserID(), 0)
		_, _ = l.ExtendVIP(ctx, 7, "first")
		c.Advance(10 * ledger.Day)
		if l.IsVIPActive() {
			t.Fatal("VIP should have lapsed")
		}
		exp, _ := l.ExtendVIP(ctx, 30, "second")
		if !exp.Equal(t0.Add(40 * ledger.Day)) {
			t.Errorf("expiry = %v, want T+40d", exp)
		}
	})

	t.Run("expiry equal to now is inactive", func(t *testing.T) {
		l, c := open(t, memory.New(), id.NewUserID(), 0)
		_, _ = l.ExtendVIP(ctx, 1, "test")
		c.Advance(ledger.Day)
		if l.IsVIPActive() {
			t.Error("expiry == now must not be active")
		}
	})
}

func TestSubscriptionScenario(t *testing.T) {
	ctx := context.Background()
	l, c := open(t, memory.New(), id.NewUserID(), 0)
	weekly, _ := catalog.Default().Describe(catalog.VIPWeekly)

	if _, err := l.Grant(ctx, ledger.GrantFor(weekly, "t1", "t1", entitlement.OriginPurchase)); err != nil {
		t.Fatal(err)
	}
	c.Advance(ledger.Day)
	if _, err := l.Grant(ctx, ledger.GrantFor(weekly, "t2", "t2", entitlement.OriginPurchase)); err != nil {
		t.Fatal(err)
	}

	exp, ok := l.VIPExpiry()
	if !ok || !exp.Equal(t0.Add(14*ledger.Day)) {
		t.Errorf("expiry = %v, want T+14d", exp)
	}
}

func TestGrantIsIdempotentAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	uid := id.NewUserID()
	coins, _ := catalog.Default().Describe(catalog.Coins100)

	l, _ := open(t, s, uid, 0)
	rcpt, err := l.Grant(ctx, ledger.GrantFor(coins, "1000001", "1000001", entitlement.OriginPurchase))
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if rcpt.Coins != 100 || rcpt.ID.Prefix() != id.PrefixReceipt {
		t.Errorf("unexpected receipt %+v", rcpt)
	}

	if _, err := l.Grant(ctx, ledger.GrantFor(coins, "1000001", "1000001", entitlement.OriginPurchase)); !errors.Is(err, ledger.ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}

	reopened, _ := open(t, s, uid, 0)
	if _, err := reopened.Grant(ctx, ledger.GrantFor(coins, "1000001", "1000001", entitlement.OriginRestore)); !errors.Is(err, ledger.ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied after restart, got %v", err)
	}
	if reopened.Balance() != 100 {
		t.Errorf("balance = %d, want 100", reopened.Balance())
	}
	if len(reopened.Receipts()) != 1 {
		t.Errorf("receipts = %d, want 1", len(reopened.Receipts()))
	}
}

func TestGrantValidation(t *testing.T) {
	ctx := context.Background()
	l, _ := open(t, memory.New(), id.NewUserID(), 0)

	bad := []ledger.Grant{
		{ProductID: "p", Coins: 1},
		{TransactionKey: "k", ProductID: "p", Coins: -1},
		{TransactionKey: "k", ProductID: "p", Coins: 1, Days: 1},
	}
	for _, g := range bad {
		if _, err := l.Grant(ctx, g); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("Grant(%+v): expected ErrInvalidAmount, got %v", g, err)
		}
	}
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	uid := id.NewUserID()
	l, _ := open(t, s, uid, 10)

	s.FailSaves(errors.New("disk full"))
	if _, err := l.Credit(ctx, 5, "test"); !errors.Is(err, ledger.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if _, err := l.Grant(ctx, ledger.Grant{TransactionKey: "k", ProductID: "p", Coins: 5}); !errors.Is(err, ledger.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if l.Balance() != 10 || len(l.Receipts()) != 0 {
		t.Fatalf("state mutated despite persistence failure: %+v", l.Snapshot())
	}

	s.FailSaves(nil)
	if _, err := l.Grant(ctx, ledger.Grant{TransactionKey: "k", ProductID: "p", Coins: 5}); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	stored, _ := s.GetState(ctx, uid)
	if stored.CoinBalance != 15 {
		t.Errorf("stored balance = %d, want 15", stored.CoinBalance)
	}
}

func TestSpendUnlessVIP(t *testing.T) {
	ctx := context.Background()
	l, _ := open(t, memory.New(), id.NewUserID(), 1)

	charged, bal, err := l.SpendUnlessVIP(ctx, 1, "chat message")
	if err != nil || !charged || bal != 0 {
		t.Fatalf("first message: charged=%v bal=%d err=%v", charged, bal, err)
	}
	if _, _, err := l.SpendUnlessVIP(ctx, 1, "chat message"); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	_, _ = l.ExtendVIP(ctx, 7, "vip")
	charged, bal, err = l.SpendUnlessVIP(ctx, 1, "chat message")
	if err != nil || charged || bal != 0 {
		t.Fatalf("VIP message: charged=%v bal=%d err=%v", charged, bal, err)
	}
}

func TestEventsFollowCommittedMutations(t *testing.T) {
	ctx := context.Background()
	reg := plugin.NewRegistry()
	ev := &events{}
	_ = reg.Register(ev)

	uid := id.NewUserID()
	l, _ := open(t, memory.New(), uid, 0, ledger.WithPlugins(reg))

	_, _ = l.Credit(ctx, 100, "purchase")
	_, _ = l.Debit(ctx, 500, "too much")
	_, _ = l.ExtendVIP(ctx, 7, "vip")
	monthly, _ := catalog.Default().Describe(catalog.VIPMonthly)
	_, _ = l.Grant(ctx, ledger.GrantFor(monthly, "t9", "t9", entitlement.OriginRestore))

	if len(ev.balances) != 1 || ev.balances[0].Delta() != 100 {
		t.Errorf("balance events = %+v", ev.balances)
	}
	if len(ev.vips) != 2 || ev.vips[1].Days != 30 || ev.vips[1].TransactionID != "t9" {
		t.Errorf("vip events = %+v", ev.vips)
	}
	if ev.vips[0].Before != nil {
		t.Errorf("first VIP event should have no previous expiry")
	}

	if err := l.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if len(ev.resets) != 1 || ev.resets[0] != uid.String() {
		t.Errorf("reset events = %v", ev.resets)
	}
}

func TestEventSequenceMatchesCommitOrder(t *testing.T) {
	ctx := context.Background()
	reg := plugin.NewRegistry()
	ev := &events{}
	_ = reg.Register(ev)

	l, _ := open(t, memory.New(), id.NewUserID(), 0, ledger.WithPlugins(reg))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Credit(ctx, 1, "tick")
		}()
	}
	wg.Wait()
	_, _ = l.ExtendVIP(ctx, 7, "vip")

	ev.mu.Lock()
	defer ev.mu.Unlock()

	if len(ev.balances) != 50 {
		t.Fatalf("balance events = %d, want 50", len(ev.balances))
	}
	bySeq := make(map[uint64]plugin.BalanceChange, len(ev.balances))
	for _, c := range ev.balances {
		if _, dup := bySeq[c.Seq]; dup {
			t.Fatalf("duplicate seq %d", c.Seq)
		}
		bySeq[c.Seq] = c
	}
	for seq := uint64(1); seq <= 50; seq++ {
		c, ok := bySeq[seq]
		if !ok {
			t.Fatalf("missing seq %d", seq)
		}
		if c.After != int64(seq) {
			t.Errorf("seq %d carries balance %d", seq, c.After)
		}
	}
	if len(ev.vips) != 1 || ev.vips[0].Seq != 51 {
		t.Errorf("vip events = %+v", ev.vips)
	}
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l, _ := open(t, s, id.NewUserID(), 5)

	if err := l.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if s.Len() != 0 {
		t.Error("state still persisted after Destroy")
	}
	if _, err := l.Credit(ctx, 1, ""); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := l.Destroy(ctx); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("second Destroy: %v", err)
	}
}
