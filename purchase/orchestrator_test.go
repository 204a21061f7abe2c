package purchase_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/appstore/sim"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/ledger"
	"github.com/xraph/purse/purchase"
	"github.com/xraph/purse/reconcile"
	"github.com/xraph/purse/store/memory"
)

type harness struct {
	store  *sim.Store
	ledger *ledger.Ledger
	orch   *purchase.Orchestrator
}

func newHarness(t *testing.T, opts ...sim.Option) *harness {
	t.Helper()
	cat := catalog.Default()
	store := sim.New(append([]sim.Option{sim.FromCatalog(cat)}, opts...)...)

	l, err := ledger.Open(context.Background(), memory.New(), id.NewUserID())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	orch := purchase.New(store, cat, reconcile.New(cat, l, store))
	orch.Attach()
	t.Cleanup(store.Wait)

	return &harness{store: store, ledger: l, orch: orch}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		runtime.Gosched()
	}
}

func TestPurchaseConsumable(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.Purchase(context.Background(), catalog.Coins100)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if out.Status != purchase.StatusSucceeded || out.ProductID != catalog.Coins100 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Receipt == nil || out.Receipt.Coins != 100 {
		t.Errorf("receipt = %+v", out.Receipt)
	}
	if out.RequestID.Prefix() != id.PrefixRequest {
		t.Errorf("request id = %q", out.RequestID)
	}
	if h.ledger.Balance() != 100 {
		t.Errorf("balance = %d, want 100", h.ledger.Balance())
	}

	h.store.Wait()
	if len(h.store.Finished()) != 1 || len(h.store.Unfinished()) != 0 {
		t.Error("transaction not finished with the store")
	}
}

func TestPurchaseSubscription(t *testing.T) {
	h := newHarness(t)

	if _, err := h.orch.Purchase(context.Background(), catalog.VIPMonthly); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if !h.ledger.IsVIPActive() {
		t.Error("VIP should be active")
	}
}

func TestPurchaseFailsFast(t *testing.T) {
	t.Run("unknown product", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.orch.Purchase(context.Background(), "com.x.ghost")
		if !errors.Is(err, catalog.ErrNotFound) {
			t.Fatalf("expected catalog.ErrNotFound, got %v", err)
		}
	})

	t.Run("payments disabled", func(t *testing.T) {
		h := newHarness(t, sim.WithPaymentsDisabled())
		_, err := h.orch.Purchase(context.Background(), catalog.Coins100)
		if !errors.Is(err, purchase.ErrPaymentsDisabled) {
			t.Fatalf("expected ErrPaymentsDisabled, got %v", err)
		}
		if len(h.store.Unfinished()) != 0 || h.orch.Pending() != 0 {
			t.Error("nothing should have been submitted")
		}
	})
}

func TestPurchaseFailureCarriesStoreReason(t *testing.T) {
	h := newHarness(t)
	h.store.SetBehavior(catalog.Coins300, sim.Fail(appstore.CodeInvalid, "card declined"))

	out, err := h.orch.Purchase(context.Background(), catalog.Coins300)
	if !errors.Is(err, purchase.ErrPurchaseFailed) {
		t.Fatalf("expected ErrPurchaseFailed, got %v", err)
	}
	var se *appstore.StoreError
	if !errors.As(err, &se) || se.Code != appstore.CodeInvalid || se.Message != "card declined" {
		t.Errorf("store error = %v", err)
	}
	if out.Status != purchase.StatusFailed {
		t.Errorf("status = %s", out.Status)
	}
	if h.ledger.Balance() != 0 {
		t.Errorf("balance = %d", h.ledger.Balance())
	}
}

func TestDeferredPurchaseResolvesLater(t *testing.T) {
	h := newHarness(t)
	h.store.SetBehavior(catalog.VIPWeekly, sim.Defer)

	out, err := h.orch.Purchase(context.Background(), catalog.VIPWeekly)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if out.Status != purchase.StatusDeferred {
		t.Fatalf("status = %s, want deferred", out.Status)
	}
	if h.ledger.IsVIPActive() {
		t.Fatal("deferred purchase must not grant")
	}

	deferred := h.store.Deferred()
	if len(deferred) != 1 {
		t.Fatalf("deferred = %v", deferred)
	}
	if err := h.store.Resolve(deferred[0], sim.Approve); err != nil {
		t.Fatal(err)
	}
	h.store.Wait()

	if !h.ledger.IsVIPActive() {
		t.Error("approved deferred purchase should grant VIP")
	}
}

func TestAbandonedWaitStillGrants(t *testing.T) {
	h := newHarness(t)
	h.store.Hold()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.orch.Purchase(ctx, catalog.Coins600)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if h.orch.Pending() != 0 {
		t.Error("abandoned waiter not dropped")
	}

	h.store.Release()
	h.store.Wait()

	if h.ledger.Balance() != 600 {
		t.Errorf("balance = %d, want 600", h.ledger.Balance())
	}
	if len(h.store.Unfinished()) != 0 {
		t.Error("transaction should be finished")
	}
}

func TestConcurrentPurchasesAreCorrelated(t *testing.T) {
	h := newHarness(t)
	products := []string{
		catalog.Coins100, catalog.Coins300, catalog.Coins600, catalog.Coins1500,
		catalog.Coins100, catalog.Coins300, catalog.Coins600, catalog.Coins1500,
	}
	cat := catalog.Default()

	var wg sync.WaitGroup
	for _, pid := range products {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.orch.Purchase(context.Background(), pid)
			if err != nil {
				t.Errorf("Purchase(%s): %v", pid, err)
				return
			}
			p, _ := cat.Describe(pid)
			if out.ProductID != pid || out.Receipt.Coins != p.CoinAmount {
				t.Errorf("request for %s received outcome %+v", pid, out)
			}
		}()
	}
	wg.Wait()

	if h.ledger.Balance() != 2*(100+300+600+1500) {
		t.Errorf("balance = %d", h.ledger.Balance())
	}
}

func TestRestoreBatchWithPriorPurchase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.SeedHistory(
		appstore.Transaction{ID: "orig-1", Payment: appstore.Payment{ProductID: catalog.VIPWeekly}},
		appstore.Transaction{ID: "orig-2", Payment: appstore.Payment{ProductID: catalog.VIPMonthly}},
		appstore.Transaction{ID: "orig-3", Payment: appstore.Payment{ProductID: catalog.VIPWeekly}},
	)

	weekly, _ := catalog.Default().Describe(catalog.VIPWeekly)
	if _, err := h.ledger.Grant(ctx, ledger.GrantFor(weekly, "orig-1", "orig-1", entitlement.OriginPurchase)); err != nil {
		t.Fatal(err)
	}

	out, err := h.orch.RestorePurchases(ctx)
	if err != nil {
		t.Fatalf("RestorePurchases: %v", err)
	}
	if out.Redelivered != 3 || out.Applied != 2 || out.Duplicates != 1 {
		t.Errorf("outcome = %+v", out)
	}
	if out.NothingToRestore() {
		t.Error("NothingToRestore on a non-empty restore")
	}
	if len(h.ledger.Receipts()) != 3 {
		t.Errorf("receipts = %d, want 3", len(h.ledger.Receipts()))
	}
}

func TestEmptyRestore(t *testing.T) {
	h := newHarness(t)

	out, err := h.orch.RestorePurchases(context.Background())
	if err != nil {
		t.Fatalf("RestorePurchases: %v", err)
	}
	if !out.NothingToRestore() {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRestoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailRestores(errors.New("network down"))

	_, err := h.orch.RestorePurchases(context.Background())
	if !errors.Is(err, purchase.ErrRestoreFailed) {
		t.Fatalf("expected ErrRestoreFailed, got %v", err)
	}
}

func TestConcurrentRestoresJoin(t *testing.T) {
	h := newHarness(t)
	h.store.SeedHistory(appstore.Transaction{ID: "orig-1", Payment: appstore.Payment{ProductID: catalog.VIPWeekly}})
	h.store.Hold()

	results := make(chan *purchase.RestoreOutcome, 2)
	for range 2 {
		go func() {
			out, err := h.orch.RestorePurchases(context.Background())
			if err != nil {
				t.Errorf("RestorePurchases: %v", err)
			}
			results <- out
		}()
	}

	waitFor(t, func() bool { return h.store.RestoreRequests() == 1 })
	time.Sleep(20 * time.Millisecond)
	h.store.Release()

	a, b := <-results, <-results
	if a == nil || b == nil {
		t.Fatal("missing outcome")
	}
	if a.RequestID != b.RequestID {
		t.Errorf("restores did not join: %s vs %s", a.RequestID, b.RequestID)
	}
	if h.store.RestoreRequests() != 1 {
		t.Errorf("restore requests = %d, want 1", h.store.RestoreRequests())
	}
	if a.Applied != 1 {
		t.Errorf("applied = %d, want 1", a.Applied)
	}
}

// droppingStore loses the store's answer to the first restore request.
type droppingStore struct {
	*sim.Store

	mu    sync.Mutex
	calls int
}

func (d *droppingStore) RestoreCompletedTransactions(ctx context.Context) error {
	d.mu.Lock()
	d.calls++
	first := d.calls == 1
	d.mu.Unlock()

	if first {
		return nil
	}
	return d.Store.RestoreCompletedTransactions(ctx)
}

func (d *droppingStore) restoreCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestRestoreRetryAfterLostCompletion(t *testing.T) {
	cat := catalog.Default()
	store := &droppingStore{Store: sim.New(sim.FromCatalog(cat))}
	store.SeedHistory(appstore.Transaction{ID: "orig-1", Payment: appstore.Payment{ProductID: catalog.VIPWeekly}})
	t.Cleanup(store.Wait)

	l, err := ledger.Open(context.Background(), memory.New(), id.NewUserID())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	orch := purchase.New(store, cat, reconcile.New(cat, l, store))
	orch.Attach()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := orch.RestorePurchases(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first restore: expected deadline exceeded, got %v", err)
	}

	retryCtx, retryCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer retryCancel()
	out, err := orch.RestorePurchases(retryCtx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if store.restoreCalls() != 2 {
		t.Errorf("store restore calls = %d, want 2", store.restoreCalls())
	}
	if out.Applied != 1 || !l.IsVIPActive() {
		t.Errorf("retry outcome = %+v, vip active = %v", out, l.IsVIPActive())
	}
}

func TestRestoreStaysJoinedWhileACallerWaits(t *testing.T) {
	h := newHarness(t)
	h.store.Hold()

	patient := make(chan error, 1)
	go func() {
		_, err := h.orch.RestorePurchases(context.Background())
		patient <- err
	}()
	waitFor(t, func() bool { return h.store.RestoreRequests() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.orch.RestorePurchases(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("impatient restore: expected deadline exceeded, got %v", err)
	}

	h.store.Release()
	if err := <-patient; err != nil {
		t.Fatalf("patient restore: %v", err)
	}
	if h.store.RestoreRequests() != 1 {
		t.Errorf("restore requests = %d, want 1", h.store.RestoreRequests())
	}
}

func TestFetchCatalogMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("whole catalog", func(t *testing.T) {
		h := newHarness(t)
		meta, err := h.orch.FetchCatalogMetadata(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(meta) != catalog.Default().Len() {
			t.Errorf("got %d products", len(meta))
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.orch.FetchCatalogMetadata(ctx, []string{"com.x.ghost"}); !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("store unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.store.FailListProducts(errors.New("offline"))
		if _, err := h.orch.FetchCatalogMetadata(ctx, nil); !errors.Is(err, purchase.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("no products", func(t *testing.T) {
		cat := catalog.Default()
		store := sim.New()
		l, _ := ledger.Open(ctx, memory.New(), id.NewUserID())
		orch := purchase.New(store, cat, reconcile.New(cat, l, store))

		if _, err := orch.FetchCatalogMetadata(ctx, []string{catalog.VIPWeekly}); !errors.Is(err, purchase.ErrNoProductsFound) {
			t.Errorf("expected ErrNoProductsFound, got %v", err)
		}
	})
}

func TestDetachReleasesWaiters(t *testing.T) {
	h := newHarness(t)
	h.store.Hold()

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Purchase(context.Background(), catalog.Coins100)
		errc <- err
	}()

	waitFor(t, func() bool { return h.orch.Pending() == 1 })
	h.orch.Detach()

	if err := <-errc; !errors.Is(err, purchase.ErrDetached) {
		t.Errorf("expected ErrDetached, got %v", err)
	}
	h.store.Release()
}

func TestRequestsAfterDetachFail(t *testing.T) {
	h := newHarness(t)
	h.orch.Detach()

	if _, err := h.orch.Purchase(context.Background(), catalog.Coins100); !errors.Is(err, purchase.ErrDetached) {
		t.Errorf("Purchase: expected ErrDetached, got %v", err)
	}
	if _, err := h.orch.RestorePurchases(context.Background()); !errors.Is(err, purchase.ErrDetached) {
		t.Errorf("RestorePurchases: expected ErrDetached, got %v", err)
	}
	if h.orch.Pending() != 0 {
		t.Errorf("pending = %d, want 0", h.orch.Pending())
	}

	h.orch.Attach()
	if _, err := h.orch.Purchase(context.Background(), catalog.Coins100); err != nil {
		t.Errorf("Purchase after Attach: %v", err)
	}
}

func TestUnfinishedTransactionsFromEarlierSession(t *testing.T) {
	cat := catalog.Default()
	store := sim.New(sim.FromCatalog(cat))

	// The app quit before observing the purchase.
	_ = store.SubmitPayment(context.Background(), appstore.Payment{ProductID: catalog.Coins1500})
	store.Wait()

	l, _ := ledger.Open(context.Background(), memory.New(), id.NewUserID())
	orch := purchase.New(store, cat, reconcile.New(cat, l, store))
	orch.Attach()
	store.Wait()

	if l.Balance() != 1500 {
		t.Errorf("balance = %d, want 1500", l.Balance())
	}
	if len(store.Unfinished()) != 0 {
		t.Error("redelivered transaction not finished")
	}
}
