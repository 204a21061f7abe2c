package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
)

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	now := time.Date(2026, 3, 1, 9, 30, 15, 123456789, time.UTC)
	exp := now.Add(7 * 24 * time.Hour)
	st := entitlement.NewState(id.NewUserID(), 250, now)
	st.VIPExpiry = &exp
	st.Receipts = []entitlement.Receipt{{
		ID:             id.NewReceiptID(),
		TransactionKey: "1000000001",
		TransactionID:  "1000000001",
		ProductID:      "com.oiyo.weekly",
		Origin:         entitlement.OriginPurchase,
		Days:           7,
		AppliedAt:      now,
	}}

	if err := s.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, err := s.GetState(ctx, st.UserID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.CoinBalance != 250 || !got.VIPExpiry.Equal(exp) || got.VIPExpiry.Nanosecond() != exp.Nanosecond() {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.HasReceipt("1000000001") {
		t.Error("receipt journal lost")
	}

	// Mutating the returned copy must not leak into the store.
	got.CoinBalance = 0
	again, _ := s.GetState(ctx, st.UserID)
	if again.CoinBalance != 250 {
		t.Error("store returned an aliased record")
	}
}

func TestGetMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	uid := id.NewUserID()

	if _, err := s.GetState(ctx, uid); !errors.Is(err, entitlement.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteState(ctx, uid); !errors.Is(err, entitlement.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}

	_ = s.SaveState(ctx, entitlement.NewState(uid, 1, time.Now()))
	if err := s.DeleteState(ctx, uid); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after delete", s.Len())
	}
}

func TestFailSavesAndClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("disk full")

	s.FailSaves(boom)
	if err := s.SaveState(ctx, entitlement.NewState(id.NewUserID(), 1, time.Now())); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.FailSaves(nil)

	_ = s.Close()
	if err := s.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
