package appstore_test

import (
	"errors"
	"testing"

	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/types"
)

func TestIdempotencyKey(t *testing.T) {
	tests := []struct {
		name string
		txn  appstore.Transaction
		want string
	}{
		{"purchase", appstore.Transaction{ID: "t1"}, "t1"},
		{"restore", appstore.Transaction{ID: "t2", OriginalID: "t1"}, "t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.txn.IdempotencyKey(); got != tt.want {
				t.Errorf("IdempotencyKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransactionStateTerminal(t *testing.T) {
	terminal := map[appstore.TransactionState]bool{
		appstore.StatePurchasing: false,
		appstore.StateDeferred:   false,
		appstore.StatePurchased:  true,
		appstore.StateRestored:   true,
		appstore.StateFailed:     true,
	}
	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestStoreError(t *testing.T) {
	var err error = &appstore.StoreError{Code: appstore.CodeCancelled, Message: "user cancelled"}
	if err.Error() != "appstore: payment_cancelled: user cancelled" {
		t.Errorf("Error() = %q", err.Error())
	}

	var se *appstore.StoreError
	if !errors.As(err, &se) || se.Message != "user cancelled" {
		t.Error("errors.As failed")
	}
}

func TestDisplayPrice(t *testing.T) {
	m := appstore.ProductMetadata{ID: "p", Price: types.USD("12.99")}
	if m.DisplayPrice() != "$12.99" {
		t.Errorf("DisplayPrice() = %q", m.DisplayPrice())
	}
}
