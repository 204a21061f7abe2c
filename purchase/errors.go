package purchase

import (
	"errors"

	"github.com/xraph/purse/reconcile"
)

var (
	// ErrPaymentsDisabled is returned when the device may not make payments.
	// Nothing is submitted to the store.
	ErrPaymentsDisabled = errors.New("purse: payments are disabled on this device")

	// ErrNoProductsFound is returned when the store knows none of the
	// requested products.
	ErrNoProductsFound = errors.New("purse: no products found")

	// ErrStoreUnavailable wraps transient store failures. Callers may retry.
	ErrStoreUnavailable = errors.New("purse: store unavailable")

	// ErrPurchaseFailed wraps the store's reason for a failed purchase.
	ErrPurchaseFailed = reconcile.ErrPurchaseFailed

	// ErrRestoreFailed wraps the store's reason for a failed restore.
	ErrRestoreFailed = errors.New("purse: restore failed")

	// ErrDetached is returned to waiters still pending when the
	// orchestrator stops observing the store.
	ErrDetached = errors.New("purse: purchase orchestrator detached")
)
