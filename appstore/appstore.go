// Package appstore defines the boundary between purse and the platform
// commerce store. The store is reliable at least once: it may deliver the
// same transaction several times, across process restarts, until the
// transaction is finished.
package appstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/purse/types"
)

// TransactionState is the store-reported state of a transaction.
type TransactionState string

const (
	StatePurchasing TransactionState = "purchasing"
	StatePurchased  TransactionState = "purchased"
	StateFailed     TransactionState = "failed"
	StateRestored   TransactionState = "restored"
	StateDeferred   TransactionState = "deferred"
)

// IsTerminal reports whether the store will not move the transaction on
// without further outside action.
func (s TransactionState) IsTerminal() bool {
	switch s {
	case StatePurchased, StateFailed, StateRestored:
		return true
	default:
		return false
	}
}

// Payment is a request to buy one product. ApplicationToken is echoed back
// on every transaction the payment produces and correlates the store's
// answer with the request that caused it.
type Payment struct {
	ProductID        string `json:"product_id"`
	ApplicationToken string `json:"application_token,omitempty"`
}

// StoreError is a failure reported by the store. Code and Message are
// passed to the UI verbatim.
type StoreError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StoreError) Error() string {
	if e.Code == "" {
		return "appstore: " + e.Message
	}
	return fmt.Sprintf("appstore: %s: %s", e.Code, e.Message)
}

// Common store error codes.
const (
	CodeUnknown          = "unknown"
	CodeCancelled        = "payment_cancelled"
	CodeInvalid          = "payment_invalid"
	CodeNotAllowed       = "payment_not_allowed"
	CodeNetwork          = "network_unavailable"
	CodeProductNotOnSale = "product_not_available"
)

// Transaction is one store purchase attempt as reported by the store.
// OriginalID is set on restored transactions and names the purchase being
// restored.
type Transaction struct {
	ID         string           `json:"id"`
	OriginalID string           `json:"original_id,omitempty"`
	Payment    Payment          `json:"payment"`
	State      TransactionState `json:"state"`
	Error      *StoreError      `json:"error,omitempty"`
	Date       time.Time        `json:"date"`
}

// IdempotencyKey identifies the real-world purchase behind t. A restored
// transaction and the purchase it restores share a key.
func (t Transaction) IdempotencyKey() string {
	if t.OriginalID != "" {
		return t.OriginalID
	}
	return t.ID
}

// ProductMetadata is the store's localized description of a product.
type ProductMetadata struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       types.Price `json:"price"`
}

// DisplayPrice returns the localized price string shown on buy buttons.
func (m ProductMetadata) DisplayPrice() string { return m.Price.String() }

// ProductsResponse answers a ListProducts request. InvalidIDs lists the
// requested ids the store does not sell.
type ProductsResponse struct {
	Products   []ProductMetadata `json:"products"`
	InvalidIDs []string          `json:"invalid_ids,omitempty"`
}

// Observer receives asynchronous store callbacks. Calls may arrive on any
// goroutine, concurrently, and long after the request that caused them.
type Observer interface {
	TransactionsUpdated(ctx context.Context, txns []Transaction)
	RestoreCompleted(ctx context.Context)
	RestoreFailed(ctx context.Context, err error)
}

// Finisher acknowledges a transaction so the store stops redelivering it.
type Finisher interface {
	Finish(ctx context.Context, txn Transaction) error
}

// Client is the platform commerce store.
type Client interface {
	Finisher

	// SetObserver installs the receiver of asynchronous callbacks.
	// Unfinished transactions are redelivered to a newly set observer.
	SetObserver(o Observer)

	// CanMakePayments reports whether this device may make payments.
	CanMakePayments() bool

	ListProducts(ctx context.Context, ids []string) (*ProductsResponse, error)

	// SubmitPayment enqueues a payment. Its outcome arrives through the
	// observer.
	SubmitPayment(ctx context.Context, p Payment) error

	// RestoreCompletedTransactions asks the store to redeliver completed
	// subscription purchases as restored transactions, followed by
	// RestoreCompleted or RestoreFailed.
	RestoreCompletedTransactions(ctx context.Context) error
}
