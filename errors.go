package purse

import (
	"errors"

	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/ledger"
	"github.com/xraph/purse/purchase"
	"github.com/xraph/purse/reconcile"
)

// Sentinel errors for common failure scenarios. Most are owned by the
// package that enforces the rule and re-exported here.
var (
	// Engine errors
	ErrNotStarted      = errors.New("purse: engine not started")
	ErrAlreadyStarted  = errors.New("purse: engine already started")
	ErrMigrationFailed = errors.New("purse: migration failed")

	// Catalog errors
	ErrProductNotFound = catalog.ErrNotFound

	// Ledger errors
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrInvalidAmount     = ledger.ErrInvalidAmount
	ErrAlreadyApplied    = ledger.ErrAlreadyApplied
	ErrPersist           = ledger.ErrPersist
	ErrLedgerClosed      = ledger.ErrClosed
	ErrStateNotFound     = entitlement.ErrNotFound

	// Store errors
	ErrPaymentsDisabled = purchase.ErrPaymentsDisabled
	ErrNoProductsFound  = purchase.ErrNoProductsFound
	ErrStoreUnavailable = purchase.ErrStoreUnavailable
	ErrPurchaseFailed   = purchase.ErrPurchaseFailed
	ErrRestoreFailed    = purchase.ErrRestoreFailed
	ErrDetached         = purchase.ErrDetached

	// Reconciliation errors
	ErrUnknownState = reconcile.ErrUnknownState
)

// ValidationError is re-exported from the catalog package.
type ValidationError = catalog.ValidationError

// IsConfigurationError reports misconfiguration: a product id missing
// from the catalog or an invalid catalog entry. Not retryable.
func IsConfigurationError(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrUnknownState) ||
		errors.As(err, &ve)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried by the user.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrPersist) ||
		errors.Is(err, ErrRestoreFailed)
}

// IsBusinessRuleError reports a rule the user can resolve, such as buying
// more coins.
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrPaymentsDisabled)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrNoProductsFound) ||
		errors.Is(err, ErrStateNotFound)
}
