package audithook

// Action constants for audit events.
const (
	// Ledger actions
	ActionCoinsCredited = "coins.credited"
	ActionCoinsDebited  = "coins.debited"
	ActionVIPExtended   = "vip.extended"
	ActionLedgerReset   = "ledger.reset"

	// Reconciliation actions
	ActionTransactionApplied = "transaction.applied"
	ActionDuplicateDelivery  = "transaction.duplicate"
	ActionUnknownProduct     = "transaction.unknown_product"
	ActionPurchaseFailed     = "purchase.failed"
	ActionPurchaseDeferred   = "purchase.deferred"

	// Restore actions
	ActionRestoreCompleted = "restore.completed"
	ActionRestoreFailed    = "restore.failed"
)

// Resource constants for audit events.
const (
	ResourceBalance     = "balance"
	ResourceVIP         = "vip"
	ResourceUser        = "user"
	ResourceTransaction = "transaction"
	ResourceRestore     = "restore"
)

// Category constants for audit events.
const (
	CategoryEntitlement = "entitlement"
	CategoryPurchase    = "purchase"
	CategoryAccount     = "account"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)
