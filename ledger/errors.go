package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned by Debit when the balance does not
	// cover the amount. No mutation happens.
	ErrInsufficientFunds = errors.New("purse: insufficient coin balance")

	// ErrInvalidAmount is returned for negative coin amounts, credits that
	// would overflow the balance, and day counts outside
	// 1..MaxExtensionDays.
	ErrInvalidAmount = errors.New("purse: invalid amount")

	// ErrAlreadyApplied is returned by Grant when the transaction key is
	// already in the receipt journal.
	ErrAlreadyApplied = errors.New("purse: transaction already applied")

	// ErrPersist wraps store failures. The in-memory state is unchanged
	// when it is returned.
	ErrPersist = errors.New("purse: persist entitlement state")

	// ErrClosed is returned after Destroy.
	ErrClosed = errors.New("purse: ledger is closed")
)
