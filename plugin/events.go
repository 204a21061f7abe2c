package plugin

import "time"

// BalanceChange describes a committed coin balance mutation.
//
// Events are dispatched after the ledger lock is released, so concurrent
// mutations may reach a plugin out of commit order. Seq increases with
// every commit of the ledger; a plugin that tracks the latest balance
// should ignore events with a Seq lower than one already seen.
type BalanceChange struct {
	Seq           uint64    `json:"seq"`
	UserID        string    `json:"user_id"`
	Before        int64     `json:"before"`
	After         int64     `json:"after"`
	Reason        string    `json:"reason"`
	TransactionID string    `json:"transaction_id,omitempty"`
	At            time.Time `json:"at"`
}

// Delta returns the signed change in balance.
func (c BalanceChange) Delta() int64 { return c.After - c.Before }

// VIPChange describes a committed extension of the VIP window. Seq orders
// it among the ledger's commits as for BalanceChange.
type VIPChange struct {
	Seq           uint64     `json:"seq"`
	UserID        string     `json:"user_id"`
	Before        *time.Time `json:"before,omitempty"`
	After         time.Time  `json:"after"`
	Days          int        `json:"days"`
	Reason        string     `json:"reason"`
	TransactionID string     `json:"transaction_id,omitempty"`
	At            time.Time  `json:"at"`
}

// Reconciliation describes how one store transaction was handled.
type Reconciliation struct {
	TransactionID  string `json:"transaction_id"`
	ProductID      string `json:"product_id"`
	State          string `json:"state"`
	Disposition    string `json:"disposition"`
	RequestID      string `json:"request_id,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// RestoreSummary describes a completed restore run.
type RestoreSummary struct {
	RequestID   string        `json:"request_id"`
	Redelivered int           `json:"redelivered"`
	Applied     int           `json:"applied"`
	Duplicates  int           `json:"duplicates"`
	Rejected    int           `json:"rejected"`
	Elapsed     time.Duration `json:"elapsed"`
}
