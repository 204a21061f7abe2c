package entitlement

import (
	"time"

	"github.com/xraph/purse/id"
	"github.com/xraph/purse/types"
)

// State is the persisted entitlement record of one user: the coin balance,
// the VIP window and the journal of store transactions already applied.
type State struct {
	types.Entity
	UserID      id.UserID  `json:"user_id"`
	CoinBalance int64      `json:"coin_balance"`
	VIPExpiry   *time.Time `json:"vip_expiry,omitempty"`
	Receipts    []Receipt  `json:"receipts,omitempty"`
}

// Origin tells whether a receipt came from a purchase or a restore.
type Origin string

const (
	OriginPurchase Origin = "purchase"
	OriginRestore  Origin = "restore"
)

// Receipt records that a store transaction has been applied. TransactionKey
// is the idempotency key: the original transaction id for restores and the
// transaction id otherwise.
type Receipt struct {
	ID             id.ReceiptID `json:"id"`
	TransactionKey string       `json:"transaction_key"`
	TransactionID  string       `json:"transaction_id"`
	ProductID      string       `json:"product_id"`
	Origin         Origin       `json:"origin"`
	Coins          int64        `json:"coins,omitempty"`
	Days           int          `json:"days,omitempty"`
	AppliedAt      time.Time    `json:"applied_at"`
}

// NewState returns a fresh state for userID with the given starting balance.
func NewState(userID id.UserID, startingBalance int64, now time.Time) *State {
	return &State{
		Entity:      types.NewEntityAt(now),
		UserID:      userID,
		CoinBalance: startingBalance,
	}
}

// IsVIPActive reports whether the VIP window is set and ends strictly after now.
func (s *State) IsVIPActive(now time.Time) bool {
	return s.VIPExpiry != nil && s.VIPExpiry.After(now)
}

// HasEnough reports whether the balance covers amount.
func (s *State) HasEnough(amount int64) bool {
	return s.CoinBalance >= amount
}

// HasReceipt reports whether key has already been applied.
func (s *State) HasReceipt(key string) bool {
	for i := range s.Receipts {
		if s.Receipts[i].TransactionKey == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := *s
	if s.VIPExpiry != nil {
		exp := *s.VIPExpiry
		c.VIPExpiry = &exp
	}
	c.Receipts = append([]Receipt(nil), s.Receipts...)
	return &c
}
