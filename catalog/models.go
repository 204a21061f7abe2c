package catalog

import (
	"fmt"

	"github.com/xraph/purse/types"
)

// Kind selects the entitlement a product grants.
type Kind string

const (
	// KindConsumable credits CoinAmount coins per purchase.
	KindConsumable Kind = "consumable"
	// KindSubscription extends VIP by SubscriptionDays per purchase.
	KindSubscription Kind = "subscription"
)

// Upper bounds on a single product's effect.
const (
	MaxCoinAmount       int64 = 1_000_000_000
	MaxSubscriptionDays       = 3660
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindConsumable || k == KindSubscription
}

// Product describes one purchasable store product and the entitlement it
// grants. Exactly one of CoinAmount and SubscriptionDays is meaningful,
// selected by Kind.
type Product struct {
	ID               string      `json:"id" yaml:"id"`
	Kind             Kind        `json:"kind" yaml:"kind"`
	Title            string      `json:"title" yaml:"title"`
	Price            types.Price `json:"price" yaml:"-"`
	CoinAmount       int64       `json:"coin_amount,omitempty" yaml:"coin_amount,omitempty"`
	SubscriptionDays int         `json:"subscription_days,omitempty" yaml:"subscription_days,omitempty"`
	Benefits         []string    `json:"benefits,omitempty" yaml:"benefits,omitempty"`
}

// IsConsumable reports whether p credits coins.
func (p Product) IsConsumable() bool { return p.Kind == KindConsumable }

// IsSubscription reports whether p extends VIP.
func (p Product) IsSubscription() bool { return p.Kind == KindSubscription }

// Validate checks that the product's effect parameters match its kind.
func (p Product) Validate() error {
	switch {
	case p.ID == "":
		return &ValidationError{Field: "id", Message: "must not be empty"}
	case !p.Kind.Valid():
		return &ValidationError{Product: p.ID, Field: "kind", Message: fmt.Sprintf("unknown kind %q", p.Kind)}
	case p.Price.Amount.IsNegative():
		return &ValidationError{Product: p.ID, Field: "price", Message: "must not be negative"}
	}

	if p.IsConsumable() {
		if p.CoinAmount < 0 {
			return &ValidationError{Product: p.ID, Field: "coin_amount", Message: "must not be negative"}
		}
		if p.CoinAmount > MaxCoinAmount {
			return &ValidationError{Product: p.ID, Field: "coin_amount", Message: fmt.Sprintf("must not exceed %d", MaxCoinAmount)}
		}
		if p.SubscriptionDays != 0 {
			return &ValidationError{Product: p.ID, Field: "subscription_days", Message: "must be zero for consumables"}
		}
		return nil
	}

	if p.SubscriptionDays <= 0 {
		return &ValidationError{Product: p.ID, Field: "subscription_days", Message: "must be positive for subscriptions"}
	}
	if p.SubscriptionDays > MaxSubscriptionDays {
		return &ValidationError{Product: p.ID, Field: "subscription_days", Message: fmt.Sprintf("must not exceed %d", MaxSubscriptionDays)}
	}
	if p.CoinAmount != 0 {
		return &ValidationError{Product: p.ID, Field: "coin_amount", Message: "must be zero for subscriptions"}
	}
	return nil
}
