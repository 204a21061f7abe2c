package ledger

import (
	"fmt"

	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/entitlement"
)

// Grant is the entitlement effect of one store transaction.
type Grant struct {
	TransactionKey string
	TransactionID  string
	ProductID      string
	Origin         entitlement.Origin
	Coins          int64
	Days           int
}

// GrantFor builds the grant a product confers for a transaction.
func GrantFor(p catalog.Product, key, txnID string, origin entitlement.Origin) Grant {
	g := Grant{
		TransactionKey: key,
		TransactionID:  txnID,
		ProductID:      p.ID,
		Origin:         origin,
	}
	if p.IsSubscription() {
		g.Days = p.SubscriptionDays
	} else {
		g.Coins = p.CoinAmount
	}
	return g
}

func (g Grant) validate() error {
	switch {
	case g.TransactionKey == "":
		return fmt.Errorf("%w: grant without transaction key", ErrInvalidAmount)
	case g.Coins < 0 || g.Days < 0:
		return fmt.Errorf("%w: negative grant for %s", ErrInvalidAmount, g.ProductID)
	case g.Days > MaxExtensionDays:
		return fmt.Errorf("%w: grant of %d days for %s", ErrInvalidAmount, g.Days, g.ProductID)
	case g.Coins > 0 && g.Days > 0:
		return fmt.Errorf("%w: grant for %s mixes coins and days", ErrInvalidAmount, g.ProductID)
	}
	return nil
}
