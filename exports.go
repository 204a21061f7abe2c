package purse

import (
	"github.com/xraph/purse/appstore"
	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/plugin"
	"github.com/xraph/purse/purchase"
	"github.com/xraph/purse/types"
)

// Re-export common types for convenience so users don't have to import
// every sub-package.

type (
	Price           = types.Price
	Entity          = types.Entity
	Product         = catalog.Product
	Receipt         = entitlement.Receipt
	ProductMetadata = appstore.ProductMetadata
	Outcome         = purchase.Outcome
	RestoreOutcome  = purchase.RestoreOutcome
	Status          = purchase.Status
	Subscriber      = plugin.Subscriber
	BalanceChange   = plugin.BalanceChange
	VIPChange       = plugin.VIPChange
	RestoreSummary  = plugin.RestoreSummary
)

// Purchase outcome statuses.
const (
	StatusSucceeded = purchase.StatusSucceeded
	StatusDuplicate = purchase.StatusDuplicate
	StatusDeferred  = purchase.StatusDeferred
	StatusFailed    = purchase.StatusFailed
	StatusRejected  = purchase.StatusRejected
)

// Re-export constructors
var (
	USD            = types.USD
	NewPrice       = types.NewPrice
	NewEntity      = types.NewEntity
	DefaultCatalog = catalog.Default
)
