package catalog

import "github.com/xraph/purse/types"

// Product ids shipped with the app.
const (
	VIPWeekly  = "com.oiyo.weekly"
	VIPMonthly = "com.oiyo.monthly"

	Coins100   = "com.oiyo.coins.2"
	Coins300   = "com.oiyo.coins.5"
	Coins600   = "com.oiyo.coins.9"
	Coins1500  = "com.oiyo.coins.19"
	Coins4000  = "com.oiyo.coins.49"
	Coins8500  = "com.oiyo.coins.99"
	Coins15000 = "com.oiyo.coins.159"
	Coins25000 = "com.oiyo.coins.239"
)

// DefaultProducts returns the built-in product table.
func DefaultProducts() []Product {
	coins := func(id, price string, amount int64) Product {
		return Product{ID: id, Kind: KindConsumable, Title: "Coins", Price: types.USD(price), CoinAmount: amount}
	}

	return []Product{
		{
			ID: VIPWeekly, Kind: KindSubscription, Title: "Weekly VIP",
			Price: types.USD("12.99"), SubscriptionDays: 7,
			Benefits: []string{"Unlimited AI Chat", "Priority Response"},
		},
		{
			ID: VIPMonthly, Kind: KindSubscription, Title: "Monthly VIP",
			Price: types.USD("49.99"), SubscriptionDays: 30,
			Benefits: []string{"Unlimited AI Chat", "Priority Response", "Advanced Features", "Exclusive Content"},
		},
		coins(Coins100, "2.99", 100),
		coins(Coins300, "5.99", 300),
		coins(Coins600, "9.99", 600),
		coins(Coins1500, "19.99", 1500),
		coins(Coins4000, "49.99", 4000),
		coins(Coins8500, "99.99", 8500),
		coins(Coins15000, "159.99", 15000),
		coins(Coins25000, "239.99", 25000),
	}
}

// Default returns a catalog of DefaultProducts.
func Default() *Catalog {
	return MustNew(DefaultProducts()...)
}
