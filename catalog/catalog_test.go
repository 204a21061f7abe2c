package catalog_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/xraph/purse/catalog"
	"github.com/xraph/purse/types"
)

func TestDefaultCatalog(t *testing.T) {
	c := catalog.Default()

	if c.Len() != 10 {
		t.Fatalf("expected 10 products, got %d", c.Len())
	}

	tests := []struct {
		id    string
		kind  catalog.Kind
		coins int64
		days  int
		price string
	}{
		{catalog.VIPWeekly, catalog.KindSubscription, 0, 7, "$12.99"},
		{catalog.VIPMonthly, catalog.KindSubscription, 0, 30, "$49.99"},
		{catalog.Coins100, catalog.KindConsumable, 100, 0, "$2.99"},
		{catalog.Coins1500, catalog.KindConsumable, 1500, 0, "$19.99"},
		{catalog.Coins25000, catalog.KindConsumable, 25000, 0, "$239.99"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, err := c.Describe(tt.id)
			if err != nil {
				t.Fatalf("Describe: %v", err)
			}
			if p.Kind != tt.kind || p.CoinAmount != tt.coins || p.SubscriptionDays != tt.days {
				t.Errorf("unexpected descriptor %+v", p)
			}
			if p.Price.String() != tt.price {
				t.Errorf("price = %s, want %s", p.Price, tt.price)
			}
		})
	}
}

func TestDescribeUnknown(t *testing.T) {
	_, err := catalog.Default().Describe("com.x.ghost")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAllIDsSortedCopy(t *testing.T) {
	c := catalog.Default()
	ids := c.AllIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("ids not sorted: %v", ids)
		}
	}

	ids[0] = "mutated"
	if c.AllIDs()[0] == "mutated" {
		t.Error("AllIDs must return a copy")
	}
}

func TestByKind(t *testing.T) {
	c := catalog.Default()

	subs := c.ByKind(catalog.KindSubscription)
	if len(subs) != 2 || subs[0].ID != catalog.VIPWeekly || subs[1].ID != catalog.VIPMonthly {
		t.Errorf("unexpected subscriptions: %+v", subs)
	}

	coins := c.ByKind(catalog.KindConsumable)
	if len(coins) != 8 || coins[0].ID != catalog.Coins100 || coins[7].ID != catalog.Coins25000 {
		t.Errorf("consumables not ordered by price: %+v", coins)
	}
}

func TestNewRejectsInvalidProducts(t *testing.T) {
	tests := []struct {
		name     string
		products []catalog.Product
		field    string
	}{
		{"empty id", []catalog.Product{{Kind: catalog.KindConsumable}}, "id"},
		{"bad kind", []catalog.Product{{ID: "a", Kind: "bundle"}}, "kind"},
		{"consumable with days", []catalog.Product{{ID: "a", Kind: catalog.KindConsumable, CoinAmount: 1, SubscriptionDays: 3}}, "subscription_days"},
		{"negative coins", []catalog.Product{{ID: "a", Kind: catalog.KindConsumable, CoinAmount: -1}}, "coin_amount"},
		{"coins above cap", []catalog.Product{{ID: "a", Kind: catalog.KindConsumable, CoinAmount: catalog.MaxCoinAmount + 1}}, "coin_amount"},
		{"days above cap", []catalog.Product{{ID: "a", Kind: catalog.KindSubscription, SubscriptionDays: catalog.MaxSubscriptionDays + 1}}, "subscription_days"},
		{"subscription without days", []catalog.Product{{ID: "a", Kind: catalog.KindSubscription}}, "subscription_days"},
		{"subscription with coins", []catalog.Product{{ID: "a", Kind: catalog.KindSubscription, SubscriptionDays: 7, CoinAmount: 5}}, "coin_amount"},
		{"duplicate", []catalog.Product{
			{ID: "a", Kind: catalog.KindConsumable, CoinAmount: 1},
			{ID: "a", Kind: catalog.KindConsumable, CoinAmount: 2},
		}, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.New(tt.products...)
			var verr *catalog.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	const doc = `
currency: USD
products:
  - id: com.example.coins.small
    kind: consumable
    title: Small pouch
    price: "0.99"
    coin_amount: 25
  - id: com.example.vip.year
    kind: subscription
    title: Yearly VIP
    price: "99.00"
    currency: EUR
    subscription_days: 365
    benefits: [Unlimited AI Chat]
`
	c, err := catalog.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	small, err := c.Describe("com.example.coins.small")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if small.CoinAmount != 25 || !small.Price.Equal(types.USD("0.99")) {
		t.Errorf("unexpected small pouch %+v", small)
	}

	year, err := c.Describe("com.example.vip.year")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if year.SubscriptionDays != 365 || year.Price.Currency != "EUR" || len(year.Benefits) != 1 {
		t.Errorf("unexpected yearly VIP %+v", year)
	}
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	docs := map[string]string{
		"unknown field": "products:\n  - id: a\n    kind: consumable\n    price: \"1\"\n    colour: red\n",
		"bad price":     "products:\n  - id: a\n    kind: consumable\n    price: cheap\n",
		"invalid kind":  "products:\n  - id: a\n    kind: gift\n    price: \"1\"\n",
	}

	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			if _, err := catalog.Load(strings.NewReader(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
