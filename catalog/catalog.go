// Package catalog holds the static table of purchasable products.
//
// A Catalog is immutable once built and safe for concurrent use. It maps
// opaque store product identifiers to the entitlement effect they grant:
// a coin amount for consumables or a number of VIP days for subscriptions.
package catalog

import (
	"fmt"
	"sort"
)

// Catalog is an in-memory product table keyed by product id.
type Catalog struct {
	products map[string]Product
	ids      []string
}

// New builds a catalog from the given products. Every product is validated
// and ids must be unique.
func New(products ...Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]Product, len(products))}

	for _, p := range products {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, &ValidationError{Product: p.ID, Field: "id", Message: "is duplicated"}
		}
		p.Benefits = append([]string(nil), p.Benefits...)
		c.products[p.ID] = p
		c.ids = append(c.ids, p.ID)
	}
	sort.Strings(c.ids)

	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(products ...Product) *Catalog {
	c, err := New(products...)
	if err != nil {
		panic(err)
	}
	return c
}

// Describe returns the descriptor for id or ErrNotFound.
func (c *Catalog) Describe(id string) (Product, error) {
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// Contains reports whether id is in the catalog.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.products[id]
	return ok
}

// AllIDs returns every product id in ascending order.
func (c *Catalog) AllIDs() []string {
	return append([]string(nil), c.ids...)
}

// ByKind returns the products of the given kind, ordered by price and then id.
func (c *Catalog) ByKind(kind Kind) []Product {
	var out []Product
	for _, pid := range c.ids {
		if p := c.products[pid]; p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price.Amount.LessThan(out[j].Price.Amount)
	})
	return out
}

// Len returns the number of products.
func (c *Catalog) Len() int { return len(c.ids) }
