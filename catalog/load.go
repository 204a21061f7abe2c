package catalog

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xraph/purse/types"
)

// File is the on-disk catalog layout:
//
//	currency: USD
//	products:
//	  - id: com.oiyo.coins.2
//	    kind: consumable
//	    price: "2.99"
//	    coin_amount: 100
type File struct {
	Currency string        `yaml:"currency"`
	Products []fileProduct `yaml:"products"`
}

type fileProduct struct {
	Product  `yaml:",inline"`
	Price    string `yaml:"price"`
	Currency string `yaml:"currency,omitempty"`
}

// Load decodes a YAML catalog from r.
func Load(r io.Reader) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	products := make([]Product, 0, len(f.Products))
	for _, fp := range f.Products {
		currency := fp.Currency
		if currency == "" {
			currency = f.Currency
		}
		if currency == "" {
			currency = "USD"
		}

		price, err := types.NewPrice(fp.Price, currency)
		if err != nil {
			return nil, &ValidationError{Product: fp.ID, Field: "price", Message: err.Error()}
		}

		p := fp.Product
		p.Price = price
		products = append(products, p)
	}

	return New(products...)
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	defer f.Close()

	return Load(f)
}
