package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a product id is not in the catalog. It
// signals a misconfiguration between the app and the store and is never
// retried.
var ErrNotFound = errors.New("purse: product not found")

// ValidationError reports an invalid catalog entry.
type ValidationError struct {
	Product string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Product == "" {
		return fmt.Sprintf("purse: invalid product %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("purse: invalid product %q: %s %s", e.Product, e.Field, e.Message)
}
