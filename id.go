package purse

import "github.com/xraph/purse/id"

// ID is the primary identifier type for all purse entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
