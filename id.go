package payledger

import "github.com/xraph/payledger/id"

// ID is the primary identifier type for all payledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
