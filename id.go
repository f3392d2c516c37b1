package triage

import "github.com/triagehq/triage/id"

// ID is the primary identifier type for all triage entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
