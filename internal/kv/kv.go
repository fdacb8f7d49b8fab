// Package kv binds the single-table data model: composite (PK, SK) keys with
// one secondary ordering index (LSI1). All session, message, ledger, and
// metadata records share this table.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no item exists under the key.
var ErrNotFound = errors.New("kv: item not found")

// Put describes one item write. Item is marshaled to the table's attribute
// map; PK, SK, and (optionally) LSI1 overwrite any same-named attributes.
type Put struct {
	PK   string
	SK   string
	LSI1 string
	Item any
}

// Query describes a partition read. When Limit is zero the store pages
// through the whole partition; otherwise a single page of up to Limit items
// is returned. Ordering is by SK, or by LSI1 when UseLSI1 is set; Reverse
// flips to descending.
type Query struct {
	PK        string
	UseLSI1   bool
	Reverse   bool
	Limit     int32
	AfterKey  string // exclusive lower bound on the sort value
	BeforeKey string // exclusive upper bound on the sort value
}

// Store is the keyed-table contract the engine persists through.
type Store interface {
	// Get loads the item at (pk, sk) into out. Returns ErrNotFound when absent.
	Get(ctx context.Context, pk, sk string, out any) error

	// Put writes one item, replacing any existing item under the same key.
	Put(ctx context.Context, put Put) error

	// TransactPut writes all items atomically: either every put is applied
	// or none is.
	TransactPut(ctx context.Context, puts ...Put) error

	// Update applies a partial SET of top-level attributes to an existing item.
	Update(ctx context.Context, pk, sk string, set map[string]any) error

	// Add atomically increments numeric attributes, creating the item and
	// missing attributes as zero first.
	Add(ctx context.Context, pk, sk string, add map[string]int64) error

	// Query reads a partition into out, which must be a pointer to a slice.
	Query(ctx context.Context, q Query, out any) error
}
