// Package tree implements the ServiceValueTree (spec §4.A): a five-level
// keyed map from (strategy, config_key, account, pair, currency) to Decimal,
// flattened onto balance.RequestKey since Go structs are comparable map
// keys - there is no need for the nested per-level maps the Rust original
// uses (original_source/src/core/misc/service_value_tree.rs). Absence of a
// key means "not tracked", never an implicit zero.
package tree

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/balancecore/internal/balance"
)

// Tree is the ServiceValueTree.
type Tree struct {
	values map[balance.RequestKey]decimal.Decimal
}

// New creates an empty Tree.
func New() *Tree {
	return &Tree{values: make(map[balance.RequestKey]decimal.Decimal)}
}

// Get returns the value at key and whether it was present.
func (t *Tree) Get(key balance.RequestKey) (decimal.Decimal, bool) {
	v, ok := t.values[key]
	return v, ok
}

// GetOrZero returns the value at key, or decimal.Zero if absent.
func (t *Tree) GetOrZero(key balance.RequestKey) decimal.Decimal {
	if v, ok := t.values[key]; ok {
		return v
	}
	return decimal.Zero
}

// Set overwrites the value at key.
func (t *Tree) Set(key balance.RequestKey, value decimal.Decimal) {
	t.values[key] = value
}

// Add inserts delta at key if absent, or adds it to the existing value
// otherwise (insert-or-add), per spec §4.A.
func (t *Tree) Add(key balance.RequestKey, delta decimal.Decimal) decimal.Decimal {
	next := t.GetOrZero(key).Add(delta)
	t.values[key] = next
	return next
}

// Remove deletes the key entirely, so a later Get reports "not tracked"
// again rather than an explicit zero.
func (t *Tree) Remove(key balance.RequestKey) {
	delete(t.values, key)
}

// Len returns the number of tracked keys.
func (t *Tree) Len() int {
	return len(t.values)
}

// Range calls fn for every tracked (key, value) pair in a stable order
// (sorted by key string) so callers get deterministic iteration for logging
// and snapshotting despite Go's randomized map order.
func (t *Tree) Range(fn func(key balance.RequestKey, value decimal.Decimal)) {
	keys := make([]balance.RequestKey, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		fn(k, t.values[k])
	}
}

// AsMap returns a bulk, defensively-copied snapshot of every tracked value -
// the as_balances() operation of spec §4.A.
func (t *Tree) AsMap() map[balance.RequestKey]decimal.Decimal {
	out := make(map[balance.RequestKey]decimal.Decimal, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent deep copy, used by the manager's snapshot
// facility (spec §4.F.10/§9) so a clone never aliases the live tree.
func (t *Tree) Clone() *Tree {
	return &Tree{values: t.AsMap()}
}

// LoadMap replaces the tree's contents with a copy of m, used when restoring
// a persisted Balances snapshot.
func (t *Tree) LoadMap(m map[balance.RequestKey]decimal.Decimal) {
	t.values = make(map[balance.RequestKey]decimal.Decimal, len(m))
	for k, v := range m {
		t.values[k] = v
	}
}
