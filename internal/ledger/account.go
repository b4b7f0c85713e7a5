package ledger

import (
	"fmt"
	"sort"
)

// AssetID is the numeric handle for an approved collateral asset type.
// Handles are assigned at registry construction and never change.
type AssetID uint16

// AssetRegistry maps collateral asset symbols to numeric IDs. The set of
// approved assets is fixed at engine construction; there is no dynamic
// add or remove.
type AssetRegistry struct {
	ids     map[string]AssetID
	symbols map[AssetID]string
	ordered []AssetID
}

// NewAssetRegistry builds a registry from the ordered symbol list. IDs are
// assigned 1..n in input order (0 is reserved as "no asset").
func NewAssetRegistry(symbols []string) (*AssetRegistry, error) {
	r := &AssetRegistry{
		ids:     make(map[string]AssetID, len(symbols)),
		symbols: make(map[AssetID]string, len(symbols)),
		ordered: make([]AssetID, 0, len(symbols)),
	}

	for i, symbol := range symbols {
		if symbol == "" {
			return nil, fmt.Errorf("asset %d has empty symbol", i)
		}
		if _, dup := r.ids[symbol]; dup {
			return nil, fmt.Errorf("duplicate asset symbol: %s", symbol)
		}
		id := AssetID(i + 1)
		r.ids[symbol] = id
		r.symbols[id] = symbol
		r.ordered = append(r.ordered, id)
	}

	return r, nil
}

// ID resolves a symbol to its asset handle.
func (r *AssetRegistry) ID(symbol string) (AssetID, bool) {
	id, ok := r.ids[symbol]
	return id, ok
}

// Symbol resolves an asset handle back to its symbol.
func (r *AssetRegistry) Symbol(id AssetID) (string, bool) {
	symbol, ok := r.symbols[id]
	return symbol, ok
}

// Assets returns all registered asset handles in registration order.
func (r *AssetRegistry) Assets() []AssetID {
	out := make([]AssetID, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered assets.
func (r *AssetRegistry) Len() int {
	return len(r.ordered)
}

func sortAssetIDs(ids []AssetID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
