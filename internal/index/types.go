package index

import (
	"github.com/alucardeht/code-fader/internal/types"
)

// Key namespaces in the persistent store.
const (
	SymbolMapPrefix = "symbolMap|"
	FileMtimePrefix = "fileMtime|"
)

func SymbolMapKey(docID string) string { return SymbolMapPrefix + docID }
func FileMtimeKey(docID string) string { return FileMtimePrefix + docID }

// SymbolIndex maps a normalized name to every occurrence declared under it,
// in document traversal order. A built index is never mutated.
type SymbolIndex struct {
	names  []string
	byName map[string][]types.SymbolOccurrence
}

func NewSymbolIndex() *SymbolIndex {
	return &SymbolIndex{byName: make(map[string][]types.SymbolOccurrence)}
}

func (idx *SymbolIndex) add(name string, sym types.SymbolOccurrence) {
	if _, ok := idx.byName[name]; !ok {
		idx.names = append(idx.names, name)
	}
	idx.byName[name] = append(idx.byName[name], sym)
}

// Lookup returns the occurrences declared under name, nil when absent.
func (idx *SymbolIndex) Lookup(name string) []types.SymbolOccurrence {
	if idx == nil {
		return nil
	}
	return idx.byName[name]
}

func (idx *SymbolIndex) Has(name string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.byName[name]
	return ok
}

// Names returns the keys in first-seen order.
func (idx *SymbolIndex) Names() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, len(idx.names))
	copy(out, idx.names)
	return out
}

func (idx *SymbolIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.names)
}

// Entry is one key/value pair written to a Store.
type Entry struct {
	Key   string
	Value []byte
}

type StoreStats struct {
	SymbolMaps int `json:"symbol_maps"`
	FileMtimes int `json:"file_mtimes"`
	Other      int `json:"other"`
}
