package index

import (
	"encoding/json"
	"fmt"

	"github.com/alucardeht/code-fader/internal/types"
)

type serializedRange struct {
	Start types.Position `json:"start"`
	End   types.Position `json:"end"`
}

type serializedSymbol struct {
	Name           string             `json:"name"`
	Detail         string             `json:"detail"`
	Kind           int                `json:"kind"`
	Tags           []int              `json:"tags"`
	Range          serializedRange    `json:"range"`
	SelectionRange serializedRange    `json:"selectionRange"`
	Children       []serializedSymbol `json:"children"`
}

// EncodeIndex writes the index as an ordered array of [name, symbols] pairs.
func EncodeIndex(idx *SymbolIndex) ([]byte, error) {
	entries := make([][2]any, 0, idx.Len())
	for _, name := range idx.Names() {
		syms := idx.Lookup(name)
		out := make([]serializedSymbol, len(syms))
		for i, sym := range syms {
			out[i] = toSerialized(sym)
		}
		entries = append(entries, [2]any{name, out})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode symbol index: %w", err)
	}
	return data, nil
}

// DecodeIndex restores an index written by EncodeIndex. ok is false when the
// payload is not a JSON array at all; malformed entries inside a valid array
// are dropped.
func DecodeIndex(data []byte) (idx *SymbolIndex, ok bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return NewSymbolIndex(), false
	}

	idx = NewSymbolIndex()
	for _, entry := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(entry, &pair); err != nil || len(pair) != 2 {
			continue
		}

		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil {
			continue
		}

		var syms []serializedSymbol
		if err := json.Unmarshal(pair[1], &syms); err != nil || syms == nil {
			continue
		}

		for _, s := range syms {
			idx.add(name, fromSerialized(s))
		}
	}
	return idx, true
}

func toSerialized(sym types.SymbolOccurrence) serializedSymbol {
	s := serializedSymbol{
		Name:           sym.Name,
		Detail:         sym.Detail,
		Kind:           int(sym.Kind),
		Range:          serializedRange(sym.DeclarationRange),
		SelectionRange: serializedRange(sym.NameRange),
		Children:       make([]serializedSymbol, len(sym.Children)),
	}
	if sym.Tags != nil {
		s.Tags = make([]int, len(sym.Tags))
		for i, t := range sym.Tags {
			s.Tags[i] = int(t)
		}
	}
	for i, child := range sym.Children {
		s.Children[i] = toSerialized(child)
	}
	return s
}

func fromSerialized(s serializedSymbol) types.SymbolOccurrence {
	sym := types.SymbolOccurrence{
		Name:             s.Name,
		Detail:           s.Detail,
		Kind:             types.SymbolKind(s.Kind),
		DeclarationRange: types.Range(s.Range),
		NameRange:        types.Range(s.SelectionRange),
	}
	if s.Tags != nil {
		sym.Tags = make([]types.SymbolTag, len(s.Tags))
		for i, t := range s.Tags {
			sym.Tags[i] = types.SymbolTag(t)
		}
	}
	if len(s.Children) > 0 {
		sym.Children = make([]types.SymbolOccurrence, len(s.Children))
		for i, child := range s.Children {
			sym.Children[i] = fromSerialized(child)
		}
	}
	return sym
}
