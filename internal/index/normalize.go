package index

import (
	"regexp"
	"strings"

	"github.com/alucardeht/code-fader/internal/types"
)

// Normalizer rewrites a provider symbol name into the identifier a user
// would select in the editor.
type Normalizer interface {
	Normalize(sym types.SymbolOccurrence) string
}

type NormalizerFunc func(sym types.SymbolOccurrence) string

func (f NormalizerFunc) Normalize(sym types.SymbolOccurrence) string { return f(sym) }

// Normalizers selects a strategy per language id. Languages without an entry
// keep provider names unchanged.
type Normalizers map[string]Normalizer

func (n Normalizers) For(languageID string) Normalizer {
	if s, ok := n[languageID]; ok {
		return s
	}
	return identity
}

var identity = NormalizerFunc(func(sym types.SymbolOccurrence) string { return sym.Name })

var receiverMethodPattern = regexp.MustCompile(`^\([^)]+\)\.[A-Za-z0-9_]+$`)

// ReceiverMethodNormalizer strips the "(recv)." prefix gopls puts on method
// symbols, so "(*Server).Start" is indexed as "Start".
var ReceiverMethodNormalizer = NormalizerFunc(func(sym types.SymbolOccurrence) string {
	if sym.Kind != types.SymbolKindMethod || !receiverMethodPattern.MatchString(sym.Name) {
		return sym.Name
	}
	return sym.Name[strings.Index(sym.Name, ".")+1:]
})

func DefaultNormalizers() Normalizers {
	return Normalizers{
		"go": ReceiverMethodNormalizer,
	}
}

// BuildIndex flattens a symbol tree with a pre-order walk: each node is
// indexed under its normalized name before its children.
func BuildIndex(tree []types.SymbolOccurrence, languageID string, normalizers Normalizers) *SymbolIndex {
	idx := NewSymbolIndex()
	norm := normalizers.For(languageID)

	var walk func(nodes []types.SymbolOccurrence)
	walk = func(nodes []types.SymbolOccurrence) {
		for _, sym := range nodes {
			idx.add(norm.Normalize(sym), sym)
			if len(sym.Children) > 0 {
				walk(sym.Children)
			}
		}
	}
	walk(tree)

	return idx
}
