package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/code-fader/internal/types"
)

func TestReceiverMethodNormalizer(t *testing.T) {
	tests := []struct {
		name string
		kind types.SymbolKind
		want string
	}{
		{"(*Server).Start", types.SymbolKindMethod, "Start"},
		{"(Server).Stop", types.SymbolKindMethod, "Stop"},
		{"(*Server).Start", types.SymbolKindFunction, "(*Server).Start"},
		{"Start", types.SymbolKindMethod, "Start"},
		{"(*Server).pkg.Start", types.SymbolKindMethod, "(*Server).pkg.Start"},
	}

	for _, tt := range tests {
		got := ReceiverMethodNormalizer.Normalize(types.SymbolOccurrence{Name: tt.name, Kind: tt.kind})
		assert.Equal(t, tt.want, got, "%s/%s", tt.name, tt.kind)
	}
}

func TestNormalizersFallBackToIdentity(t *testing.T) {
	sym := types.SymbolOccurrence{Name: "(*Server).Start", Kind: types.SymbolKindMethod}

	assert.Equal(t, "Start", DefaultNormalizers().For("go").Normalize(sym))
	assert.Equal(t, "(*Server).Start", DefaultNormalizers().For("typescript").Normalize(sym))
}

func TestBuildIndexPreOrderWithDuplicates(t *testing.T) {
	tree := []types.SymbolOccurrence{
		{
			Name:             "outer",
			Kind:             types.SymbolKindFunction,
			DeclarationRange: types.NewRange(0, 0, 8, 1),
			NameRange:        types.NewRange(0, 9, 0, 14),
			Children: []types.SymbolOccurrence{
				{Name: "x", Kind: types.SymbolKindVariable, NameRange: types.NewRange(1, 4, 1, 5)},
				{Name: "inner", Kind: types.SymbolKindFunction, NameRange: types.NewRange(2, 4, 2, 9),
					Children: []types.SymbolOccurrence{
						{Name: "x", Kind: types.SymbolKindVariable, NameRange: types.NewRange(3, 8, 3, 9)},
					}},
			},
		},
		{Name: "x", Kind: types.SymbolKindVariable, NameRange: types.NewRange(10, 4, 10, 5)},
	}

	idx := BuildIndex(tree, "javascript", DefaultNormalizers())

	assert.Equal(t, []string{"outer", "x", "inner"}, idx.Names())
	xs := idx.Lookup("x")
	require.Len(t, xs, 3)
	assert.Equal(t, 1, xs[0].NameRange.Start.Line)
	assert.Equal(t, 3, xs[1].NameRange.Start.Line)
	assert.Equal(t, 10, xs[2].NameRange.Start.Line)
}

func TestBuildIndexCustomNormalizer(t *testing.T) {
	upper := NormalizerFunc(func(sym types.SymbolOccurrence) string { return strings.ToUpper(sym.Name) })
	tree := []types.SymbolOccurrence{{Name: "foo", Kind: types.SymbolKindFunction}}

	idx := BuildIndex(tree, "shout", Normalizers{"shout": upper})

	assert.True(t, idx.Has("FOO"))
	assert.False(t, idx.Has("foo"))
}

func TestSymbolIndexNilSafe(t *testing.T) {
	var idx *SymbolIndex
	assert.Nil(t, idx.Lookup("x"))
	assert.False(t, idx.Has("x"))
	assert.Equal(t, 0, idx.Len())
	assert.Nil(t, idx.Names())
}
