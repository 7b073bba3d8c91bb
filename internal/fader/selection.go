package fader

import (
	"github.com/alucardeht/code-fader/internal/types"
)

// WordLocator finds the lexical word around a position.
type WordLocator interface {
	WordRangeAt(pos types.Position) (types.Range, bool)
}

// IsIdentifierSelection reports whether sel is a non-empty, single-line
// selection whose bounds are exactly the word at its start. Partial words,
// carets and multi-line selections are rejected.
func IsIdentifierSelection(sel types.Range, doc WordLocator) bool {
	if sel.IsEmpty() || !sel.IsSingleLine() {
		return false
	}

	word, ok := doc.WordRangeAt(sel.Start)
	if !ok {
		return false
	}

	return word.Start.Character == sel.Start.Character &&
		word.End.Character == sel.End.Character
}
