package fader

import (
	"context"

	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/logger"
	"github.com/alucardeht/code-fader/internal/types"
)

var log = logger.ForComponent("fader")

// Document is the view of an open document the fader works against.
type Document interface {
	index.Document
	WordLocator
	Text(r types.Range) string
	LineCount() int
	LineRange(line int) types.Range
}

// SymbolLoader returns the symbol index of a document. *index.Cache
// satisfies it.
type SymbolLoader interface {
	Load(ctx context.Context, doc index.Document) *index.SymbolIndex
}

// HighlightProvider returns the occurrences of the identifier at pos.
type HighlightProvider interface {
	DocumentHighlights(ctx context.Context, doc Document, pos types.Position) ([]types.Highlight, error)
}

type MatchCase int

const (
	CaseDeclaration MatchCase = iota + 1
	CaseHighlightedDeclaration
	CaseHighlights
	CaseNone
)

func (c MatchCase) String() string {
	switch c {
	case CaseDeclaration:
		return "declaration"
	case CaseHighlightedDeclaration:
		return "highlighted-declaration"
	case CaseHighlights:
		return "highlights"
	case CaseNone:
		return "none"
	default:
		return "unknown"
	}
}

// Result holds the lines to fade and the merged intervals kept visible.
// Both are empty for CaseNone.
type Result struct {
	FadeRanges []types.Range
	KeptLines  []types.LineInterval
	Case       MatchCase
}

// FadedLines lists the line number of every fade range.
func (r Result) FadedLines() []int {
	lines := make([]int, len(r.FadeRanges))
	for i, fr := range r.FadeRanges {
		lines[i] = fr.Start.Line
	}
	return lines
}

type Resolver struct {
	symbols    SymbolLoader
	highlights HighlightProvider
}

func NewResolver(symbols SymbolLoader, highlights HighlightProvider) *Resolver {
	return &Resolver{symbols: symbols, highlights: highlights}
}

// Resolve decides which lines stay visible for an identifier selection.
// Collaborator failures degrade to fewer matches, never to an error.
func (r *Resolver) Resolve(ctx context.Context, doc Document, sel types.Range) Result {
	text := doc.Text(sel)

	hlCh := make(chan []types.Highlight, 1)
	go func() {
		hlCh <- r.readWriteHighlights(ctx, doc, sel.Start)
	}()
	idx := r.symbols.Load(ctx, doc)
	highlights := <-hlCh

	hlRanges := make([]types.Range, len(highlights))
	for i, h := range highlights {
		hlRanges[i] = h.Range
	}

	var relevant []types.Range
	matched := CaseNone

	if syms := idx.Lookup(text); len(syms) > 0 {
		if sym, ok := findDeclaration(syms, sel); ok {
			matched = CaseDeclaration
			relevant = append([]types.Range{sym.DeclarationRange}, hlRanges...)
		} else if sym, ok := findHighlightedDeclaration(syms, highlights); ok {
			matched = CaseHighlightedDeclaration
			relevant = append([]types.Range{sym.DeclarationRange}, hlRanges...)
		}
	}

	if matched == CaseNone && len(highlights) >= 2 {
		matched = CaseHighlights
		relevant = hlRanges
	}

	log.Debug("selection resolved",
		"doc", doc.ID(),
		"selection", sel.String(),
		"case", matched.String(),
		"highlights", len(highlights),
		"names", idx.Len(),
	)

	if matched == CaseNone {
		return Result{Case: CaseNone}
	}

	kept := Merge(rangesToLines(relevant))
	faded := Complement(kept, doc.LineCount())

	fade := make([]types.Range, len(faded))
	for i, iv := range faded {
		fade[i] = doc.LineRange(iv.Start)
	}

	return Result{FadeRanges: fade, KeptLines: kept, Case: matched}
}

func (r *Resolver) readWriteHighlights(ctx context.Context, doc Document, pos types.Position) []types.Highlight {
	all, err := r.highlights.DocumentHighlights(ctx, doc, pos)
	if err != nil {
		log.Warn("highlight provider failed", "doc", doc.ID(), "error", err)
		return nil
	}

	var out []types.Highlight
	for _, h := range all {
		if h.Role == types.RoleRead || h.Role == types.RoleWrite {
			out = append(out, h)
		}
	}
	return out
}

// findDeclaration returns the first occurrence whose name range is exactly
// the selection.
func findDeclaration(syms []types.SymbolOccurrence, sel types.Range) (types.SymbolOccurrence, bool) {
	for _, sym := range syms {
		if sym.NameRange == sel {
			return sym, true
		}
	}
	return types.SymbolOccurrence{}, false
}

// findHighlightedDeclaration returns the first occurrence, in traversal
// order, whose name range equals one of the highlights.
func findHighlightedDeclaration(syms []types.SymbolOccurrence, highlights []types.Highlight) (types.SymbolOccurrence, bool) {
	for _, sym := range syms {
		for _, h := range highlights {
			if h.Range == sym.NameRange {
				return sym, true
			}
		}
	}
	return types.SymbolOccurrence{}, false
}
