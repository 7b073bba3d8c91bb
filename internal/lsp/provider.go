package lsp

import (
	"context"
	"fmt"

	"github.com/alucardeht/code-fader/internal/fader"
	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/types"
)

type symbolSource interface {
	Symbols(ctx context.Context, doc Document) ([]types.SymbolOccurrence, error)
}

type highlightSource interface {
	Highlights(ctx context.Context, doc Document, pos types.Position) ([]types.Highlight, error)
}

// SymbolProvider feeds the index cache from a language server.
type SymbolProvider struct {
	source symbolSource
}

func NewSymbolProvider(m *Manager) *SymbolProvider {
	return &SymbolProvider{source: m}
}

func (p *SymbolProvider) DocumentSymbols(ctx context.Context, doc index.Document) ([]types.SymbolOccurrence, error) {
	d, ok := doc.(Document)
	if !ok {
		return nil, fmt.Errorf("%w: %T has no text", ErrLanguageNotSupported, doc)
	}
	return p.source.Symbols(ctx, d)
}

// HighlightProvider answers occurrence queries for the resolver.
type HighlightProvider struct {
	source highlightSource
}

func NewHighlightProvider(m *Manager) *HighlightProvider {
	return &HighlightProvider{source: m}
}

func (p *HighlightProvider) DocumentHighlights(ctx context.Context, doc fader.Document, pos types.Position) ([]types.Highlight, error) {
	d, ok := doc.(Document)
	if !ok {
		return nil, fmt.Errorf("%w: %T has no text", ErrLanguageNotSupported, doc)
	}
	return p.source.Highlights(ctx, d, pos)
}

var (
	_ index.SymbolProvider    = (*SymbolProvider)(nil)
	_ fader.HighlightProvider = (*HighlightProvider)(nil)
)
