package lsp

import (
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/types"
)

type LSPState string

const (
	StateStopped      LSPState = "stopped"
	StateStarting     LSPState = "starting"
	StateInitializing LSPState = "initializing"
	StateReady        LSPState = "ready"
	StateIdle         LSPState = "idle"
	StateError        LSPState = "error"
)

type Language string

const (
	LangGo         Language = "go"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangRust       Language = "rust"
	LangCpp        Language = "cpp"
	LangC          Language = "c"
	LangJava       Language = "java"
)

// Document is an open buffer the language server must see before it can
// answer questions about it.
type Document interface {
	URI() uri.URI
	LanguageID() string
	Version() int32
	Content() string
	Path() string
}

type LSPStats struct {
	Language     Language      `json:"language"`
	State        LSPState      `json:"state"`
	Circuit      CircuitState  `json:"circuit"`
	OpenDocs     int           `json:"open_docs"`
	RequestCount int64         `json:"request_count"`
	ErrorCount   int64         `json:"error_count"`
	StartedAt    time.Time     `json:"started_at,omitempty"`
	LastRequest  time.Time     `json:"last_request,omitempty"`
	LastError    time.Time     `json:"last_error,omitempty"`
	LastErrorMsg string        `json:"last_error_msg,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
}

func ToProtocolPosition(p types.Position) protocol.Position {
	return protocol.Position{Line: uint32(p.Line), Character: uint32(p.Character)}
}

func FromProtocolPosition(p protocol.Position) types.Position {
	return types.Position{Line: int(p.Line), Character: int(p.Character)}
}

func ToProtocolRange(r types.Range) protocol.Range {
	return protocol.Range{Start: ToProtocolPosition(r.Start), End: ToProtocolPosition(r.End)}
}

func FromProtocolRange(r protocol.Range) types.Range {
	return types.Range{Start: FromProtocolPosition(r.Start), End: FromProtocolPosition(r.End)}
}

// ConvertSymbols maps a protocol symbol tree onto SymbolOccurrence values,
// preserving order and nesting.
func ConvertSymbols(in []protocol.DocumentSymbol) []types.SymbolOccurrence {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.SymbolOccurrence, len(in))
	for i, s := range in {
		occ := types.SymbolOccurrence{
			Name:             s.Name,
			Detail:           s.Detail,
			Kind:             types.SymbolKind(s.Kind),
			DeclarationRange: FromProtocolRange(s.Range),
			NameRange:        FromProtocolRange(s.SelectionRange),
			Children:         ConvertSymbols(s.Children),
		}
		for _, tag := range s.Tags {
			occ.Tags = append(occ.Tags, types.SymbolTag(tag))
		}
		if s.Deprecated && len(occ.Tags) == 0 {
			occ.Tags = []types.SymbolTag{types.SymbolTagDeprecated}
		}
		out[i] = occ
	}
	return out
}

func ConvertHighlights(in []protocol.DocumentHighlight) []types.Highlight {
	out := make([]types.Highlight, 0, len(in))
	for _, h := range in {
		role := types.RoleText
		switch h.Kind {
		case protocol.DocumentHighlightKindRead:
			role = types.RoleRead
		case protocol.DocumentHighlightKindWrite:
			role = types.RoleWrite
		}
		out = append(out, types.Highlight{Range: FromProtocolRange(h.Range), Role: role})
	}
	return out
}

// flatToHierarchical turns a SymbolInformation list into top-level
// DocumentSymbols. The location range stands in for both ranges.
func flatToHierarchical(flat []protocol.SymbolInformation) []protocol.DocumentSymbol {
	symbols := make([]protocol.DocumentSymbol, len(flat))
	for i, s := range flat {
		symbols[i] = protocol.DocumentSymbol{
			Name:           s.Name,
			Kind:           s.Kind,
			Tags:           s.Tags,
			Deprecated:     s.Deprecated,
			Range:          s.Location.Range,
			SelectionRange: s.Location.Range,
			Detail:         s.ContainerName,
		}
	}
	return symbols
}
