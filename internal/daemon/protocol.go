package daemon

import (
	"go.lsp.dev/protocol"

	"github.com/alucardeht/code-fader/internal/config"
	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/lsp"
	"github.com/alucardeht/code-fader/internal/types"
)

// Host to daemon.
const (
	MethodInitialize       = "initialize"
	MethodShutdown         = "shutdown"
	MethodDidOpen          = "textDocument/didOpen"
	MethodDidChange        = "textDocument/didChange"
	MethodDidClose         = "textDocument/didClose"
	MethodSelectionChanged = "fader/selectionChanged"
	MethodResolve          = "fader/resolve"
	MethodStatus           = "fader/status"
)

// Daemon to host.
const (
	MethodSetDecorations = "fader/setDecorations"
	MethodUnfold         = "fader/unfold"
	MethodConfigChanged  = "fader/configChanged"
)

type InitializeParams struct {
	ClientInfo *protocol.ClientInfo `json:"clientInfo,omitempty"`
}

type InitializeResult struct {
	ServerInfo protocol.ServerInfo     `json:"serverInfo"`
	Decoration config.DecorationConfig `json:"decoration"`
	Settings   ConfigChangedParams     `json:"settings"`
}

type ContentChange struct {
	Text string `json:"text"`
}

// DidChangeParams carries full-document changes only; the last change wins.
type DidChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []ContentChange                          `json:"contentChanges"`
}

type SelectionChangedParams struct {
	URI        protocol.DocumentURI `json:"uri"`
	Kind       string               `json:"kind"`
	Selections []protocol.Range     `json:"selections"`
}

type ResolveParams struct {
	URI       protocol.DocumentURI `json:"uri"`
	Selection protocol.Range       `json:"selection"`
}

type ResolveResult struct {
	Case          string               `json:"case"`
	FadedLines    []int                `json:"fadedLines"`
	SelectedLines []types.LineInterval `json:"selectedLines"`
	FadeRanges    []protocol.Range     `json:"fadeRanges"`
}

type StatusResult struct {
	Version    string                        `json:"version"`
	PID        int                           `json:"pid"`
	Uptime     string                        `json:"uptime"`
	Documents  int                           `json:"documents"`
	Sessions   int                           `json:"sessions"`
	Selections uint64                        `json:"selections"`
	Cache      index.CacheStats              `json:"cache"`
	Store      *index.StoreStats             `json:"store,omitempty"`
	Warmer     *index.WarmerStats            `json:"warmer,omitempty"`
	LSP        map[lsp.Language]lsp.LSPStats `json:"lsp,omitempty"`
}

type SetDecorationsParams struct {
	URI    protocol.DocumentURI `json:"uri"`
	Ranges []protocol.Range     `json:"ranges"`
}

type UnfoldParams struct {
	URI            protocol.DocumentURI `json:"uri"`
	Levels         int                  `json:"levels"`
	Direction      string               `json:"direction"`
	SelectionLines types.LineInterval   `json:"selectionLines"`
}

type ConfigChangedParams struct {
	Enabled    bool                    `json:"enabled"`
	AutoUnfold bool                    `json:"autoUnfold"`
	Decoration config.DecorationConfig `json:"decoration"`
}

func configChanged(cfg *config.Config) ConfigChangedParams {
	return ConfigChangedParams{
		Enabled:    cfg.Fader.Enabled,
		AutoUnfold: cfg.Fader.AutoUnfold,
		Decoration: cfg.Fader.Decoration,
	}
}

func toProtocolRanges(in []types.Range) []protocol.Range {
	out := make([]protocol.Range, len(in))
	for i, r := range in {
		out[i] = lsp.ToProtocolRange(r)
	}
	return out
}
