package lsp

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/document"
	"github.com/alucardeht/code-fader/internal/types"
)

type fakeServer struct {
	mu         sync.Mutex
	methods    []string
	versions   map[uri.URI]int32
	texts      map[uri.URI]string
	symbols    json.RawMessage
	highlights []protocol.DocumentHighlight
	failures   bool
	lastPos    protocol.Position
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		versions: make(map[uri.URI]int32),
		texts:    make(map[uri.URI]string),
		symbols:  json.RawMessage("null"),
	}
}

func (s *fakeServer) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append(s.methods, req.Method)

	switch req.Method {
	case protocol.MethodInitialize:
		return protocol.InitializeResult{
			Capabilities: protocol.ServerCapabilities{DocumentHighlightProvider: true},
			ServerInfo:   &protocol.ServerInfo{Name: "fake"},
		}, nil

	case protocol.MethodTextDocumentDidOpen:
		var p protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, err
		}
		s.versions[uri.URI(p.TextDocument.URI)] = p.TextDocument.Version
		s.texts[uri.URI(p.TextDocument.URI)] = p.TextDocument.Text
		return nil, nil

	case protocol.MethodTextDocumentDidChange:
		var p didChangeFullParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, err
		}
		s.versions[uri.URI(p.TextDocument.URI)] = p.TextDocument.Version
		s.texts[uri.URI(p.TextDocument.URI)] = p.ContentChanges[0].Text
		return nil, nil

	case protocol.MethodTextDocumentDidClose:
		var p protocol.DidCloseTextDocumentParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, err
		}
		delete(s.versions, uri.URI(p.TextDocument.URI))
		return nil, nil

	case protocol.MethodTextDocumentDocumentSymbol:
		if s.failures {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: "boom"}
		}
		return s.symbols, nil

	case protocol.MethodTextDocumentDocumentHighlight:
		var p protocol.DocumentHighlightParams
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, err
		}
		s.lastPos = p.Position
		return s.highlights, nil

	case protocol.MethodShutdown:
		return nil, nil
	}
	return nil, nil
}

func (s *fakeServer) calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.methods {
		if m == method {
			n++
		}
	}
	return n
}

// startClient wires a ready client to srv over an in-memory pipe.
func startClient(t *testing.T, srv *fakeServer) (*Client, *jsonrpc2.Conn) {
	t.Helper()
	ctx := context.Background()
	clientEnd, serverEnd := net.Pipe()

	serverConn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(serverEnd, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(srv.handle))
	t.Cleanup(func() { serverConn.Close() })

	client := NewClientConn(ctx, clientEnd, ClientConfig{
		Language:       LangGo,
		InitTimeout:    2 * time.Second,
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, client.Initialize(ctx, uri.File(t.TempDir())))
	return client, serverConn
}

func goDoc(path string, version int32, text string) *document.Buffer {
	return document.NewBuffer(uri.File(path), "go", version, text)
}

func TestClientInitialize(t *testing.T) {
	srv := newFakeServer()
	client, _ := startClient(t, srv)

	assert.True(t, client.IsReady())
	assert.Equal(t, true, client.Capabilities().DocumentHighlightProvider)
	assert.Equal(t, 1, srv.calls(protocol.MethodInitialize))

	err := client.Initialize(context.Background(), uri.File("/tmp"))
	assert.Error(t, err)
}

func TestClientSyncOpensThenChanges(t *testing.T) {
	srv := newFakeServer()
	client, _ := startClient(t, srv)
	ctx := context.Background()

	doc := goDoc("/tmp/sync.go", 1, "package a")
	require.NoError(t, client.Sync(ctx, doc))
	require.NoError(t, client.Sync(ctx, doc))

	_, err := client.DocumentSymbols(ctx, doc.URI())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.calls(protocol.MethodTextDocumentDidOpen))
	assert.Equal(t, 0, srv.calls(protocol.MethodTextDocumentDidChange))

	changed := goDoc("/tmp/sync.go", 2, "package b")
	require.NoError(t, client.Sync(ctx, changed))
	_, err = client.DocumentSymbols(ctx, doc.URI())
	require.NoError(t, err)

	srv.mu.Lock()
	assert.Equal(t, int32(2), srv.versions[doc.URI()])
	assert.Equal(t, "package b", srv.texts[doc.URI()])
	srv.mu.Unlock()
	assert.Equal(t, 1, client.OpenDocuments())

	require.NoError(t, client.DidClose(ctx, doc.URI()))
	assert.Equal(t, 0, client.OpenDocuments())
	require.NoError(t, client.DidClose(ctx, doc.URI()))
}

func TestClientHierarchicalSymbols(t *testing.T) {
	srv := newFakeServer()
	srv.symbols = json.RawMessage(`[{
		"name": "Server", "kind": 23,
		"range": {"start": {"line": 2, "character": 0}, "end": {"line": 9, "character": 1}},
		"selectionRange": {"start": {"line": 2, "character": 5}, "end": {"line": 2, "character": 11}},
		"children": [{
			"name": "addr", "kind": 8,
			"range": {"start": {"line": 3, "character": 1}, "end": {"line": 3, "character": 12}},
			"selectionRange": {"start": {"line": 3, "character": 1}, "end": {"line": 3, "character": 5}}
		}]
	}]`)
	client, _ := startClient(t, srv)

	symbols, err := client.DocumentSymbols(context.Background(), uri.File("/tmp/server.go"))
	require.NoError(t, err)

	occ := ConvertSymbols(symbols)
	require.Len(t, occ, 1)
	assert.Equal(t, "Server", occ[0].Name)
	assert.Equal(t, types.SymbolKindStruct, occ[0].Kind)
	assert.Equal(t, types.NewRange(2, 0, 9, 1), occ[0].DeclarationRange)
	assert.Equal(t, types.NewRange(2, 5, 2, 11), occ[0].NameRange)
	require.Len(t, occ[0].Children, 1)
	assert.Equal(t, "addr", occ[0].Children[0].Name)
}

func TestClientFlatSymbolFallback(t *testing.T) {
	srv := newFakeServer()
	srv.symbols = json.RawMessage(`[{
		"name": "main", "kind": 12, "containerName": "pkg",
		"location": {"uri": "file:///tmp/main.go",
			"range": {"start": {"line": 4, "character": 0}, "end": {"line": 6, "character": 1}}}
	}]`)
	client, _ := startClient(t, srv)

	symbols, err := client.DocumentSymbols(context.Background(), uri.File("/tmp/main.go"))
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "main", symbols[0].Name)
	assert.Equal(t, "pkg", symbols[0].Detail)
	assert.Equal(t, symbols[0].Range, symbols[0].SelectionRange)
	assert.Equal(t, uint32(4), symbols[0].Range.Start.Line)
}

func TestClientNullSymbols(t *testing.T) {
	client, _ := startClient(t, newFakeServer())

	symbols, err := client.DocumentSymbols(context.Background(), uri.File("/tmp/empty.go"))
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestClientHighlights(t *testing.T) {
	srv := newFakeServer()
	srv.highlights = []protocol.DocumentHighlight{
		{Range: protocol.Range{Start: protocol.Position{Line: 1}, End: protocol.Position{Line: 1, Character: 3}}, Kind: protocol.DocumentHighlightKindWrite},
		{Range: protocol.Range{Start: protocol.Position{Line: 4}, End: protocol.Position{Line: 4, Character: 3}}, Kind: protocol.DocumentHighlightKindRead},
		{Range: protocol.Range{Start: protocol.Position{Line: 7}, End: protocol.Position{Line: 7, Character: 3}}, Kind: protocol.DocumentHighlightKindText},
	}
	client, _ := startClient(t, srv)

	got, err := client.DocumentHighlights(context.Background(), uri.File("/tmp/h.go"), protocol.Position{Line: 1, Character: 2})
	require.NoError(t, err)

	hl := ConvertHighlights(got)
	require.Len(t, hl, 3)
	assert.Equal(t, types.RoleWrite, hl[0].Role)
	assert.Equal(t, types.RoleRead, hl[1].Role)
	assert.Equal(t, types.RoleText, hl[2].Role)
	assert.Equal(t, types.NewRange(4, 0, 4, 3), hl[1].Range)

	srv.mu.Lock()
	assert.Equal(t, protocol.Position{Line: 1, Character: 2}, srv.lastPos)
	srv.mu.Unlock()
}

func TestClientAnswersServerRequests(t *testing.T) {
	_, serverConn := startClient(t, newFakeServer())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result interface{}
	err := serverConn.Call(ctx, "workspace/configuration", map[string]any{"items": []any{}}, &result)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestClientNotReady(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()
	client := NewClientConn(context.Background(), clientEnd, DefaultClientConfig(LangGo))
	defer client.Close()

	_, err := client.DocumentSymbols(context.Background(), uri.File("/tmp/x.go"))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, client.Shutdown(context.Background()), ErrNotInitialized)
}

func TestClientShutdownAndClose(t *testing.T) {
	srv := newFakeServer()
	client, _ := startClient(t, srv)

	require.NoError(t, client.Shutdown(context.Background()))
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Close(), ErrAlreadyClosed)
	assert.Equal(t, StateStopped, client.GetState())
	assert.Equal(t, 1, srv.calls(protocol.MethodShutdown))
}

// managerWithClient returns a manager whose go server is already running
// and rooted at a temp module directory.
func managerWithClient(t *testing.T, srv *fakeServer) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644))

	client, _ := startClient(t, srv)
	proc := NewProcess(DefaultManagerConfig().Servers[LangGo])
	proc.client = client
	proc.rootPath = root
	proc.state.Store(StateReady)

	m := NewManager(DefaultManagerConfig())
	m.processes[LangGo] = proc
	t.Cleanup(func() { m.Close() })
	return m, root
}

func TestManagerSymbolsSyncsDocument(t *testing.T) {
	srv := newFakeServer()
	srv.symbols = json.RawMessage(`[{"name": "run", "kind": 12,
		"range": {"start": {"line": 0, "character": 0}, "end": {"line": 2, "character": 1}},
		"selectionRange": {"start": {"line": 0, "character": 5}, "end": {"line": 0, "character": 8}}}]`)
	m, root := managerWithClient(t, srv)
	ctx := context.Background()

	doc := goDoc(filepath.Join(root, "main.go"), 3, "func run() {\n}\n")
	occ, err := m.Symbols(ctx, doc)
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, "run", occ[0].Name)

	_, err = m.Highlights(ctx, doc, types.Position{Line: 0, Character: 6})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.calls(protocol.MethodTextDocumentDidOpen))

	m.CloseDocument(ctx, doc.URI())
	_, err = m.Symbols(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.calls(protocol.MethodTextDocumentDidClose))
	assert.Equal(t, 2, srv.calls(protocol.MethodTextDocumentDidOpen))
}

func TestManagerCircuitOpensAfterFailures(t *testing.T) {
	srv := newFakeServer()
	srv.failures = true
	m, root := managerWithClient(t, srv)
	m.config.Circuit = CircuitConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Hour, HalfOpenProbes: 1}
	ctx := context.Background()
	doc := goDoc(filepath.Join(root, "main.go"), 1, "package x")

	for i := 0; i < 2; i++ {
		_, err := m.Symbols(ctx, doc)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := m.Symbols(ctx, doc)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, m.Stats()[LangGo].Circuit)
	assert.Equal(t, 2, srv.calls(protocol.MethodTextDocumentDocumentSymbol))
}

func TestManagerUnsupportedLanguage(t *testing.T) {
	m := NewManager(DefaultManagerConfig())
	defer m.Close()

	doc := document.NewBuffer(uri.File("/tmp/notes.txt"), "plaintext", 1, "hello")
	_, err := m.Symbols(context.Background(), doc)
	assert.ErrorIs(t, err, ErrLanguageNotSupported)
}

func TestManagerLanguageFor(t *testing.T) {
	m := NewManager(DefaultManagerConfig())
	defer m.Close()

	assert.Equal(t, LangGo, m.LanguageFor(goDoc("/tmp/a.go", 1, "")))
	assert.Equal(t, LangTypeScript, m.LanguageFor(document.NewBuffer(uri.File("/tmp/a.tsx"), "typescriptreact", 1, "")))
	assert.Equal(t, Language(""), m.LanguageFor(document.NewBuffer(uri.URI("untitled:Untitled-1"), "markdown", 1, "")))
	assert.Equal(t, LangPython, m.LanguageFor(document.NewBuffer(uri.URI("untitled:Untitled-2"), "python", 1, "")))
}

func TestSymbolProviderAdapter(t *testing.T) {
	srv := newFakeServer()
	srv.symbols = json.RawMessage(`[]`)
	m, root := managerWithClient(t, srv)

	p := NewSymbolProvider(m)
	occ, err := p.DocumentSymbols(context.Background(), goDoc(filepath.Join(root, "a.go"), 1, "package a"))
	require.NoError(t, err)
	assert.Empty(t, occ)

	hp := NewHighlightProvider(m)
	hl, err := hp.DocumentHighlights(context.Background(), goDoc(filepath.Join(root, "a.go"), 1, "package a"), types.Position{})
	require.NoError(t, err)
	assert.Empty(t, hl)
}

func TestManagerDisabledServesNothing(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.Enabled = false
	m := NewManager(cfg)
	defer m.Close()

	assert.Equal(t, Language(""), m.LanguageFor(goDoc("/tmp/a.go", 1, "package main")))
	_, err := m.Symbols(context.Background(), goDoc("/tmp/a.go", 1, "package main"))
	assert.ErrorIs(t, err, ErrLanguageNotSupported)
}

func TestEnabledLanguagesSorted(t *testing.T) {
	langs := NewManager(DefaultManagerConfig()).EnabledLanguages()
	require.NotEmpty(t, langs)
	for i := 1; i < len(langs); i++ {
		assert.Less(t, langs[i-1], langs[i])
	}
}
