package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/config"
	"github.com/alucardeht/code-fader/internal/fader"
	"github.com/alucardeht/code-fader/internal/index"
	"github.com/alucardeht/code-fader/internal/types"
	"github.com/alucardeht/code-fader/internal/watcher"
)

type fakeSymbols struct {
	mu    sync.Mutex
	tree  []types.SymbolOccurrence
	calls int
}

func (f *fakeSymbols) DocumentSymbols(_ context.Context, _ index.Document) ([]types.SymbolOccurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tree, nil
}

func (f *fakeSymbols) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHighlights struct {
	highlights []types.Highlight

	mu   sync.Mutex
	gate chan struct{}
}

func (f *fakeHighlights) DocumentHighlights(ctx context.Context, _ fader.Document, _ types.Position) ([]types.Highlight, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.highlights, nil
}

// hold blocks highlight lookups until the returned func is called.
func (f *fakeHighlights) hold() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	return func() { close(gate) }
}

const docURI = protocol.DocumentURI("file:///tmp/ten.go")

func tenLines() string {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = fmt.Sprintf("value%d := value%d + 1", i, i)
	}
	return strings.Join(lines, "\n")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Watcher.Enabled = false
	cfg.Warmer.Enabled = false
	cfg.Fader.AutoUnfold = true
	return cfg
}

type harness struct {
	d          *Daemon
	client     *Client
	symbols    *fakeSymbols
	highlights *fakeHighlights
}

func newHarness(t *testing.T, cfg *config.Config, configPath string) *harness {
	t.Helper()

	symbols := &fakeSymbols{tree: []types.SymbolOccurrence{{
		Name:             "value1",
		Kind:             types.SymbolKindVariable,
		DeclarationRange: types.NewRange(1, 0, 1, 20),
		NameRange:        types.NewRange(1, 0, 1, 6),
	}}}
	highlights := &fakeHighlights{highlights: []types.Highlight{
		{Range: types.NewRange(1, 0, 1, 6), Role: types.RoleWrite},
		{Range: types.NewRange(3, 9, 3, 15), Role: types.RoleRead},
		{Range: types.NewRange(5, 0, 5, 6), Role: types.RoleText},
	}}

	d, err := New(Options{
		Config:     cfg,
		ConfigPath: configPath,
		Store:      index.NewMemoryStore(),
		Symbols:    symbols,
		Highlights: highlights,
		ModTime: func(context.Context, index.Document) (int64, bool) {
			return 1, true
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serverSide, clientSide := net.Pipe()
	d.ServeConn(ctx, serverSide)
	client := NewClient(ctx, clientSide)

	t.Cleanup(func() {
		client.Close()
		d.Shutdown()
		cancel()
	})
	return &harness{d: d, client: client, symbols: symbols, highlights: highlights}
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	err := h.client.Call(context.Background(), MethodDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        docURI,
			LanguageID: "go",
			Version:    1,
			Text:       tenLines(),
		},
	}, nil)
	require.NoError(t, err)
}

func selection(kind string, r types.Range) SelectionChangedParams {
	return SelectionChangedParams{
		URI:        docURI,
		Kind:       kind,
		Selections: []protocol.Range{{Start: protocol.Position{Line: uint32(r.Start.Line), Character: uint32(r.Start.Character)}, End: protocol.Position{Line: uint32(r.End.Line), Character: uint32(r.End.Character)}}},
	}
}

func drain(c *Client) []Notification {
	var out []Notification
	for {
		select {
		case n := <-c.Notifications():
			out = append(out, n)
		default:
			return out
		}
	}
}

func rpcCode(t *testing.T, err error) int64 {
	t.Helper()
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr), "expected a JSON-RPC error, got %v", err)
	return rpcErr.Code
}

func TestInitialize(t *testing.T) {
	h := newHarness(t, testConfig(), "")

	var res InitializeResult
	err := h.client.Call(context.Background(), MethodInitialize, InitializeParams{
		ClientInfo: &protocol.ClientInfo{Name: "test-host", Version: "1.0"},
	}, &res)
	require.NoError(t, err)

	assert.Equal(t, Name, res.ServerInfo.Name)
	assert.Equal(t, "0.2", res.Decoration.Opacity)
	assert.True(t, res.Settings.Enabled)
	assert.True(t, res.Settings.AutoUnfold)
}

func TestMouseSelectionFadesAndUnfolds(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	err := h.client.Call(context.Background(), MethodSelectionChanged, selection("mouse", types.NewRange(1, 0, 1, 6)), nil)
	require.NoError(t, err)

	notifs := drain(h.client)
	require.Len(t, notifs, 3)

	assert.Equal(t, MethodSetDecorations, notifs[0].Method)
	var deco SetDecorationsParams
	require.NoError(t, json.Unmarshal(notifs[0].Params, &deco))
	assert.Equal(t, docURI, deco.URI)
	require.Len(t, deco.Ranges, 8)
	assert.Equal(t, uint32(0), deco.Ranges[0].Start.Line)
	assert.Equal(t, uint32(2), deco.Ranges[1].Start.Line)

	var unfolds []UnfoldParams
	for _, n := range notifs[1:] {
		assert.Equal(t, MethodUnfold, n.Method)
		var u UnfoldParams
		require.NoError(t, json.Unmarshal(n.Params, &u))
		unfolds = append(unfolds, u)
	}
	assert.Equal(t, types.LineInterval{Start: 1, End: 1}, unfolds[0].SelectionLines)
	assert.Equal(t, types.LineInterval{Start: 3, End: 3}, unfolds[1].SelectionLines)
	for _, u := range unfolds {
		assert.Equal(t, 1, u.Levels)
		assert.Equal(t, fader.UnfoldDirectionUp, u.Direction)
	}
}

func TestCaretAfterSlowMouseSelectionLeavesNoFade(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)
	ctx := context.Background()

	release := h.highlights.hold()
	mouse, err := h.client.conn.DispatchCall(ctx, MethodSelectionChanged, selection("mouse", types.NewRange(1, 0, 1, 6)))
	require.NoError(t, err)
	require.NoError(t, h.client.Notify(ctx, MethodSelectionChanged, selection("keyboard", types.NewRange(2, 3, 2, 3))))

	// Requests are read in order, so once status answers both selection
	// events have been taken in.
	_, err = h.client.Status(ctx)
	require.NoError(t, err)

	release()
	require.NoError(t, mouse.Wait(ctx, nil))

	var decorations []SetDecorationsParams
	for _, n := range drain(h.client) {
		assert.NotEqual(t, MethodUnfold, n.Method)
		if n.Method != MethodSetDecorations {
			continue
		}
		var deco SetDecorationsParams
		require.NoError(t, json.Unmarshal(n.Params, &deco))
		decorations = append(decorations, deco)
	}
	require.Len(t, decorations, 1)
	assert.Empty(t, decorations[0].Ranges)
	assert.Equal(t, uint64(2), h.d.coordinator.Version())
}

func TestKeyboardSelectionLeavesDecorations(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	err := h.client.Call(context.Background(), MethodSelectionChanged, selection("keyboard", types.NewRange(1, 0, 1, 6)), nil)
	require.NoError(t, err)
	assert.Empty(t, drain(h.client))

	err = h.client.Call(context.Background(), MethodSelectionChanged, selection("keyboard", types.NewRange(2, 3, 2, 3)), nil)
	require.NoError(t, err)

	notifs := drain(h.client)
	require.Len(t, notifs, 1)
	var deco SetDecorationsParams
	require.NoError(t, json.Unmarshal(notifs[0].Params, &deco))
	assert.Empty(t, deco.Ranges)
}

func TestSelectionChangedRejectsBadKind(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	err := h.client.Call(context.Background(), MethodSelectionChanged, selection("touch", types.NewRange(1, 0, 1, 6)), nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))
}

func TestResolve(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	var res ResolveResult
	err := h.client.Call(context.Background(), MethodResolve, ResolveParams{
		URI:       docURI,
		Selection: protocol.Range{Start: protocol.Position{Line: 1}, End: protocol.Position{Line: 1, Character: 6}},
	}, &res)
	require.NoError(t, err)

	assert.Equal(t, fader.CaseDeclaration.String(), res.Case)
	assert.Equal(t, []int{0, 2, 4, 5, 6, 7, 8, 9}, res.FadedLines)
	assert.Equal(t, []types.LineInterval{{Start: 1, End: 1}, {Start: 3, End: 3}}, res.SelectedLines)
	assert.Len(t, res.FadeRanges, 8)
	assert.Empty(t, drain(h.client))
}

func TestResolveUnknownSelection(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	var res ResolveResult
	err := h.client.Call(context.Background(), MethodResolve, ResolveParams{
		URI:       docURI,
		Selection: protocol.Range{Start: protocol.Position{Line: 7}, End: protocol.Position{Line: 7, Character: 6}},
	}, &res)
	require.NoError(t, err)

	assert.Equal(t, fader.CaseHighlights.String(), res.Case)
	assert.NotNil(t, res.FadedLines)
}

func TestDidChangeUpdatesDocument(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	err := h.client.Call(context.Background(), MethodDidChange, DidChangeParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
			Version:                2,
		},
		ContentChanges: []ContentChange{{Text: "stale"}, {Text: "a\nb"}},
	}, nil)
	require.NoError(t, err)

	buf, ok := h.d.docs.Get(uri.URI(docURI))
	require.True(t, ok)
	assert.Equal(t, int32(2), buf.Version())
	assert.Equal(t, "a\nb", buf.Content())
}

func TestDidChangeUnknownDocument(t *testing.T) {
	h := newHarness(t, testConfig(), "")

	err := h.client.Call(context.Background(), MethodDidChange, DidChangeParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///tmp/missing.go"},
			Version:                2,
		},
		ContentChanges: []ContentChange{{Text: "x"}},
	}, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))
}

func TestDidCloseForgetsDocument(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	err := h.client.Call(context.Background(), MethodDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.d.docs.Len())
}

func TestUnknownMethod(t *testing.T) {
	h := newHarness(t, testConfig(), "")

	err := h.client.Call(context.Background(), "fader/bogus", nil, nil)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcCode(t, err))
}

func TestMissingParams(t *testing.T) {
	h := newHarness(t, testConfig(), "")

	err := h.client.Call(context.Background(), MethodDidOpen, nil, nil)
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcCode(t, err))
}

func TestStatus(t *testing.T) {
	h := newHarness(t, testConfig(), "")
	h.open(t)

	require.NoError(t, h.client.Call(context.Background(), MethodSelectionChanged, selection("mouse", types.NewRange(1, 0, 1, 6)), nil))
	require.NoError(t, h.client.Call(context.Background(), MethodSelectionChanged, selection("mouse", types.NewRange(1, 0, 1, 6)), nil))

	st, err := h.client.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Version, st.Version)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, uint64(2), st.Selections)
	assert.Equal(t, int64(1), st.Cache.ProviderCalls)
	require.NotNil(t, st.Store)
	assert.Nil(t, st.Warmer)
	assert.Equal(t, 1, h.symbols.count())
}

func TestConfigReloadBroadcasts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fader:\n  auto_unfold: true\n"), 0o600))

	h := newHarness(t, testConfig(), path)

	require.NoError(t, os.WriteFile(path, []byte("fader:\n  auto_unfold: false\n"), 0o600))
	h.d.onFlush([]watcher.FileEvent{{Path: path, Type: watcher.EventModify}})

	select {
	case n := <-h.client.Notifications():
		assert.Equal(t, MethodConfigChanged, n.Method)
		var p ConfigChangedParams
		require.NoError(t, json.Unmarshal(n.Params, &p))
		assert.True(t, p.Enabled)
		assert.False(t, p.AutoUnfold)
	case <-time.After(2 * time.Second):
		t.Fatal("no configChanged notification")
	}
	assert.False(t, h.d.Config().Fader.AutoUnfold)
}

func TestConfigReloadKeepsSettingsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  memory_entries: 0\n"), 0o600))

	h := newHarness(t, testConfig(), path)
	h.d.reloadConfig(context.Background())

	assert.True(t, h.d.Config().Fader.AutoUnfold)
	assert.Empty(t, drain(h.client))
}

func TestFlushWarmsDiskDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o600))

	h := newHarness(t, testConfig(), "")

	_, err := h.d.document(protocol.DocumentURI(uri.File(path)))
	require.NoError(t, err)

	events := []watcher.FileEvent{{Path: path, Type: watcher.EventModify}}
	h.d.onFlush(events)
	assert.Equal(t, 1, h.symbols.count())

	h.d.onFlush(events)
	assert.Equal(t, 1, h.symbols.count(), "unchanged mtime is served from the cache")

	h.d.onFlush([]watcher.FileEvent{{Path: filepath.Join(filepath.Dir(path), "other.go"), Type: watcher.EventModify}})
	assert.Equal(t, 1, h.symbols.count())
}

func TestPresenterNeedsSession(t *testing.T) {
	doc := stubDoc{}
	assert.ErrorIs(t, hostPresenter{}.ApplyFade(context.Background(), doc, nil), errNoSession)
	assert.ErrorIs(t, hostPresenter{}.Unfold(context.Background(), doc, fader.UnfoldRequest{}), errNoSession)
}

type stubDoc struct{ fader.Document }

func (stubDoc) ID() string { return string(docURI) }

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Config: testConfig()})
	assert.Error(t, err)
}
