package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

var (
	ErrNotInitialized = errors.New("lsp client not initialized")
	ErrAlreadyClosed  = errors.New("lsp client already closed")
)

const clientName = "codefaderd"

type Client struct {
	conn         *jsonrpc2.Conn
	config       ClientConfig
	state        atomic.Value
	capabilities protocol.ServerCapabilities
	requestCount int64
	errorCount   int64
	lastRequest  time.Time
	mu           sync.RWMutex
	closedCh     chan struct{}

	docsMu sync.Mutex
	docs   map[uri.URI]int32
}

type ClientConfig struct {
	Language       Language
	InitTimeout    time.Duration
	RequestTimeout time.Duration
}

func DefaultClientConfig(lang Language) ClientConfig {
	return ClientConfig{
		Language:       lang,
		InitTimeout:    30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *stdioReadWriteCloser) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

func (s *stdioReadWriteCloser) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// NewClient speaks to a server over its stdio pipes.
func NewClient(ctx context.Context, stdin io.WriteCloser, stdout io.ReadCloser, config ClientConfig) *Client {
	return NewClientConn(ctx, &stdioReadWriteCloser{reader: stdout, writer: stdin}, config)
}

// NewClientConn speaks to a server over an arbitrary stream.
func NewClientConn(ctx context.Context, rwc io.ReadWriteCloser, config ClientConfig) *Client {
	c := &Client{
		config:   config,
		closedCh: make(chan struct{}),
		docs:     make(map[uri.URI]int32),
	}
	c.state.Store(StateStarting)

	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, &clientHandler{client: c})
	return c
}

type clientHandler struct {
	client *Client
}

// Handle answers every server request with null so servers waiting on
// workspace/configuration or window/workDoneProgress/create carry on.
func (h *clientHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		if req.Method == "window/logMessage" && req.Params != nil {
			var msg protocol.LogMessageParams
			if err := json.Unmarshal(*req.Params, &msg); err == nil {
				log.Debug("server log", "language", h.client.config.Language, "message", msg.Message)
			}
		}
		return
	}
	if err := conn.Reply(ctx, req.ID, nil); err != nil {
		log.Debug("reply to server request failed", "method", req.Method, "error", err)
	}
}

func (c *Client) Initialize(ctx context.Context, rootURI uri.URI) error {
	c.mu.Lock()
	if c.getState() != StateStarting {
		c.mu.Unlock()
		return fmt.Errorf("cannot initialize: client in state %s", c.getState())
	}
	c.state.Store(StateInitializing)
	c.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, c.config.InitTimeout)
	defer cancel()

	params := protocol.InitializeParams{
		ProcessID:  int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{Name: clientName},
		RootURI:    protocol.DocumentURI(rootURI),
		Capabilities: protocol.ClientCapabilities{
			TextDocument: &protocol.TextDocumentClientCapabilities{
				Synchronization: &protocol.TextDocumentSyncClientCapabilities{},
				DocumentSymbol: &protocol.DocumentSymbolClientCapabilities{
					HierarchicalDocumentSymbolSupport: true,
				},
				DocumentHighlight: &protocol.DocumentHighlightClientCapabilities{},
			},
		},
	}

	var result protocol.InitializeResult
	if err := c.conn.Call(initCtx, protocol.MethodInitialize, params, &result); err != nil {
		c.state.Store(StateError)
		return fmt.Errorf("initialize failed: %w", err)
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.mu.Unlock()

	if err := c.conn.Notify(initCtx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		c.state.Store(StateError)
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	c.state.Store(StateReady)
	return nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	if !c.IsReady() {
		return ErrNotInitialized
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var result interface{}
	if err := c.conn.Call(timeoutCtx, protocol.MethodShutdown, nil, &result); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	if err := c.conn.Notify(ctx, protocol.MethodExit, nil); err != nil {
		return fmt.Errorf("exit notification failed: %w", err)
	}

	return nil
}

func (c *Client) DidOpen(ctx context.Context, doc Document) error {
	if !c.IsReady() {
		return ErrNotInitialized
	}
	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(doc.URI()),
			LanguageID: protocol.LanguageIdentifier(doc.LanguageID()),
			Version:    doc.Version(),
			Text:       doc.Content(),
		},
	}
	if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, params); err != nil {
		return fmt.Errorf("didOpen failed: %w", err)
	}
	c.docsMu.Lock()
	c.docs[doc.URI()] = doc.Version()
	c.docsMu.Unlock()
	return nil
}

type fullTextChange struct {
	Text string `json:"text"`
}

type didChangeFullParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []fullTextChange                         `json:"contentChanges"`
}

// DidChange sends the whole document as a single change event.
func (c *Client) DidChange(ctx context.Context, doc Document) error {
	if !c.IsReady() {
		return ErrNotInitialized
	}
	params := didChangeFullParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(doc.URI())},
			Version:                doc.Version(),
		},
		ContentChanges: []fullTextChange{{Text: doc.Content()}},
	}
	if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidChange, params); err != nil {
		return fmt.Errorf("didChange failed: %w", err)
	}
	c.docsMu.Lock()
	c.docs[doc.URI()] = doc.Version()
	c.docsMu.Unlock()
	return nil
}

func (c *Client) DidClose(ctx context.Context, u uri.URI) error {
	c.docsMu.Lock()
	_, open := c.docs[u]
	delete(c.docs, u)
	c.docsMu.Unlock()

	if !open || !c.IsReady() {
		return nil
	}
	params := protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
	}
	if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidClose, params); err != nil {
		return fmt.Errorf("didClose failed: %w", err)
	}
	return nil
}

// Sync makes sure the server has seen doc at its current version.
func (c *Client) Sync(ctx context.Context, doc Document) error {
	c.docsMu.Lock()
	version, open := c.docs[doc.URI()]
	c.docsMu.Unlock()

	switch {
	case !open:
		return c.DidOpen(ctx, doc)
	case version != doc.Version():
		return c.DidChange(ctx, doc)
	}
	return nil
}

func (c *Client) OpenDocuments() int {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	return len(c.docs)
}

func (c *Client) DocumentSymbols(ctx context.Context, u uri.URI) ([]protocol.DocumentSymbol, error) {
	if !c.IsReady() {
		return nil, ErrNotInitialized
	}

	c.recordRequest()

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	params := protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
	}

	var rawResult json.RawMessage
	if err := c.conn.Call(timeoutCtx, protocol.MethodTextDocumentDocumentSymbol, params, &rawResult); err != nil {
		c.recordError()
		return nil, fmt.Errorf("documentSymbol request failed: %w", err)
	}

	symbols, err := decodeSymbols(rawResult)
	if err != nil {
		c.recordError()
		return nil, err
	}
	return symbols, nil
}

// decodeSymbols accepts either DocumentSymbol[] or SymbolInformation[]. The
// two shapes are told apart by the presence of "location".
func decodeSymbols(raw json.RawMessage) ([]protocol.DocumentSymbol, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var probe []struct {
		Location *json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse symbol response: %w", err)
	}

	if len(probe) > 0 && probe[0].Location != nil {
		var flat []protocol.SymbolInformation
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, fmt.Errorf("failed to parse symbol response: %w", err)
		}
		return flatToHierarchical(flat), nil
	}

	var symbols []protocol.DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, fmt.Errorf("failed to parse symbol response: %w", err)
	}
	return symbols, nil
}

func (c *Client) DocumentHighlights(ctx context.Context, u uri.URI, pos protocol.Position) ([]protocol.DocumentHighlight, error) {
	if !c.IsReady() {
		return nil, ErrNotInitialized
	}

	c.recordRequest()

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	params := protocol.DocumentHighlightParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
			Position:     pos,
		},
	}

	var highlights []protocol.DocumentHighlight
	if err := c.conn.Call(timeoutCtx, protocol.MethodTextDocumentDocumentHighlight, params, &highlights); err != nil {
		c.recordError()
		return nil, fmt.Errorf("documentHighlight request failed: %w", err)
	}
	return highlights, nil
}

func (c *Client) Capabilities() protocol.ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

func (c *Client) Close() error {
	select {
	case <-c.closedCh:
		return ErrAlreadyClosed
	default:
		close(c.closedCh)
	}

	c.state.Store(StateStopped)
	return c.conn.Close()
}

// DisconnectNotify is closed when the underlying connection goes away.
func (c *Client) DisconnectNotify() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

func (c *Client) IsReady() bool {
	return c.getState() == StateReady
}

func (c *Client) getState() LSPState {
	return c.state.Load().(LSPState)
}

func (c *Client) GetState() LSPState {
	return c.getState()
}

func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStats{
		Language:     c.config.Language,
		State:        c.getState(),
		RequestCount: atomic.LoadInt64(&c.requestCount),
		ErrorCount:   atomic.LoadInt64(&c.errorCount),
		LastRequest:  c.lastRequest,
		OpenDocs:     c.OpenDocuments(),
	}
}

type ClientStats struct {
	Language     Language  `json:"language"`
	State        LSPState  `json:"state"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	LastRequest  time.Time `json:"last_request,omitempty"`
	OpenDocs     int       `json:"open_docs"`
}

func (c *Client) recordRequest() {
	atomic.AddInt64(&c.requestCount, 1)
	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *Client) recordError() {
	atomic.AddInt64(&c.errorCount, 1)
}
