package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/fader"
	"github.com/alucardeht/code-fader/internal/lsp"
	"github.com/alucardeht/code-fader/internal/types"
)

// handler serves one host connection. Document sync and the ordered half of
// selection handling run inline so they follow arrival order; resolution
// runs in its own goroutine so a newer event can supersede a slow one.
type handler struct {
	d *Daemon
}

func (h *handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	ctx = withSession(ctx, conn)

	switch req.Method {
	case MethodSelectionChanged:
		ev, err := h.d.selectionEvent(req)
		if err != nil {
			h.reply(ctx, conn, req, nil, err)
			return
		}
		pending, ok := h.d.coordinator.Begin(ctx, ev)
		if !ok {
			h.reply(ctx, conn, req, nil, nil)
			return
		}
		go func() {
			h.d.coordinator.Finish(ctx, pending)
			h.reply(ctx, conn, req, nil, nil)
		}()

	case MethodResolve:
		doc, sel, err := h.d.resolveTarget(req)
		if err != nil {
			h.reply(ctx, conn, req, nil, err)
			return
		}
		go func() {
			res := h.d.resolver.Resolve(ctx, doc, sel)
			h.reply(ctx, conn, req, resolveResult(res), nil)
		}()

	case MethodShutdown:
		h.reply(ctx, conn, req, nil, nil)
		go h.d.Shutdown()

	default:
		result, err := h.d.dispatch(ctx, req)
		h.reply(ctx, conn, req, result, err)
	}
}

func (h *handler) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, result interface{}, err error) {
	if req.Notif {
		if err != nil {
			log.Warn("notification failed", "method", req.Method, "error", err)
		}
		return
	}

	if err != nil {
		var rpcErr *jsonrpc2.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		}
		if replyErr := conn.ReplyWithError(ctx, req.ID, rpcErr); replyErr != nil {
			log.Debug("reply failed", "method", req.Method, "error", replyErr)
		}
		return
	}

	if replyErr := conn.Reply(ctx, req.ID, result); replyErr != nil {
		log.Debug("reply failed", "method", req.Method, "error", replyErr)
	}
}

func (d *Daemon) dispatch(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case MethodInitialize:
		var p InitializeParams
		if req.Params != nil {
			if err := decodeParams(req, &p); err != nil {
				return nil, err
			}
		}
		if p.ClientInfo != nil {
			log.Info("host initialized", "client", p.ClientInfo.Name, "version", p.ClientInfo.Version)
		}
		cfg := d.cfg.Load()
		return InitializeResult{
			ServerInfo: protocol.ServerInfo{Name: Name, Version: Version},
			Decoration: cfg.Fader.Decoration,
			Settings:   configChanged(cfg),
		}, nil

	case MethodDidOpen:
		var p protocol.DidOpenTextDocumentParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		d.openDocument(p)
		return nil, nil

	case MethodDidChange:
		var p DidChangeParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if err := d.changeDocument(p); err != nil {
			return nil, invalidParams(err)
		}
		return nil, nil

	case MethodDidClose:
		var p protocol.DidCloseTextDocumentParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		d.closeDocument(ctx, uri.URI(p.TextDocument.URI))
		return nil, nil

	case MethodStatus:
		return d.Status(ctx), nil
	}

	if req.Notif {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
}

func (d *Daemon) selectionEvent(req *jsonrpc2.Request) (fader.SelectionChangeEvent, error) {
	var p SelectionChangedParams
	if err := decodeParams(req, &p); err != nil {
		return fader.SelectionChangeEvent{}, err
	}
	kind, err := fader.ParseSelectionKind(p.Kind)
	if err != nil {
		return fader.SelectionChangeEvent{}, invalidParams(err)
	}
	doc, err := d.document(p.URI)
	if err != nil {
		return fader.SelectionChangeEvent{}, invalidParams(err)
	}

	sels := make([]types.Range, len(p.Selections))
	for i, r := range p.Selections {
		sels[i] = lsp.FromProtocolRange(r)
	}
	return fader.SelectionChangeEvent{Doc: doc, Selections: sels, Kind: kind}, nil
}

func (d *Daemon) resolveTarget(req *jsonrpc2.Request) (fader.Document, types.Range, error) {
	var p ResolveParams
	if err := decodeParams(req, &p); err != nil {
		return nil, types.Range{}, err
	}
	doc, err := d.document(p.URI)
	if err != nil {
		return nil, types.Range{}, invalidParams(err)
	}
	return doc, lsp.FromProtocolRange(p.Selection), nil
}

func resolveResult(res fader.Result) ResolveResult {
	faded := res.FadedLines()
	if faded == nil {
		faded = []int{}
	}
	kept := res.KeptLines
	if kept == nil {
		kept = []types.LineInterval{}
	}
	return ResolveResult{
		Case:          res.Case.String(),
		FadedLines:    faded,
		SelectedLines: kept,
		FadeRanges:    toProtocolRanges(res.FadeRanges),
	}
}

func decodeParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return invalidParams(err)
	}
	return nil
}

func invalidParams(err error) error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
}
