package daemon

import (
	"context"
	"errors"

	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/alucardeht/code-fader/internal/fader"
	"github.com/alucardeht/code-fader/internal/types"
)

var errNoSession = errors.New("no host connection for request")

type sessionKey struct{}

func withSession(ctx context.Context, conn *jsonrpc2.Conn) context.Context {
	return context.WithValue(ctx, sessionKey{}, conn)
}

func sessionFrom(ctx context.Context) *jsonrpc2.Conn {
	conn, _ := ctx.Value(sessionKey{}).(*jsonrpc2.Conn)
	return conn
}

// hostPresenter renders results by notifying the host connection the
// selection event arrived on.
type hostPresenter struct{}

func (hostPresenter) ApplyFade(ctx context.Context, doc fader.Document, ranges []types.Range) error {
	conn := sessionFrom(ctx)
	if conn == nil {
		return errNoSession
	}
	return conn.Notify(ctx, MethodSetDecorations, SetDecorationsParams{
		URI:    protocol.DocumentURI(doc.ID()),
		Ranges: toProtocolRanges(ranges),
	})
}

func (hostPresenter) Unfold(ctx context.Context, doc fader.Document, req fader.UnfoldRequest) error {
	conn := sessionFrom(ctx)
	if conn == nil {
		return errNoSession
	}
	return conn.Notify(ctx, MethodUnfold, UnfoldParams{
		URI:            protocol.DocumentURI(doc.ID()),
		Levels:         req.Levels,
		Direction:      req.Direction,
		SelectionLines: req.Lines,
	})
}
