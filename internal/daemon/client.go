package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
)

// Notification is a daemon-to-host message received by a Client.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Client speaks the host side of the daemon protocol. It is used by the
// CLI and by tests; editor hosts implement the same wire protocol.
type Client struct {
	conn   *jsonrpc2.Conn
	notifs chan Notification

	mu     sync.Mutex
	closed bool
}

// Dial connects to a daemon listening on socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	conn, err := NewSocketConnector(socketPath).Connect()
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", socketPath, err)
	}
	return NewClient(ctx, conn), nil
}

func NewClient(ctx context.Context, rwc io.ReadWriteCloser) *Client {
	c := &Client{
		notifs: make(chan Notification, 64),
	}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(c.handle))
	return c
}

func (c *Client) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if !req.Notif {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "host does not serve requests"}
	}
	n := Notification{Method: req.Method}
	if req.Params != nil {
		n.Params = append(json.RawMessage(nil), *req.Params...)
	}
	select {
	case c.notifs <- n:
	default:
		log.Debug("dropping daemon notification", "method", req.Method)
	}
	return nil, nil
}

func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	return c.conn.Call(ctx, method, params, result)
}

func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	return c.conn.Notify(ctx, method, params)
}

// Notifications delivers daemon notifications in arrival order. Messages
// are dropped when nobody drains the channel.
func (c *Client) Notifications() <-chan Notification {
	return c.notifs
}

func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var st StatusResult
	if err := c.Call(ctx, MethodStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) DisconnectNotify() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
