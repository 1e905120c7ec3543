package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned for calls issued on, or pending at, a closed connection.
var ErrClosed = errors.New("jsonrpc: connection closed")

const dialTimeout = 10 * time.Second

// RPCError is a JSON-RPC error object returned by the remote end.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Client is a JSON-RPC 2.0 connection over WebSocket or raw TCP.
// Responses are correlated by request id; notifications are routed by method.
type Client struct {
	log      *zap.Logger
	endpoint string
	ws       *websocket.Conn
	tcp      net.Conn
	reqID    atomic.Uint64
	writeMu  sync.Mutex
	done     chan struct{}

	mu       sync.Mutex
	closing  bool
	finished bool
	pending  map[uint64]chan response
	handlers map[string][]func(json.RawMessage)
	onClose  []func(error)
	onError  []func(error)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type message struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

// URL builds an endpoint URL for host and port. transport is "ws" (default) or "tcp".
func URL(transport string, host string, port int) string {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if strings.EqualFold(transport, "tcp") {
		return "tcp://" + addr
	}
	return "ws://" + addr + "/jsonrpc"
}

// Dial connects to endpoint (ws://, wss:// or tcp://) and starts the read loop.
func Dial(ctx context.Context, log *zap.Logger, endpoint string) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	c := &Client{
		log:      log,
		endpoint: endpoint,
		done:     make(chan struct{}),
		pending:  make(map[uint64]chan response),
		handlers: make(map[string][]func(json.RawMessage)),
	}

	switch u.Scheme {
	case "tcp":
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("tcp dial: %w", err)
		}
		c.tcp = conn
		go c.readLoopTCP()
	case "ws", "wss":
		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		headers := http.Header{}
		headers.Set("Origin", "http://"+u.Host)
		conn, _, err := dialer.DialContext(ctx, endpoint, headers)
		if err != nil {
			return nil, fmt.Errorf("websocket dial: %w", err)
		}
		c.ws = conn
		go c.readLoopWS()
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return c, nil
}

// Endpoint returns the URL this client was dialled with.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Done is closed once the connection has shut down and close listeners have run.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Subscribe registers handler for notifications named method.
// Handlers run on their own goroutine so they may issue calls.
func (c *Client) Subscribe(method string, handler func(params json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = append(c.handlers[method], handler)
}

// OnClose registers a listener fired once when the connection goes away.
// Registering on a connection that has already shut down fires immediately.
func (c *Client) OnClose(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		go handler(nil)
		return
	}
	c.onClose = append(c.onClose, handler)
}

// OnError registers a listener fired when the connection fails with a read error.
// It does not fire for a local Close.
func (c *Client) OnError(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, handler)
}

// RemoveAllListeners drops notification handlers and close/error listeners.
func (c *Client) RemoveAllListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[string][]func(json.RawMessage))
	c.onClose = nil
	c.onError = nil
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()
	return c.closeConn()
}

func (c *Client) closeConn() error {
	if c.ws != nil {
		return c.ws.Close()
	}
	if c.tcp != nil {
		return c.tcp.Close()
	}
	return nil
}

// Call sends a request and waits for its response or ctx cancellation.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.reqID.Add(1)
	data, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	respCh := make(chan response, 1)
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	if err := c.write(data); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.result, nil
	}
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws != nil {
		return c.ws.WriteMessage(websocket.TextMessage, data)
	}
	_, err := c.tcp.Write(data)
	return err
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoopWS() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.handleMessage(data)
	}
}

// readLoopTCP decodes back-to-back JSON objects; Kodi does not delimit them.
func (c *Client) readLoopTCP() {
	dec := json.NewDecoder(c.tcp)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			c.finish(err)
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("discarding malformed message", zap.Error(err))
		return
	}

	if msg.ID != nil && msg.Method == "" {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()
		if !ok {
			return
		}
		if msg.Error != nil {
			ch <- response{err: msg.Error}
			return
		}
		ch <- response{result: msg.Result}
		return
	}

	if msg.Method == "" {
		return
	}
	c.mu.Lock()
	handlers := append([]func(json.RawMessage){}, c.handlers[msg.Method]...)
	c.mu.Unlock()
	for _, h := range handlers {
		go h(msg.Params)
	}
}

func (c *Client) finish(readErr error) {
	c.mu.Lock()
	local := c.closing
	c.closing = true
	c.finished = true
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	errorHandlers := append([]func(error){}, c.onError...)
	closeHandlers := append([]func(error){}, c.onClose...)
	c.mu.Unlock()

	_ = c.closeConn()
	for _, ch := range pending {
		ch <- response{err: ErrClosed}
	}

	cause := readErr
	if local || errors.Is(readErr, io.EOF) || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		cause = nil
	}
	if cause != nil {
		c.log.Debug("connection read failed", zap.String("endpoint", c.endpoint), zap.Error(cause))
		for _, h := range errorHandlers {
			h(cause)
		}
	}
	for _, h := range closeHandlers {
		h(cause)
	}
	close(c.done)
}
