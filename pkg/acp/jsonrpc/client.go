package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// NotificationHandler handles notifications from the agent.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler handles agent-to-client requests that require a response.
type RequestHandler func(id interface{}, method string, params json.RawMessage)

// pendingCall tracks a request waiting for its response.
type pendingCall struct {
	ch chan *Response
}

// Client speaks line-delimited JSON-RPC 2.0 with an agent subprocess over
// stdin/stdout streams.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	logger *zap.Logger

	nextID atomic.Int64

	pending   map[int64]*pendingCall
	pendingMu sync.Mutex

	notificationHandler NotificationHandler
	requestHandler      RequestHandler
	handlerMu           sync.RWMutex

	writeMu sync.Mutex
	done    chan struct{}
	doneMu  sync.Mutex
}

// NewClient creates a client over the given streams.
func NewClient(stdin io.Writer, stdout io.Reader, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		stdin:   stdin,
		stdout:  stdout,
		logger:  log,
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
	}
}

// SetNotificationHandler sets the handler for incoming notifications.
func (c *Client) SetNotificationHandler(h NotificationHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.notificationHandler = h
}

// SetRequestHandler sets the handler for incoming agent requests.
func (c *Client) SetRequestHandler(h RequestHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.requestHandler = h
}

// Start begins the stdout read loop in a goroutine.
func (c *Client) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Stop terminates the read loop and fails any pending calls.
func (c *Client) Stop() {
	c.doneMu.Lock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.doneMu.Unlock()

	c.pendingMu.Lock()
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// Call sends a request and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := c.nextID.Add(1)

	pending := &pendingCall{ch: make(chan *Response, 1)}
	c.pendingMu.Lock()
	c.pending[id] = pending
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.send(&Request{JSONRPC: "2.0", ID: id, Method: method, Params: marshalParams(params)}); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("client stopped while waiting for %s", method)
	case resp, okCh := <-pending.ch:
		if !okCh || resp == nil {
			return nil, fmt.Errorf("client stopped while waiting for %s", method)
		}
		return resp, nil
	}
}

// Notify sends a notification (no response expected).
func (c *Client) Notify(method string, params interface{}) error {
	return c.send(&Request{JSONRPC: "2.0", Method: method, Params: marshalParams(params)})
}

// SendResponse answers an agent-to-client request.
func (c *Client) SendResponse(id interface{}, result interface{}, rpcErr *Error) error {
	resp := &Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		resp.Result = data
	}
	return c.send(resp)
}

func marshalParams(params interface{}) json.RawMessage {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	return data
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	c.logger.Debug("acp: sent message", zap.ByteString("data", data))
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.stdout)
	// Allow for large JSON messages (up to 10MB).
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		c.logger.Debug("acp: read loop ended", zap.Error(err))
	}
	c.Stop()
}

// envelope covers requests, responses and notifications so one parse
// classifies the line.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (c *Client) handleLine(line []byte) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		c.logger.Warn("acp: failed to parse line", zap.Error(err), zap.ByteString("line", line))
		return
	}

	switch {
	case env.Method != "" && env.ID == nil:
		// Notification
		c.handlerMu.RLock()
		handler := c.notificationHandler
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(env.Method, env.Params)
		}

	case env.Method != "":
		// Agent-to-client request
		c.handlerMu.RLock()
		handler := c.requestHandler
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(env.ID, env.Method, env.Params)
			return
		}
		_ = c.SendResponse(env.ID, nil, &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("no handler for method %s", env.Method),
		})

	default:
		// Response to one of our calls
		c.dispatchResponse(&env)
	}
}

func (c *Client) dispatchResponse(env *envelope) {
	id, ok := numericID(env.ID)
	if !ok {
		c.logger.Warn("acp: response with unrecognised id", zap.Any("id", env.ID))
		return
	}

	c.pendingMu.Lock()
	pending, exists := c.pending[id]
	c.pendingMu.Unlock()
	if !exists {
		c.logger.Warn("acp: response for unknown request", zap.Int64("id", id))
		return
	}

	resp := &Response{JSONRPC: env.JSONRPC, ID: env.ID, Result: env.Result, Error: env.Error}
	select {
	case pending.ch <- resp:
	default:
	}
}

// numericID normalises the JSON number an id decodes to.
func numericID(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// CallWithTimeout wraps Call with a deadline.
func (c *Client) CallWithTimeout(ctx context.Context, method string, params interface{}, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Call(ctx, method, params)
}
