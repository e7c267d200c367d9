package deriv

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type handlerKind uint8

const (
	kindPending handlerKind = iota
	kindSubscribed
)

// handler is a correlation entry. Pending entries are single-shot and carry a
// reply channel; subscribed entries repeat until removed.
type handler struct {
	kind  handlerKind
	reply chan Response
	push  PushFunc
}

// Client multiplexes requests and subscriptions over one websocket connection
// to the Deriv API, correlated by req_id.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn  *websocket.Conn
	state atomic.Int32

	started atomic.Bool
	nextID  atomic.Int64

	mu       sync.Mutex
	handlers map[int64]*handler

	writeMu sync.Mutex

	closeOnce  sync.Once
	finishOnce sync.Once
	done       chan struct{}
}

// NewClient creates a Client for cfg.URL. Nothing is dialed until Connect.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[int64]*handler),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection has terminated, for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Connect dials the socket and returns once it is open.
func (c *Client) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	c.logger.Debug("DerivClient: connecting to WebSocket", "url", c.cfg.URL)
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.finish()
		return &ConnectionError{URL: c.cfg.URL, Err: err}
	}

	c.mu.Lock()
	if c.State() == StateClosed {
		// Disconnect won the race against the handshake.
		c.mu.Unlock()
		conn.Close()
		return &ConnectionError{URL: c.cfg.URL, Err: websocket.ErrCloseSent}
	}
	c.conn = conn
	c.state.Store(int32(StateOpen))
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Debug("DerivClient: connected", "url", c.cfg.URL)
	return nil
}

// Send issues a single-shot request and waits for the response carrying the
// same req_id. A response with an error field yields a *RemoteError.
// Send imposes no timeout of its own; bound it through ctx.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if c.State() != StateOpen {
		return Response{}, ErrTransportNotReady
	}

	id := c.nextID.Add(1)
	reply := make(chan Response, 1)
	c.register(id, &handler{kind: kindPending, reply: reply})

	if err := c.write(id, req); err != nil {
		c.remove(id)
		return Response{}, err
	}

	var resp Response
	select {
	case resp = <-reply:
	case <-ctx.Done():
		c.remove(id)
		// A reply that landed together with the cancellation still wins.
		select {
		case resp = <-reply:
		default:
			return Response{}, ctx.Err()
		}
	}
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

// Subscribe issues a standing request and returns its req_id as soon as it has
// been transmitted. onPush is called for every message with that req_id until
// Unsubscribe or teardown.
func (c *Client) Subscribe(req Request, onPush PushFunc) (int64, error) {
	if c.State() != StateOpen {
		return 0, ErrTransportNotReady
	}

	id := c.nextID.Add(1)
	c.register(id, &handler{kind: kindSubscribed, push: onPush})

	if err := c.write(id, req); err != nil {
		c.remove(id)
		return 0, err
	}
	return id, nil
}

// Unsubscribe drops the local handler and asks the server to forget the
// subscription. The reply to the forget request is not awaited. A push that
// was already being dispatched may still reach onPush once.
func (c *Client) Unsubscribe(id int64) error {
	c.remove(id)

	if c.State() != StateOpen {
		return ErrTransportNotReady
	}
	return c.write(c.nextID.Add(1), Request{"forget": id})
}

// Disconnect closes the socket. Pending requests are abandoned, never
// completed. Safe to call more than once.
func (c *Client) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			c.finish()
			return
		}

		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = conn.Close()
		c.logger.Debug("DerivClient: disconnected", "url", c.cfg.URL)
	})
	return err
}

func (c *Client) register(id int64, h *handler) {
	c.mu.Lock()
	c.handlers[id] = h
	c.mu.Unlock()
}

func (c *Client) remove(id int64) {
	c.mu.Lock()
	delete(c.handlers, id)
	c.mu.Unlock()
}

// write sends req with req_id set. The caller's map is not modified.
func (c *Client) write(id int64, req Request) error {
	payload := make(map[string]any, len(req)+1)
	for k, v := range req {
		payload[k] = v
	}
	payload["req_id"] = id

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ConnectionError{URL: c.cfg.URL, Err: err}
	}
	return nil
}

// readLoop is the only dispatcher for this connection, so handlers run one at
// a time in arrival order.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.finish()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.State() != StateClosed {
				c.logger.Warn("DerivClient: connection lost", "url", c.cfg.URL, "error", err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("DerivClient: dropping malformed message", "error", err)
		return
	}
	if env.ReqID == nil {
		return
	}
	id := *env.ReqID

	c.mu.Lock()
	h, ok := c.handlers[id]
	if ok && h.kind == kindPending {
		delete(c.handlers, id)
	}
	c.mu.Unlock()

	if !ok {
		// Stale or unknown id, e.g. a push racing an unsubscribe.
		return
	}

	resp := Response{ReqID: id, MsgType: env.MsgType, Raw: data, err: env.remoteError()}
	switch h.kind {
	case kindPending:
		h.reply <- resp
	case kindSubscribed:
		h.push(resp)
	}
}

// finish marks the connection closed and drops every correlation entry
// without invoking it.
func (c *Client) finish() {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		c.handlers = make(map[int64]*handler)
		c.mu.Unlock()
		close(c.done)
	})
}
