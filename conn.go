// Package wspush is a multi-client WebSocket push/pull service. Inbound
// fragments are reassembled into logical messages for the application, and
// outbound payloads are queued per client (or broadcast), paced and delivered
// in order by a single event loop, recycling sent buffers through a pool.
package wspush

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn is one upgraded WebSocket connection. Its read loop turns inbound
// messages into fragment events for the event loop; writes are performed by
// the event loop only.
type Conn struct {
	id     ClientID
	ws     *websocket.Conn
	loop   *eventLoop
	logger Logger

	opts options

	closed atomic.Bool
}

// newConn wraps an upgraded connection.
func newConn(id ClientID, ws *websocket.Conn, loop *eventLoop, opts options) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		loop:   loop,
		logger: opts.logger,
		opts:   opts,
	}
}

// ID returns the client id assigned to the connection.
func (c *Conn) ID() ClientID {
	return c.id
}

// Run starts the connection's read and heartbeat loops.
// It blocks until an error occurs or the context is canceled.
// The connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Debug("connection options", "client", c.id, "addr", c.Addr(),
		"receive_buffer_size", c.opts.receiveBufferSize,
		"heartbeat", c.opts.heartbeat,
		"write_timeout", c.opts.writeTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.heartbeatLoop(child)
	})

	err := group.Wait()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) && !isNormalClose(err) {
		c.logger.Debug("connection closed with error", "client", c.id, "error", err)
	}
	return err
}

// Close closes the connection after a best-effort close frame. A running
// read loop fails on the closed socket, which stops Run.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.ws.RemoteAddr()
}

// Subprotocol returns the negotiated subprotocol.
func (c *Conn) Subprotocol() string {
	return c.ws.Subprotocol()
}

// write sends one complete message with a deadline. Only the event loop
// calls it.
func (c *Conn) write(data []byte, mode WriteMode) (int, error) {
	if c.closed.Load() {
		return 0, ErrConnectionClosed
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))

	messageType := websocket.BinaryMessage
	if mode == Text {
		messageType = websocket.TextMessage
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return 0, errors.Wrap(err, "write message")
	}
	return len(data), nil
}

// readLoop reads messages in chunks of the receive buffer size and posts each
// chunk as a fragment. The chunk that ends a message is marked final. The read
// buffer is reused; every fragment gets its own exact-size copy.
func (c *Conn) readLoop(ctx context.Context) error {
	chunk := make([]byte, c.opts.receiveBufferSize)
	deadline := c.opts.heartbeat * 2
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		messageType, r, err := c.ws.NextReader()
		if err != nil {
			return err
		}
		binary := messageType == websocket.BinaryMessage

		for {
			n, err := io.ReadFull(r, chunk)
			final := err == io.EOF || err == io.ErrUnexpectedEOF
			if err != nil && !final {
				return err
			}

			data := make([]byte, n)
			copy(data, chunk[:n])

			ev := event{
				kind:   eventFragment,
				id:     c.id,
				data:   data,
				final:  final,
				binary: binary,
			}
			if err := c.loop.post(ctx, ev); err != nil {
				return err
			}
			if final {
				break
			}
		}
	}
}

// heartbeatLoop pings the peer every heartbeat interval. When ctx is done it
// closes the socket so that a blocked read returns.
func (c *Conn) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeConn()
			return ctx.Err()
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return errors.Wrap(err, "ping")
			}
		}
	}
}

// closeConn marks the connection as closed and closes the underlying socket.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.ws.Close()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
