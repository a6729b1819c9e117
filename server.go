package wspush

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Server is the WebSocket transport in front of a Dispatcher. It upgrades
// HTTP requests, assigns client ids, feeds connection events to a single
// event loop and performs the sends the dispatcher asks for.
//
// Producers use Enqueue, EnqueueBuffer and Broadcast from any goroutine.
type Server struct {
	opts       options
	logger     Logger
	upgrader   websocket.Upgrader
	limiter    *rate.Limiter
	dispatcher *Dispatcher
	loop       *eventLoop

	nextID atomic.Uint64

	mu     sync.RWMutex
	conns  map[ClientID]*Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server. A Handler (or receive callback) option is required.
func New(opt ...Option) (*Server, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	s := &Server{
		opts:   opts,
		logger: opts.logger,
		loop:   newEventLoop(opts.eventBacklog),
		conns:  make(map[ClientID]*Conn),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:    opts.receiveBufferSize,
		EnableCompression: opts.compression,
		CheckOrigin:       opts.checkOrigin,
	}
	if opts.protocol != "" {
		s.upgrader.Subprotocols = []string{opts.protocol}
	}
	if opts.acceptRate > 0 {
		s.limiter = rate.NewLimiter(opts.acceptRate, opts.acceptBurst)
	}

	s.dispatcher = newDispatcherWithOptions(serverTransport{s}, opts)
	s.loop.dispatcher = s.dispatcher
	s.loop.closed = s.removeConn

	return s, nil
}

// RegisterReceiveCallback replaces the application handler with fn. It must
// be called before the server starts.
func (s *Server) RegisterReceiveCallback(fn func(state State, id ClientID, data []byte, final, binary bool)) error {
	if s.loop.started.Load() {
		return ErrServerRunning
	}
	if fn == nil {
		return ErrInvalidHandler
	}
	s.dispatcher.handler = HandlerFunc(fn)
	return nil
}

// Run runs the event loop until ctx is canceled or Close is called. Use it
// when the server is mounted as an http.Handler in an existing HTTP server;
// otherwise use Serve.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.loop.shutdown.Load() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.loop.started.Load() {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.ctx, s.cancel = ctx, cancel
	s.mu.Unlock()

	s.logger.Info("event loop started",
		"min_send_interval", s.opts.minSendInterval,
		"pacing", s.opts.pacing,
		"atomic_messages", s.opts.atomicMessages,
		"recycle_buffers", s.opts.recycleBuffers)

	err := s.loop.run(ctx)
	if errors.Is(err, ErrServerRunning) {
		return err
	}
	closed := s.loop.shutdown.Swap(true)
	s.closeConns()

	s.logger.Info("event loop stopped")
	if err == nil || closed {
		return ErrServerClosed
	}
	return err
}

// Serve accepts connections on l and runs the event loop. It blocks until the
// context is canceled or Close is called.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.logger.Info("server started", "addr", l.Addr())

	srv := &http.Server{Handler: s}
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := s.Run(child)
		_ = srv.Close()
		return err
	})

	group.Go(func() error {
		err := srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	err := group.Wait()
	s.logger.Info("server stopped", "addr", l.Addr())

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, l)
}

// Close stops the event loop after its current iteration, waits for it to
// exit and closes every connection. Queued payloads are not sent.
func (s *Server) Close() error {
	s.mu.Lock()
	s.loop.stop()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loop.wait()
	s.closeConns()
	return nil
}

// ServeHTTP upgrades the request to a WebSocket connection and serves it
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	if ctx == nil || s.loop.shutdown.Load() {
		http.Error(w, "server not running", http.StatusServiceUnavailable)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("connection rejected by rate limit", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ClientID(s.nextID.Add(1)), ws, s.loop, s.opts)
	s.addConn(conn)

	if err := s.loop.post(ctx, event{kind: eventConnect, id: conn.id}); err != nil {
		s.removeConn(conn.id)
		_ = conn.Close()
		return
	}

	_ = conn.Run(ctx)

	// the loop may already be gone during shutdown
	if err := s.loop.post(context.Background(), event{kind: eventDisconnect, id: conn.id}); err != nil {
		s.removeConn(conn.id)
	}
}

// Enqueue queues a copy of data for id, or for every client when id is
// Broadcast.
func (s *Server) Enqueue(id ClientID, data []byte, mode WriteMode) error {
	return s.dispatcher.Enqueue(id, data, mode)
}

// EnqueueBuffer queues buf for id without copying it. The caller keeps its
// reference until it calls Release.
func (s *Server) EnqueueBuffer(id ClientID, buf *PooledBuffer, mode WriteMode) error {
	return s.dispatcher.EnqueueBuffer(id, buf, mode)
}

// Broadcast queues a copy of data for every connected client.
func (s *Server) Broadcast(data []byte, mode WriteMode) error {
	return s.dispatcher.Broadcast(data, mode)
}

// Acquire returns a buffer with size usable bytes, recycled when possible.
// Write the payload into buf.Bytes(), pass it to EnqueueBuffer for one or more
// clients, then Release it.
func (s *Server) Acquire(size int) *PooledBuffer {
	return s.dispatcher.Acquire(size)
}

// Release drops the caller's reference to buf. The buffer is recycled once
// every queued send of it has completed.
func (s *Server) Release(buf *PooledBuffer) {
	s.dispatcher.Release(buf)
}

// Clients returns a snapshot of the registered client ids.
func (s *Server) Clients() []ClientID {
	return s.dispatcher.Clients()
}

// ConnectedClients returns the number of registered clients.
func (s *Server) ConnectedClients() int {
	return s.dispatcher.registry.Len()
}

// FrameTime returns the minimum interval between two sends to one client.
func (s *Server) FrameTime() time.Duration {
	return s.dispatcher.FrameTime()
}

// PooledBuffers returns the number of recycled buffers ready for reuse.
func (s *Server) PooledBuffers() int {
	return s.dispatcher.pool.Len()
}

func (s *Server) addConn(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("add conn", "client", c.id, "addr", c.Addr())
	s.conns[c.id] = c
}

func (s *Server) removeConn(id ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, id)
}

func (s *Server) getConn(id ClientID) *Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.conns[id]
}

func (s *Server) closeConns() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// serverTransport is the Transport the server hands to its dispatcher.
type serverTransport struct {
	s *Server
}

func (t serverTransport) Send(id ClientID, data []byte, mode WriteMode) (int, error) {
	c := t.s.getConn(id)
	if c == nil {
		return 0, ErrUnknownClient
	}
	return c.write(data, mode)
}

func (t serverTransport) RequestWritable(id ClientID) {
	t.s.loop.requestWritable(id)
}

func (t serverTransport) Disconnect(id ClientID) error {
	c := t.s.getConn(id)
	if c == nil {
		return ErrUnknownClient
	}
	return c.Close()
}
