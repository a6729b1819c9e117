package wspush

import (
	"time"

	"github.com/pkg/errors"
)

// Transport is the connection layer the Dispatcher drives. Send performs the
// actual write of one message and returns the number of bytes written.
// RequestWritable asks the transport to call Dispatcher.OnWritable for id from
// its event loop; it must not block, producers call it while enqueueing.
// Disconnect tears down the connection of id.
type Transport interface {
	Send(id ClientID, data []byte, mode WriteMode) (int, error)
	RequestWritable(id ClientID)
	Disconnect(id ClientID) error
}

// Dispatcher glues the transport's events to the registry, the reassembler,
// the outbound queues and the pacer.
//
// OnConnect, OnDisconnect, OnFragment and OnWritable must be called from a
// single goroutine, one at a time. Enqueue, EnqueueBuffer, Broadcast and the
// buffer helpers are safe from any goroutine.
type Dispatcher struct {
	opts      options
	logger    Logger
	handler   Handler
	transport Transport

	pool        *BufferPool
	queues      *OutboundQueue
	reassembler *Reassembler
	pacer       *Pacer
	registry    *Registry

	sleep func(time.Duration)
	after func(time.Duration, func())

	// deadlines of armed deferred-pacing timers, event loop only
	armed map[ClientID]time.Time
}

// NewDispatcher creates a Dispatcher sending through transport. A Handler
// option is required.
func NewDispatcher(transport Transport, opt ...Option) (*Dispatcher, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newDispatcherWithOptions(transport, opts), nil
}

func newDispatcherWithOptions(transport Transport, opts options) *Dispatcher {
	pool := NewBufferPool(opts.recycleBuffers, opts.maxPooled)
	queues := NewOutboundQueue(pool)
	reassembler := NewReassembler(opts.maxMessageSize)
	pacer := NewPacer(opts.minSendInterval)

	return &Dispatcher{
		opts:        opts,
		logger:      opts.logger,
		handler:     opts.handler,
		transport:   transport,
		pool:        pool,
		queues:      queues,
		reassembler: reassembler,
		pacer:       pacer,
		registry:    NewRegistry(queues, reassembler, pacer),
		sleep:       time.Sleep,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		armed: make(map[ClientID]time.Time),
	}
}

// OnConnect registers id and reports it to the application. A connect for an
// id that is already registered replaces the stale state; the stale session
// is reported as disconnected first.
func (d *Dispatcher) OnConnect(id ClientID) {
	err := d.registry.RegisterClient(id)
	if errors.Is(err, ErrDuplicateClient) {
		d.logger.Warn("duplicate client, replacing state", "client", id)
		_, _ = d.registry.UnregisterClient(id)
		delete(d.armed, id)
		d.handler.OnDisconnect(id)
		err = d.registry.RegisterClient(id)
	}
	if err != nil {
		d.logger.Error("register client failed", "client", id, "error", err)
		return
	}

	d.logger.Info("client connected", "client", id, "clients", d.registry.Len())
	d.handler.OnConnect(id)
}

// OnDisconnect unregisters id, discarding anything still queued for it, and
// reports it to the application. It does nothing for an id that was already
// torn down.
func (d *Dispatcher) OnDisconnect(id ClientID) {
	dropped, err := d.registry.UnregisterClient(id)
	if err != nil {
		d.logger.Debug("disconnect for unknown client", "client", id)
		return
	}

	delete(d.armed, id)
	d.logger.Info("client disconnected", "client", id, "dropped", dropped)
	d.handler.OnDisconnect(id)
}

// OnFragment handles one inbound fragment. In atomic mode fragments are
// joined and the application sees only complete messages; otherwise every
// fragment is forwarded as is.
func (d *Dispatcher) OnFragment(id ClientID, data []byte, final, binary bool) {
	if !d.registry.Exists(id) {
		d.logger.Debug("fragment for unknown client", "client", id)
		return
	}

	if !d.opts.atomicMessages {
		d.handler.OnMessage(id, Message{Data: data, Final: final, Binary: binary})
		return
	}

	msg, complete, err := d.reassembler.Feed(id, data, final)
	if err != nil {
		d.logger.Warn("dropping client", "client", id, "error", err)
		d.teardown(id)
		return
	}
	if complete {
		d.handler.OnMessage(id, Message{Data: msg, Final: true, Binary: binary})
	}
}

// OnWritable sends the next pending payload of id, if any. After a successful
// send it records the send time, releases the buffer and asks for another
// writable notification so the queue keeps draining. With an empty queue it
// does nothing and the connection stays idle until the next enqueue.
func (d *Dispatcher) OnWritable(id ClientID) {
	if d.opts.pacing == PacingDeferred {
		if delay := d.pacer.ShouldDelay(id); delay > 0 {
			if d.queues.Pending(id) > 0 && !d.timerArmed(id) {
				d.armed[id] = time.Now().Add(delay)
				d.after(delay, func() { d.transport.RequestWritable(id) })
			}
			return
		}
		delete(d.armed, id)
	}

	p, err := d.queues.Dequeue(id)
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			d.logger.Debug("writable for unknown client", "client", id)
		}
		return
	}

	if d.opts.pacing == PacingBlocking {
		if delay := d.pacer.ShouldDelay(id); delay > 0 {
			d.sleep(delay)
		}
	}

	data := p.Buffer.Bytes()
	n, err := d.transport.Send(id, data, p.Mode)
	if err != nil || n < len(data) {
		d.releasePayload(p)
		sendErr := &SendError{ID: id, Sent: n, Want: len(data), Err: err}
		d.logger.Warn("send failed, dropping client", "client", id, "error", sendErr)
		d.teardown(id)
		return
	}

	d.pacer.RecordSend(id)
	d.releasePayload(p)
	d.transport.RequestWritable(id)
}

// timerArmed reports whether a deferred-pacing timer for id is still pending.
func (d *Dispatcher) timerArmed(id ClientID) bool {
	deadline, ok := d.armed[id]
	return ok && time.Now().Before(deadline)
}

// teardown removes a failed client and reports the disconnect.
func (d *Dispatcher) teardown(id ClientID) {
	if _, err := d.registry.UnregisterClient(id); err != nil {
		return
	}
	delete(d.armed, id)
	if err := d.transport.Disconnect(id); err != nil {
		d.logger.Debug("disconnect failed", "client", id, "error", err)
	}
	d.handler.OnDisconnect(id)
}

// releasePayload drops the reference held by a dequeued payload.
func (d *Dispatcher) releasePayload(p *Payload) {
	d.pool.Release(p.Buffer)
}

// Enqueue copies data into a pooled buffer and queues it for id, or for every
// registered client when id is Broadcast.
func (d *Dispatcher) Enqueue(id ClientID, data []byte, mode WriteMode) error {
	buf := d.pool.Acquire(len(data))
	copy(buf.Bytes(), data)

	err := d.EnqueueBuffer(id, buf, mode)
	d.pool.Release(buf)
	return err
}

// EnqueueBuffer queues buf without copying it. The caller keeps its own
// reference and may enqueue the same buffer again, to other clients, until it
// calls Release; buf must not be modified once enqueued. The buffer is
// recycled only after that Release and every send holding it complete.
func (d *Dispatcher) EnqueueBuffer(id ClientID, buf *PooledBuffer, mode WriteMode) error {
	if buf.Refs() <= 0 {
		return ErrBufferReleased
	}
	p := &Payload{Buffer: buf, Mode: mode, Target: id}

	targets, err := d.queues.Enqueue(id, p)
	if err != nil {
		return errors.Wrapf(err, "enqueue to client %s", id)
	}

	for _, target := range targets {
		d.transport.RequestWritable(target)
	}
	return nil
}

// Broadcast queues data for every registered client.
func (d *Dispatcher) Broadcast(data []byte, mode WriteMode) error {
	return d.Enqueue(Broadcast, data, mode)
}

// Acquire returns a buffer of size usable bytes from the pool.
func (d *Dispatcher) Acquire(size int) *PooledBuffer {
	return d.pool.Acquire(size)
}

// Release drops the caller's reference to buf. Queued sends keep it alive
// until they complete.
func (d *Dispatcher) Release(buf *PooledBuffer) {
	d.pool.Release(buf)
}

// Clients returns a snapshot of the registered client ids.
func (d *Dispatcher) Clients() []ClientID {
	return d.registry.ListClients()
}

// Exists reports whether id is registered.
func (d *Dispatcher) Exists(id ClientID) bool {
	return d.registry.Exists(id)
}

// Pending returns the number of payloads queued for id.
func (d *Dispatcher) Pending(id ClientID) int {
	return d.queues.Pending(id)
}

// FrameTime returns the minimum interval between sends to one client.
func (d *Dispatcher) FrameTime() time.Duration {
	return d.pacer.Interval()
}

// Pool returns the dispatcher's buffer pool.
func (d *Dispatcher) Pool() *BufferPool {
	return d.pool
}
