package wspush

import (
	"context"
	"sync"
	"sync/atomic"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventFragment
	eventDisconnect
)

// event is one transport notification waiting for the event loop.
type event struct {
	kind   eventKind
	id     ClientID
	data   []byte
	final  bool
	binary bool
}

// eventLoop is the single consumer. Connection readers post events on a
// channel; writable requests are coalesced in a set and signalled through a
// one-slot kick channel so that producers never block.
type eventLoop struct {
	dispatcher *Dispatcher
	closed     func(id ClientID)

	events chan event
	kick   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	writable map[ClientID]struct{}

	started  atomic.Bool
	shutdown atomic.Bool
}

func newEventLoop(backlog int) *eventLoop {
	return &eventLoop{
		events:   make(chan event, backlog),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		writable: make(map[ClientID]struct{}),
	}
}

// post queues ev for the loop. It blocks while the backlog is full and fails
// once the loop has exited or ctx is done.
func (l *eventLoop) post(ctx context.Context, ev event) error {
	select {
	case l.events <- ev:
		return nil
	case <-l.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestWritable marks id for a writable pass. Safe from any goroutine.
func (l *eventLoop) requestWritable(id ClientID) {
	l.mu.Lock()
	l.writable[id] = struct{}{}
	l.mu.Unlock()
	l.wake()
}

func (l *eventLoop) wake() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// run processes events until ctx is done or stop is called. The shutdown flag
// is checked once per iteration, so the current event always completes.
func (l *eventLoop) run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer close(l.done)

	for !l.shutdown.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.events:
			l.handle(ev)
		case <-l.kick:
			l.drainWritable()
		}
	}
	return nil
}

// stop raises the shutdown flag and wakes the loop.
func (l *eventLoop) stop() {
	l.shutdown.Store(true)
	l.wake()
}

// wait blocks until a started loop has exited.
func (l *eventLoop) wait() {
	if l.started.Load() {
		<-l.done
	}
}

func (l *eventLoop) handle(ev event) {
	switch ev.kind {
	case eventConnect:
		l.dispatcher.OnConnect(ev.id)
	case eventFragment:
		l.dispatcher.OnFragment(ev.id, ev.data, ev.final, ev.binary)
	case eventDisconnect:
		l.dispatcher.OnDisconnect(ev.id)
		if l.closed != nil {
			l.closed(ev.id)
		}
	}
}

// drainWritable runs one writable pass for every requested client. Each pass
// sends at most one payload and re-requests itself, so busy clients are
// served round-robin.
func (l *eventLoop) drainWritable() {
	l.mu.Lock()
	if len(l.writable) == 0 {
		l.mu.Unlock()
		return
	}
	ready := l.writable
	l.writable = make(map[ClientID]struct{}, len(ready))
	l.mu.Unlock()

	for id := range ready {
		if l.shutdown.Load() {
			return
		}
		l.dispatcher.OnWritable(id)
	}
}
