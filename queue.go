package wspush

import (
	"sort"
	"sync"

	"github.com/eapache/queue"
)

// OutboundQueue holds the ordered pending sends of every registered client.
// A single mutex guards the whole map: the consumer side runs at the pace of
// writable notifications, so contention stays low.
type OutboundQueue struct {
	mu     sync.Mutex
	queues map[ClientID]*queue.Queue
	pool   *BufferPool
}

// NewOutboundQueue creates an empty queue map that returns discarded buffers
// to pool.
func NewOutboundQueue(pool *BufferPool) *OutboundQueue {
	return &OutboundQueue{
		queues: make(map[ClientID]*queue.Queue),
		pool:   pool,
	}
}

// add creates an empty queue for id.
func (q *OutboundQueue) add(id ClientID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[id]; ok {
		return ErrDuplicateClient
	}
	q.queues[id] = queue.New()
	return nil
}

// remove deletes the queue of id, dropping every pending payload without
// sending it. It returns the number of discarded payloads.
func (q *OutboundQueue) remove(id ClientID) (int, error) {
	q.mu.Lock()
	pending, ok := q.queues[id]
	if !ok {
		q.mu.Unlock()
		return 0, ErrUnknownClient
	}
	delete(q.queues, id)
	q.mu.Unlock()

	n := pending.Length()
	for pending.Length() > 0 {
		q.pool.Release(pending.Remove().(*Payload).Buffer)
	}
	return n, nil
}

// Has reports whether id has a queue.
func (q *OutboundQueue) Has(id ClientID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queues[id]
	return ok
}

// Clients returns a sorted snapshot of the ids that own a queue.
func (q *OutboundQueue) Clients() []ClientID {
	q.mu.Lock()
	ids := make([]ClientID, 0, len(q.queues))
	for id := range q.queues {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of client queues.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}

// Enqueue appends p to the tail of the queue of id and returns the ids it was
// queued for. Each queue entry takes its own reference on the buffer. When id
// is Broadcast the same payload is appended to every registered queue in one
// critical section, so a client registering concurrently either gets it or
// does not.
func (q *OutboundQueue) Enqueue(id ClientID, p *Payload) ([]ClientID, error) {
	q.mu.Lock()

	if id != Broadcast {
		pending, ok := q.queues[id]
		if !ok {
			q.mu.Unlock()
			return nil, ErrUnknownClient
		}
		p.Buffer.retain(1)
		pending.Add(p)
		q.mu.Unlock()
		return []ClientID{id}, nil
	}

	targets := make([]ClientID, 0, len(q.queues))
	p.Buffer.retain(len(q.queues))
	for cid, pending := range q.queues {
		pending.Add(p)
		targets = append(targets, cid)
	}
	q.mu.Unlock()

	return targets, nil
}

// Dequeue removes and returns the head of the queue of id. It returns
// ErrEmpty when nothing is pending and ErrUnknownClient when id has no queue.
// The caller takes over the payload's reference on its buffer.
func (q *OutboundQueue) Dequeue(id ClientID) (*Payload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, ok := q.queues[id]
	if !ok {
		return nil, ErrUnknownClient
	}
	if pending.Length() == 0 {
		return nil, ErrEmpty
	}
	return pending.Remove().(*Payload), nil
}

// Pending returns the number of payloads waiting for id.
func (q *OutboundQueue) Pending(id ClientID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pending, ok := q.queues[id]; ok {
		return pending.Length()
	}
	return 0
}
