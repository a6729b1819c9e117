package wspush

import (
	"errors"
	"sync"
	"testing"
)

func newTestPayload(pool *BufferPool, data string, mode WriteMode) *Payload {
	buf := pool.Acquire(len(data))
	copy(buf.Bytes(), data)
	return &Payload{Buffer: buf, Mode: mode}
}

func TestOutboundQueue_FIFO(t *testing.T) {
	pool := NewBufferPool(false, 0)
	q := NewOutboundQueue(pool)
	if err := q.add(1); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	want := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, s := range want {
		if _, err := q.Enqueue(1, newTestPayload(pool, s, Binary)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	for _, s := range want {
		p, err := q.Dequeue(1)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if string(p.Buffer.Bytes()) != s {
			t.Errorf("Dequeue = %q, want %q", p.Buffer.Bytes(), s)
		}
	}

	if _, err := q.Dequeue(1); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestOutboundQueue_UnknownClient(t *testing.T) {
	pool := NewBufferPool(false, 0)
	q := NewOutboundQueue(pool)

	if _, err := q.Enqueue(9, newTestPayload(pool, "x", Text)); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("Enqueue: expected ErrUnknownClient, got %v", err)
	}
	if _, err := q.Dequeue(9); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("Dequeue: expected ErrUnknownClient, got %v", err)
	}
}

func TestOutboundQueue_DuplicateAdd(t *testing.T) {
	q := NewOutboundQueue(NewBufferPool(false, 0))

	if err := q.add(1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := q.add(1); !errors.Is(err, ErrDuplicateClient) {
		t.Errorf("expected ErrDuplicateClient, got %v", err)
	}
}

func TestOutboundQueue_Broadcast(t *testing.T) {
	pool := NewBufferPool(true, 0)
	q := NewOutboundQueue(pool)
	for _, id := range []ClientID{1, 2, 3} {
		q.add(id)
	}

	p := newTestPayload(pool, "hello", Binary)
	targets, err := q.Enqueue(Broadcast, p)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("targets = %v, want 3 clients", targets)
	}
	// the producer's reference plus one per queue entry
	if p.Buffer.Refs() != 4 {
		t.Errorf("Refs() = %d, want 4", p.Buffer.Refs())
	}

	// a client registering after the broadcast returns gets nothing
	q.add(4)
	if n := q.Pending(4); n != 0 {
		t.Errorf("Pending(4) = %d, want 0", n)
	}

	for _, id := range []ClientID{1, 2, 3} {
		if n := q.Pending(id); n != 1 {
			t.Errorf("Pending(%d) = %d, want 1", id, n)
		}
		got, err := q.Dequeue(id)
		if err != nil {
			t.Fatalf("Dequeue(%d) failed: %v", id, err)
		}
		if got != p {
			t.Errorf("Dequeue(%d) returned a different payload", id)
		}
	}
}

func TestOutboundQueue_BroadcastNoClients(t *testing.T) {
	pool := NewBufferPool(true, 0)
	q := NewOutboundQueue(pool)

	p := newTestPayload(pool, "nobody", Text)
	targets, err := q.Enqueue(Broadcast, p)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("targets = %v, want none", targets)
	}
	if p.Buffer.Refs() != 1 {
		t.Errorf("Refs() = %d, want 1", p.Buffer.Refs())
	}

	pool.Release(p.Buffer)
	if !inPool(pool, p.Buffer) {
		t.Error("unreferenced broadcast buffer should be recycled")
	}
}

func TestOutboundQueue_RemoveDropsPending(t *testing.T) {
	pool := NewBufferPool(true, 0)
	q := NewOutboundQueue(pool)
	q.add(1)
	q.add(2)

	p := newTestPayload(pool, "shared", Binary)
	q.Enqueue(Broadcast, p)
	pool.Release(p.Buffer)

	n, err := q.remove(1)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if n != 1 {
		t.Errorf("remove dropped %d, want 1", n)
	}
	if p.Buffer.Refs() != 1 {
		t.Errorf("Refs() = %d, want 1", p.Buffer.Refs())
	}
	if inPool(pool, p.Buffer) {
		t.Fatal("buffer still queued for client 2 must not be pooled")
	}

	if _, err := q.remove(2); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !inPool(pool, p.Buffer) {
		t.Error("buffer should be pooled once no queue holds it")
	}

	if _, err := q.remove(2); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("expected ErrUnknownClient, got %v", err)
	}
}

func TestOutboundQueue_ClientsSnapshot(t *testing.T) {
	q := NewOutboundQueue(NewBufferPool(false, 0))
	q.add(3)
	q.add(1)
	q.add(2)

	ids := q.Clients()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("Clients() = %v, want [1 2 3]", ids)
	}

	q.remove(2)
	if len(ids) != 3 {
		t.Error("snapshot changed after remove")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestOutboundQueue_ConcurrentProducers(t *testing.T) {
	pool := NewBufferPool(false, 0)
	q := NewOutboundQueue(pool)
	q.add(1)

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				buf := pool.Acquire(2)
				buf.Bytes()[0] = byte(producer)
				buf.Bytes()[1] = byte(j)
				q.Enqueue(1, &Payload{Buffer: buf})
			}
		}(i)
	}

	// consume concurrently; per-producer order must hold
	next := make([]int, producers)
	received := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drain := func() {
		for {
			p, err := q.Dequeue(1)
			if err != nil {
				return
			}
			producer, seq := int(p.Buffer.Bytes()[0]), int(p.Buffer.Bytes()[1])
			if seq != next[producer] {
				t.Errorf("producer %d: got seq %d, want %d", producer, seq, next[producer])
			}
			next[producer] = seq + 1
			received++
		}
	}

	for {
		select {
		case <-done:
			drain()
			if received != producers*perProducer {
				t.Errorf("received %d, want %d", received, producers*perProducer)
			}
			return
		default:
			drain()
		}
	}
}

func TestOutboundQueue_ProducerReferenceBlocksRecycling(t *testing.T) {
	pool := NewBufferPool(true, 0)
	q := NewOutboundQueue(pool)
	q.add(1)

	p := newTestPayload(pool, "kept", Binary)
	q.Enqueue(1, p)
	q.remove(1)

	if inPool(pool, p.Buffer) {
		t.Fatal("buffer still held by its producer must not be pooled")
	}
	pool.Release(p.Buffer)
	if !inPool(pool, p.Buffer) {
		t.Error("buffer should be pooled after the producer releases it")
	}
}
