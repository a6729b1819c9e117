package wspush

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRegistry() (*Registry, *BufferPool) {
	pool := NewBufferPool(true, 0)
	queues := NewOutboundQueue(pool)
	return NewRegistry(queues, NewReassembler(0), NewPacer(30*time.Millisecond)), pool
}

func TestRegistry_RegisterAndExists(t *testing.T) {
	r, _ := newTestRegistry()

	if err := r.RegisterClient(1); err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}
	if !r.Exists(1) {
		t.Error("Exists(1) = false after register")
	}
	if r.Exists(2) {
		t.Error("Exists(2) = true for unknown client")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_DuplicateClient(t *testing.T) {
	r, _ := newTestRegistry()

	r.RegisterClient(1)
	if err := r.RegisterClient(1); !errors.Is(err, ErrDuplicateClient) {
		t.Errorf("expected ErrDuplicateClient, got %v", err)
	}
}

func TestRegistry_BroadcastIDIsReserved(t *testing.T) {
	r, _ := newTestRegistry()

	if err := r.RegisterClient(Broadcast); err == nil {
		t.Error("registering the broadcast id should fail")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r, pool := newTestRegistry()
	r.RegisterClient(1)
	r.RegisterClient(2)

	p := newTestPayload(pool, "pending", Binary)
	if _, err := r.queues.Enqueue(1, p); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	pool.Release(p.Buffer)

	dropped, err := r.UnregisterClient(1)
	if err != nil {
		t.Fatalf("UnregisterClient failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	ids := r.ListClients()
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("ListClients() = %v, want [2]", ids)
	}
	if !inPool(pool, p.Buffer) {
		t.Error("discarded payload buffer should be recycled")
	}
	if _, err := r.queues.Enqueue(1, newTestPayload(pool, "late", Binary)); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("expected ErrUnknownClient after unregister, got %v", err)
	}
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r, _ := newTestRegistry()

	if _, err := r.UnregisterClient(5); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("expected ErrUnknownClient, got %v", err)
	}
}

func TestRegistry_UnregisterResetsPerClientState(t *testing.T) {
	r, _ := newTestRegistry()
	r.RegisterClient(1)

	r.reassembler.Feed(1, []byte("partial"), false)
	r.pacer.RecordSend(1)

	r.UnregisterClient(1)

	if r.reassembler.State(1) != Empty {
		t.Error("reassembly state survived unregister")
	}
	if _, ok := r.pacer.LastSend(1); ok {
		t.Error("pacing state survived unregister")
	}

	// the same id value connecting again starts from scratch
	r.RegisterClient(1)
	msg, complete, _ := r.reassembler.Feed(1, []byte("new"), true)
	if !complete || string(msg) != "new" {
		t.Errorf("Feed = (%q, %v), want (new, true)", msg, complete)
	}
}

func TestRegistry_ListClientsDuringChurn(t *testing.T) {
	r, _ := newTestRegistry()
	for id := ClientID(1); id <= 50; id++ {
		r.RegisterClient(id)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, id := range r.ListClients() {
				_ = r.Exists(id)
			}
		}
	}()

	// the registry is driven by a single consumer; churn it from here
	for id := ClientID(1); id <= 50; id += 2 {
		r.UnregisterClient(id)
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Errorf("Len() = %d, want 25", r.Len())
	}
}
