package wspush

// Registry tracks the live clients and owns their per-client state: the
// outbound queue, the reassembly buffer and the pacing clock. Membership is
// the set of queues in the OutboundQueue, so the registry and the queue map
// always agree.
//
// RegisterClient and UnregisterClient touch reassembly and pacing state and
// must only be called from the event loop goroutine. Exists and ListClients
// are safe from any goroutine.
type Registry struct {
	queues      *OutboundQueue
	reassembler *Reassembler
	pacer       *Pacer
}

// NewRegistry creates a registry over the given per-client components.
func NewRegistry(queues *OutboundQueue, reassembler *Reassembler, pacer *Pacer) *Registry {
	return &Registry{
		queues:      queues,
		reassembler: reassembler,
		pacer:       pacer,
	}
}

// RegisterClient creates the state of id. It fails with ErrDuplicateClient if
// id is already registered.
func (r *Registry) RegisterClient(id ClientID) error {
	if id == Broadcast {
		return ErrUnknownClient
	}
	if err := r.queues.add(id); err != nil {
		return err
	}
	r.reassembler.Reset(id)
	r.pacer.Forget(id)
	return nil
}

// UnregisterClient discards the state of id, dropping its pending payloads
// without sending them. It fails with ErrUnknownClient if id is not
// registered.
func (r *Registry) UnregisterClient(id ClientID) (int, error) {
	n, err := r.queues.remove(id)
	if err != nil {
		return 0, err
	}
	r.reassembler.Reset(id)
	r.pacer.Forget(id)
	return n, nil
}

// ListClients returns a snapshot of the registered ids.
func (r *Registry) ListClients() []ClientID {
	return r.queues.Clients()
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id ClientID) bool {
	return r.queues.Has(id)
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return r.queues.Len()
}
