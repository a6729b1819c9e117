package wspush

// ReassemblyState is the per-client state of a Reassembler.
type ReassemblyState int

const (
	// Empty means no fragment of the current message has been seen.
	Empty ReassemblyState = iota
	// Accumulating means at least one non-final fragment is buffered.
	Accumulating
)

func (s ReassemblyState) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "empty"
}

// Reassembler joins transport fragments into logical messages, one buffer per
// client. It is driven only by the event loop goroutine and is not safe for
// concurrent use.
type Reassembler struct {
	buffers map[ClientID][]byte
	maxSize int // 0 means unbounded
}

// NewReassembler creates a Reassembler. A maxSize of 0 disables the message
// size limit.
func NewReassembler(maxSize int) *Reassembler {
	if maxSize < 0 {
		maxSize = 0
	}
	return &Reassembler{
		buffers: make(map[ClientID][]byte),
		maxSize: maxSize,
	}
}

// Feed adds a fragment for id. When final is set the accumulated message is
// returned with complete == true and the client goes back to Empty. The
// returned slice is owned by the caller.
//
// If the accumulated size would exceed the limit, the partial message is
// discarded and ErrMessageTooLarge is returned.
func (r *Reassembler) Feed(id ClientID, data []byte, final bool) ([]byte, bool, error) {
	buf := r.buffers[id]
	if r.maxSize > 0 && len(buf)+len(data) > r.maxSize {
		delete(r.buffers, id)
		return nil, false, ErrMessageTooLarge
	}

	buf = append(buf, data...)
	if !final {
		if buf == nil {
			// an empty leading fragment still starts a message
			buf = []byte{}
		}
		r.buffers[id] = buf
		return nil, false, nil
	}

	delete(r.buffers, id)
	if buf == nil {
		buf = []byte{}
	}
	return buf, true, nil
}

// State returns the reassembly state of id.
func (r *Reassembler) State(id ClientID) ReassemblyState {
	if _, ok := r.buffers[id]; ok {
		return Accumulating
	}
	return Empty
}

// Buffered returns the number of bytes accumulated for id.
func (r *Reassembler) Buffered(id ClientID) int {
	return len(r.buffers[id])
}

// Reset discards any partial message for id.
func (r *Reassembler) Reset(id ClientID) {
	delete(r.buffers, id)
}
