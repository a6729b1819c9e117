package wspush

import "time"

// Pacer enforces a minimum interval between successive sends to the same
// client. Like the Reassembler it belongs to the event loop goroutine and
// takes no locks.
type Pacer struct {
	interval time.Duration
	last     map[ClientID]time.Time
	now      func() time.Time
}

// NewPacer creates a Pacer with the given minimum send interval. An interval
// of zero disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval < 0 {
		interval = 0
	}
	return &Pacer{
		interval: interval,
		last:     make(map[ClientID]time.Time),
		now:      time.Now,
	}
}

// Interval returns the configured minimum send interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// ShouldDelay returns how long to wait before the next send to id. A result
// <= 0 means the send may go out immediately.
func (p *Pacer) ShouldDelay(id ClientID) time.Duration {
	last, ok := p.last[id]
	if !ok || p.interval == 0 {
		return 0
	}
	return p.interval - p.now().Sub(last)
}

// RecordSend stamps the completion time of a send to id.
func (p *Pacer) RecordSend(id ClientID) {
	p.last[id] = p.now()
}

// LastSend returns the completion time of the last send to id.
func (p *Pacer) LastSend(id ClientID) (time.Time, bool) {
	t, ok := p.last[id]
	return t, ok
}

// Forget drops the pacing state of id.
func (p *Pacer) Forget(id ClientID) {
	delete(p.last, id)
}
