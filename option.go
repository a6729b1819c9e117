package wspush

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// PacingMode selects how the minimum send interval is enforced.
type PacingMode int

const (
	// PacingBlocking sleeps on the event loop before a paced send. Simple,
	// but a long interval stalls every client served by the same loop.
	PacingBlocking PacingMode = iota
	// PacingDeferred leaves the payload queued and re-requests a writable
	// notification once the interval has elapsed.
	PacingDeferred
)

func (m PacingMode) String() string {
	if m == PacingDeferred {
		return "deferred"
	}
	return "blocking"
}

// Default configuration values.
const (
	// defaultMinSendInterval is the default pacing floor between sends to one client.
	defaultMinSendInterval = 30 * time.Millisecond
	// defaultReceiveBufferSize is the default read chunk, and so fragment, size.
	defaultReceiveBufferSize = 0x10000
	// defaultMaxMessageSize is the default maximum size of a reassembled message (1MB).
	defaultMaxMessageSize = 1024 * 1024
	// defaultHeartbeat is the default ping interval; reads time out after twice this.
	defaultHeartbeat = 30 * time.Second
	// defaultEventBacklog is the size of the event loop's inbound channel.
	defaultEventBacklog = 1024
)

// options holds the configuration shared by the dispatcher and the server.
type options struct {
	handler Handler
	logger  Logger

	minSendInterval time.Duration
	intervalSet     bool
	pacing          PacingMode
	recycleBuffers  bool
	maxPooled       int

	atomicMessages    bool
	atomicSet         bool
	receiveBufferSize int
	maxMessageSize    int // 0 means unbounded

	protocol     string
	heartbeat    time.Duration // ping interval; read deadline is heartbeat * 2
	writeTimeout time.Duration
	compression  bool
	checkOrigin  func(r *http.Request) bool
	acceptRate   rate.Limit
	acceptBurst  int
	eventBacklog int
}

// Option is a function that configures a Dispatcher or Server.
type Option func(*options)

// checkOptions validates and sets default values for options.
func checkOptions(opts *options) error {
	if opts.handler == nil {
		return ErrInvalidHandler
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if !opts.intervalSet {
		opts.minSendInterval = defaultMinSendInterval
	} else if opts.minSendInterval < 0 {
		opts.minSendInterval = 0
	}

	if !opts.atomicSet {
		opts.atomicMessages = true
	}

	if opts.receiveBufferSize <= 0 {
		opts.receiveBufferSize = defaultReceiveBufferSize
	}

	if opts.maxMessageSize < 0 {
		opts.maxMessageSize = 0
	} else if opts.maxMessageSize == 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.maxPooled <= 0 {
		opts.maxPooled = defaultMaxPooled
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = defaultHeartbeat
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = opts.heartbeat * 2
	}

	if opts.eventBacklog <= 0 {
		opts.eventBacklog = defaultEventBacklog
	}

	if opts.acceptRate > 0 && opts.acceptBurst <= 0 {
		opts.acceptBurst = 1
	}

	return nil
}

// HandlerOption returns an Option that sets the application handler.
// The handler is required.
func HandlerOption(h Handler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// ReceiveCallbackOption returns an Option that sets a single callback as the
// application handler.
func ReceiveCallbackOption(fn func(state State, id ClientID, data []byte, final, binary bool)) Option {
	return func(o *options) {
		if fn != nil {
			o.handler = HandlerFunc(fn)
		}
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MinSendIntervalOption returns an Option that sets the minimum time between
// two sends to the same client. Zero disables pacing; the default is 30ms.
func MinSendIntervalOption(d time.Duration) Option {
	return func(o *options) {
		o.minSendInterval = d
		o.intervalSet = true
	}
}

// PacingOption returns an Option that selects how pacing is enforced.
func PacingOption(mode PacingMode) Option {
	return func(o *options) {
		o.pacing = mode
	}
}

// RecycleBuffersOption returns an Option that enables reuse of sent buffers.
func RecycleBuffersOption(enabled bool) Option {
	return func(o *options) {
		o.recycleBuffers = enabled
	}
}

// MaxPooledBuffersOption returns an Option that bounds the buffer free list.
func MaxPooledBuffersOption(n int) Option {
	return func(o *options) {
		o.maxPooled = n
	}
}

// AtomicMessagesOption returns an Option that selects whether fragments are
// reassembled into complete messages (the default) or delivered one by one.
func AtomicMessagesOption(enabled bool) Option {
	return func(o *options) {
		o.atomicMessages = enabled
		o.atomicSet = true
	}
}

// ReceiveBufferSizeOption returns an Option that sets the read chunk size.
// Inbound messages larger than this arrive as several fragments.
func ReceiveBufferSizeOption(size int) Option {
	return func(o *options) {
		o.receiveBufferSize = size
	}
}

// MessageMaxSize returns an Option that sets the maximum size of a
// reassembled message. A negative size removes the limit.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// ProtocolOption returns an Option that sets the WebSocket subprotocol name
// offered during the upgrade.
func ProtocolOption(name string) Option {
	return func(o *options) {
		o.protocol = name
	}
}

// HeartbeatOption returns an Option that sets the ping interval.
// Reads time out after heartbeat * 2 without traffic.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// WriteTimeoutOption returns an Option that sets the deadline of one send.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// CompressionOption returns an Option that negotiates permessage-deflate.
func CompressionOption(enabled bool) Option {
	return func(o *options) {
		o.compression = enabled
	}
}

// CheckOriginOption returns an Option that sets the upgrade origin check.
func CheckOriginOption(fn func(r *http.Request) bool) Option {
	return func(o *options) {
		o.checkOrigin = fn
	}
}

// AcceptRateOption returns an Option that limits new connections to r per
// second with the given burst. Upgrades over the limit get 503.
func AcceptRateOption(r float64, burst int) Option {
	return func(o *options) {
		o.acceptRate = rate.Limit(r)
		o.acceptBurst = burst
	}
}

// EventBacklogOption returns an Option that sets how many transport events may
// wait for the event loop before readers block.
func EventBacklogOption(n int) Option {
	return func(o *options) {
		o.eventBacklog = n
	}
}
