package wspush

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by registry, queue and dispatcher operations.
var (
	// ErrUnknownClient is returned when an operation names a client id that is
	// not currently registered. The operation is a no-op.
	ErrUnknownClient = errors.New("unknown client")
	// ErrDuplicateClient is returned when a client id is registered twice.
	ErrDuplicateClient = errors.New("duplicate client")
	// ErrEmpty is returned by Dequeue when a client has nothing pending.
	ErrEmpty = errors.New("queue empty")
	// ErrMessageTooLarge is returned when a reassembled message exceeds the
	// configured maximum size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrSendFailure is matched by every SendError.
	ErrSendFailure = errors.New("send failure")
	// ErrInvalidHandler is returned when no application handler is provided.
	ErrInvalidHandler = errors.New("invalid handler")
	// ErrBufferReleased is returned when a buffer is enqueued after its
	// producer released it.
	ErrBufferReleased = errors.New("buffer already released")
)

// Server lifecycle errors.
var (
	// ErrServerClosed is returned by Run and Serve after Close.
	ErrServerClosed = errors.New("server closed")
	// ErrServerRunning is returned by Run on a server that is already running,
	// and by setters that only work before it starts.
	ErrServerRunning = errors.New("server already running")
)

// SendError describes a failed or short write to a client. It is fatal for
// that client only.
type SendError struct {
	ID   ClientID
	Sent int
	Want int
	Err  error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send to client %d failed: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("short write to client %d: %d of %d bytes", e.ID, e.Sent, e.Want)
}

// Unwrap returns the transport error, if any.
func (e *SendError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrSendFailure.
func (e *SendError) Is(target error) bool {
	return target == ErrSendFailure
}
