package wspush

import (
	"math"
	"strconv"
)

// ClientID identifies one connection for as long as it is registered.
// Ids are assigned by the transport.
type ClientID uint64

// Broadcast is the reserved id meaning "every registered client".
const Broadcast = ClientID(math.MaxUint64)

func (id ClientID) String() string {
	if id == Broadcast {
		return "broadcast"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// WriteMode selects the frame type used when a payload is sent.
type WriteMode int

const (
	// Binary sends the payload as a binary message.
	Binary WriteMode = iota
	// Text sends the payload as a text message.
	Text
)

func (m WriteMode) String() string {
	if m == Text {
		return "text"
	}
	return "binary"
}

// State is the event kind reported to a HandlerFunc.
type State int

const (
	// StateConnect is reported when a client connects.
	StateConnect State = iota
	// StateDisconnect is reported when a client goes away.
	StateDisconnect
	// StateReceive is reported for every inbound message or fragment.
	StateReceive
)

func (s State) String() string {
	switch s {
	case StateConnect:
		return "connect"
	case StateDisconnect:
		return "disconnect"
	case StateReceive:
		return "receive"
	default:
		return "unknown"
	}
}

// Payload is one outbound item. A broadcast payload is shared by every
// per-client queue it was fanned out to, and must not be modified once
// enqueued.
type Payload struct {
	Buffer *PooledBuffer
	Mode   WriteMode
	Target ClientID
}

// Message is inbound data handed to the application. In atomic mode Data is a
// complete logical message and Final is always true; otherwise it is a single
// transport fragment.
type Message struct {
	Data   []byte
	Final  bool
	Binary bool
}

// Handler receives connection lifecycle and inbound data events. All methods
// are invoked from the event loop goroutine, one at a time.
type Handler interface {
	OnConnect(id ClientID)
	OnDisconnect(id ClientID)
	OnMessage(id ClientID, msg Message)
}

// HandlerFunc adapts a single callback to the Handler interface.
type HandlerFunc func(state State, id ClientID, data []byte, final, binary bool)

// OnConnect calls f with StateConnect.
func (f HandlerFunc) OnConnect(id ClientID) {
	f(StateConnect, id, nil, false, false)
}

// OnDisconnect calls f with StateDisconnect.
func (f HandlerFunc) OnDisconnect(id ClientID) {
	f(StateDisconnect, id, nil, false, false)
}

// OnMessage calls f with StateReceive.
func (f HandlerFunc) OnMessage(id ClientID, msg Message) {
	f(StateReceive, id, msg.Data, msg.Final, msg.Binary)
}
