// Package quicproto declares the contract that the server integration layer
// drives. It is the Go analogue of the quinn-proto crate used by the
// original server: a sans-I/O QUIC endpoint and per-connection state
// machine exposed as polled events, transmits and timers rather than a
// connection that owns its own goroutine or socket.
//
// Nothing in this package performs I/O. A concrete implementation backed by
// a real QUIC/TLS stack is an external collaborator (see quictest for a
// deterministic fake used by this repository's tests).
package quicproto

import (
	"net/netip"
	"time"
)

// ConnectionHandle is the dense identifier the Endpoint assigns a
// connection at accept time. It is stable for the connection's lifetime
// and doubles as a map key and log tag.
type ConnectionHandle uint64

// Dir is a QUIC stream direction.
type Dir int

const (
	DirUni Dir = iota
	DirBidi
)

// StreamID identifies a stream within a connection.
type StreamID uint64

// ECN is the congestion-experienced codepoint as understood at the
// protocol layer. The zero value has no meaning on its own; absence of ECN
// marking is represented by a nil *ECN, never by a distinguished value.
type ECN int

const (
	ECT0 ECN = iota
	ECT1
	CE
)

// Transmit describes one outbound UDP datagram produced by the endpoint or
// a connection. Its payload bytes live in the caller-supplied scratch
// buffer at the time Transmit is produced, not in this struct.
type Transmit struct {
	Destination netip.AddrPort
	SrcIP       *netip.Addr
	ECN         *ECN
	// SegmentSize, when non-zero, means this Transmit packs multiple
	// back-to-back datagrams of SegmentSize bytes each (the last one
	// possibly shorter) destined for GSO. Entries read from Outbound
	// never carry a non-zero SegmentSize.
	SegmentSize int
	// Size is the number of valid bytes at the front of the scratch
	// buffer that this Transmit refers to.
	Size int
}

// Incoming is an opaque accept-candidate produced by Endpoint.Handle and
// consumed by Endpoint.Accept.
type Incoming interface{}

// ConnectionEvent is an opaque event routed from the endpoint to a single
// connection's HandleEvent.
type ConnectionEvent interface{}

// EndpointEvent is an opaque event routed from a connection back to the
// endpoint's HandleEvent. IsDrained reports whether this event is the
// connection's final one; once true the connection must be forgotten.
type EndpointEvent interface {
	IsDrained() bool
}

// DatagramEventKind discriminates the variants of DatagramEvent.
type DatagramEventKind int

const (
	// DatagramEventNone means the endpoint consumed the input datagram
	// without producing any work.
	DatagramEventNone DatagramEventKind = iota
	// DatagramEventNewConnection carries an Incoming to be accepted or
	// rejected by the caller.
	DatagramEventNewConnection
	// DatagramEventConnectionEvent must be delivered to the named
	// connection's HandleEvent.
	DatagramEventConnectionEvent
	// DatagramEventResponse carries a stateless Transmit (e.g. a
	// version-negotiation or retry packet) with no associated connection.
	DatagramEventResponse
)

// DatagramEvent is returned by Endpoint.Handle for each inbound datagram.
type DatagramEvent struct {
	Kind     DatagramEventKind
	Incoming Incoming
	Handle   ConnectionHandle
	Event    ConnectionEvent
	Transmit Transmit
}

// AcceptError is returned by Endpoint.Accept when a connection attempt is
// refused. Response, if non-nil, is a stateless reply that must still be
// enqueued for transmission.
type AcceptError struct {
	Cause    error
	Response *Transmit
}

func (e *AcceptError) Error() string { return e.Cause.Error() }
func (e *AcceptError) Unwrap() error { return e.Cause }

// Endpoint is the process-wide QUIC endpoint: it owns connection
// identifiers and the handshake's stateless processing, but not
// connection state.
type Endpoint interface {
	// Handle feeds one received UDP datagram into the endpoint. data is
	// consumed synchronously; scratch is cleared and reserved by the
	// caller before this call and may be written into for a stateless
	// response.
	Handle(now time.Time, from netip.AddrPort, dstIP *netip.Addr, ecn *ECN, data []byte, scratch *[]byte) DatagramEvent
	// Accept finalizes a connection attempt produced by Handle. On
	// success the returned Connection is owned exclusively by the
	// caller from that point on.
	Accept(incoming Incoming, now time.Time, scratch *[]byte) (ConnectionHandle, Connection, error)
	// HandleEvent delivers an EndpointEvent surfaced by a connection. It
	// may return a ConnectionEvent to feed back into the same
	// connection, unless the EndpointEvent was a drain event.
	HandleEvent(handle ConnectionHandle, event EndpointEvent) (ConnectionEvent, bool)
	// MaxUDPPayloadSize is the largest UDP payload this endpoint will
	// ever ask a caller to send or receive.
	MaxUDPPayloadSize() int
}

// StreamReader is the receive half of a QUIC stream. Read returns
// ErrWouldBlock when the peer has not yet delivered more bytes; this is
// not a terminal condition.
type StreamReader interface {
	Read(p []byte) (n int, err error)
	// Stop aborts receiving on the stream with the given error code. It
	// is a no-op if the stream is already closed.
	Stop(code uint64)
}

// StreamWriter is the send half of a QUIC stream.
type StreamWriter interface {
	Write(p []byte) (n int, err error)
	// Finish closes the write side. It is a no-op if already finished.
	Finish() error
	// Reset aborts the write side with the given error code.
	Reset(code uint64)
}

// Streams exposes stream lifecycle operations scoped to one connection.
type Streams interface {
	// Open returns a locally-initiated stream id of the given
	// direction, or ok=false if the peer's flow-control limits do not
	// currently allow opening one.
	Open(dir Dir) (id StreamID, ok bool)
	// Accept returns the next peer-initiated stream id of the given
	// direction not yet surfaced to the caller, or ok=false if none is
	// pending.
	Accept(dir Dir) (id StreamID, ok bool)
}

// Datagrams exposes the connection's unreliable datagram channel.
type Datagrams interface {
	// Recv returns the next queued datagram, or ok=false if none is
	// queued.
	Recv() (b []byte, ok bool)
	// Send enqueues a datagram. If dropOnFull is true and the send
	// queue is full, the datagram is silently dropped instead of
	// returning an error.
	Send(b []byte, dropOnFull bool) error
	// MaxSize is the largest datagram payload the peer currently
	// accepts, or ok=false if datagrams are not supported.
	MaxSize() (size int, ok bool)
}

// ConnectionStats carries the subset of per-connection statistics the
// demo application logs.
type ConnectionStats struct {
	TxBytes uint64
}

// Connection is the per-peer QUIC state machine. It is owned exclusively
// by whichever map holds it; there are no back-references into it besides
// lookups by ConnectionHandle.
type Connection interface {
	Streams() Streams
	SendStream(id StreamID) StreamWriter
	RecvStream(id StreamID) StreamReader
	Datagrams() Datagrams

	// PollTransmit returns the next outbound Transmit, writing its
	// payload into scratch, or ok=false if there is nothing to send
	// right now. max bounds how many datagrams a single Transmit may
	// coalesce via GSO.
	PollTransmit(now time.Time, max int, scratch *[]byte) (t Transmit, ok bool)
	// PollTimeout reports the next instant at which HandleTimeout must
	// be called, if any.
	PollTimeout() (deadline time.Time, ok bool)
	// HandleTimeout fires due timers. Cheap to call when nothing is due.
	HandleTimeout(now time.Time)
	// HandleEvent applies a ConnectionEvent routed from the endpoint.
	HandleEvent(event ConnectionEvent)
	// PollEndpointEvents drains events destined for the endpoint (e.g.
	// retiring a connection id, or signalling drain).
	PollEndpointEvents() (event EndpointEvent, ok bool)

	RTT() time.Duration
	Stats() ConnectionStats
	IsDrained() bool
}
