// Package quictest provides a deterministic fake quicproto.Connection so
// the WebTransport handshake and session pump can be driven and asserted
// on in tests without a real QUIC transport. It is intentionally a bare
// bones simulation: streams are just byte buffers the test can feed and
// inspect directly.
package quictest

import (
	"bytes"
	"io"
	"time"

	"github.com/recatek/squinn-go/quicproto"
)

// Connection is a fake quicproto.Connection driven entirely by direct
// field/method manipulation from a test.
type Connection struct {
	nextID uint64

	pendingAcceptUni  []quicproto.StreamID
	pendingAcceptBidi []quicproto.StreamID

	recvBufs     map[quicproto.StreamID]*bytes.Buffer
	recvFinished map[quicproto.StreamID]bool
	sendBufs     map[quicproto.StreamID]*bytes.Buffer
	sendFinished map[quicproto.StreamID]bool

	datagramsIn  [][]byte
	datagramsOut [][]byte
	maxDatagram  int

	transmitQueue []pendingTransmit

	timeoutAt    time.Time
	hasTimeout   bool
	endpointEvts []quicproto.EndpointEvent

	rtt     time.Duration
	stats   quicproto.ConnectionStats
	drained bool
}

type pendingTransmit struct {
	t       quicproto.Transmit
	payload []byte
}

// New returns an empty fake connection with a default max datagram size.
func New() *Connection {
	return &Connection{
		recvBufs:     make(map[quicproto.StreamID]*bytes.Buffer),
		recvFinished: make(map[quicproto.StreamID]bool),
		sendBufs:     make(map[quicproto.StreamID]*bytes.Buffer),
		sendFinished: make(map[quicproto.StreamID]bool),
		maxDatagram:  1200,
	}
}

// -- test-side helpers --------------------------------------------------

// PeerOpensUni simulates the peer opening a unidirectional stream the
// connection will later Accept, pre-populated with data.
func (c *Connection) PeerOpensUni(data []byte) quicproto.StreamID {
	id := c.allocID()
	c.pendingAcceptUni = append(c.pendingAcceptUni, id)
	c.recvBufs[id] = bytes.NewBuffer(data)
	return id
}

// PeerOpensBidi simulates the peer opening a bidirectional stream (the
// CONNECT stream), pre-populated with data.
func (c *Connection) PeerOpensBidi(data []byte) quicproto.StreamID {
	id := c.allocID()
	c.pendingAcceptBidi = append(c.pendingAcceptBidi, id)
	c.recvBufs[id] = bytes.NewBuffer(data)
	c.sendBufs[id] = &bytes.Buffer{}
	return id
}

// FeedRecv appends more bytes as if the peer had sent them on an
// already-open stream.
func (c *Connection) FeedRecv(id quicproto.StreamID, data []byte) {
	buf, ok := c.recvBufs[id]
	if !ok {
		buf = &bytes.Buffer{}
		c.recvBufs[id] = buf
	}
	buf.Write(data)
}

// FinishRecv marks a receive stream as closed by the peer with no more
// data coming.
func (c *Connection) FinishRecv(id quicproto.StreamID) {
	c.recvFinished[id] = true
}

// Sent returns everything written to the send half of id so far.
func (c *Connection) Sent(id quicproto.StreamID) []byte {
	buf, ok := c.sendBufs[id]
	if !ok {
		return nil
	}
	return buf.Bytes()
}

// SendFinished reports whether Finish was called on id's send half.
func (c *Connection) SendFinished(id quicproto.StreamID) bool {
	return c.sendFinished[id]
}

// QueueDatagram enqueues a datagram as if it had arrived from the peer.
func (c *Connection) QueueDatagram(b []byte) {
	c.datagramsIn = append(c.datagramsIn, append([]byte(nil), b...))
}

// SentDatagrams returns every datagram sent via Datagrams().Send so far.
func (c *Connection) SentDatagrams() [][]byte {
	return c.datagramsOut
}

// SetDrained marks the connection drained, as the endpoint would report
// after exchanging a final CLOSE.
func (c *Connection) SetDrained(v bool) {
	c.drained = v
}

// SetRTT sets the value RTT() reports.
func (c *Connection) SetRTT(d time.Duration) {
	c.rtt = d
}

func (c *Connection) allocID() quicproto.StreamID {
	c.nextID++
	return quicproto.StreamID(c.nextID)
}

// -- quicproto.Connection -----------------------------------------------

func (c *Connection) Streams() quicproto.Streams {
	return (*fakeStreams)(c)
}

func (c *Connection) SendStream(id quicproto.StreamID) quicproto.StreamWriter {
	buf, ok := c.sendBufs[id]
	if !ok {
		buf = &bytes.Buffer{}
		c.sendBufs[id] = buf
	}
	return &fakeWriter{conn: c, id: id, buf: buf}
}

func (c *Connection) RecvStream(id quicproto.StreamID) quicproto.StreamReader {
	buf, ok := c.recvBufs[id]
	if !ok {
		buf = &bytes.Buffer{}
		c.recvBufs[id] = buf
	}
	return &fakeReader{conn: c, id: id, buf: buf}
}

func (c *Connection) Datagrams() quicproto.Datagrams {
	return (*fakeDatagrams)(c)
}

func (c *Connection) PollTransmit(now time.Time, max int, scratch *[]byte) (quicproto.Transmit, bool) {
	if len(c.transmitQueue) == 0 {
		return quicproto.Transmit{}, false
	}
	next := c.transmitQueue[0]
	c.transmitQueue = c.transmitQueue[1:]

	*scratch = append((*scratch)[:0], next.payload...)
	next.t.Size = len(next.payload)
	return next.t, true
}

// QueueTransmit arranges for a future PollTransmit call to yield t with
// the given payload copied into the caller's scratch buffer.
func (c *Connection) QueueTransmit(t quicproto.Transmit, payload []byte) {
	c.transmitQueue = append(c.transmitQueue, pendingTransmit{t: t, payload: payload})
}

func (c *Connection) PollTimeout() (time.Time, bool) {
	return c.timeoutAt, c.hasTimeout
}

// SetTimeout arms the fake timeout deadline PollTimeout reports.
func (c *Connection) SetTimeout(t time.Time) {
	c.timeoutAt = t
	c.hasTimeout = true
}

func (c *Connection) HandleTimeout(now time.Time) {
	if c.hasTimeout && !now.Before(c.timeoutAt) {
		c.hasTimeout = false
	}
}

func (c *Connection) HandleEvent(event quicproto.ConnectionEvent) {}

func (c *Connection) PollEndpointEvents() (quicproto.EndpointEvent, bool) {
	if len(c.endpointEvts) == 0 {
		return nil, false
	}
	ev := c.endpointEvts[0]
	c.endpointEvts = c.endpointEvts[1:]
	return ev, true
}

// QueueEndpointEvent arranges for a future PollEndpointEvents call to
// yield ev.
func (c *Connection) QueueEndpointEvent(ev quicproto.EndpointEvent) {
	c.endpointEvts = append(c.endpointEvts, ev)
}

func (c *Connection) RTT() time.Duration {
	return c.rtt
}

func (c *Connection) Stats() quicproto.ConnectionStats {
	return c.stats
}

func (c *Connection) IsDrained() bool {
	return c.drained
}

// -- sub-objects ----------------------------------------------------------

type fakeStreams Connection

func (s *fakeStreams) Open(dir quicproto.Dir) (quicproto.StreamID, bool) {
	c := (*Connection)(s)
	id := c.allocID()
	c.sendBufs[id] = &bytes.Buffer{}
	if dir == quicproto.DirBidi {
		c.recvBufs[id] = &bytes.Buffer{}
	}
	return id, true
}

func (s *fakeStreams) Accept(dir quicproto.Dir) (quicproto.StreamID, bool) {
	c := (*Connection)(s)
	switch dir {
	case quicproto.DirUni:
		if len(c.pendingAcceptUni) == 0 {
			return 0, false
		}
		id := c.pendingAcceptUni[0]
		c.pendingAcceptUni = c.pendingAcceptUni[1:]
		return id, true
	case quicproto.DirBidi:
		if len(c.pendingAcceptBidi) == 0 {
			return 0, false
		}
		id := c.pendingAcceptBidi[0]
		c.pendingAcceptBidi = c.pendingAcceptBidi[1:]
		return id, true
	}
	return 0, false
}

type fakeWriter struct {
	conn *Connection
	id   quicproto.StreamID
	buf  *bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.conn.sendFinished[w.id] {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Finish() error {
	w.conn.sendFinished[w.id] = true
	return nil
}

func (w *fakeWriter) Reset(code uint64) {
	w.conn.sendFinished[w.id] = true
}

type fakeReader struct {
	conn *Connection
	id   quicproto.StreamID
	buf  *bytes.Buffer
}

func (r *fakeReader) Read(p []byte) (int, error) {
	if r.buf.Len() == 0 {
		if r.conn.recvFinished[r.id] {
			return 0, io.EOF
		}
		return 0, quicproto.ErrWouldBlock
	}
	return r.buf.Read(p)
}

func (r *fakeReader) Stop(code uint64) {
	r.conn.recvFinished[r.id] = true
}

type fakeDatagrams Connection

func (d *fakeDatagrams) Recv() ([]byte, bool) {
	c := (*Connection)(d)
	if len(c.datagramsIn) == 0 {
		return nil, false
	}
	b := c.datagramsIn[0]
	c.datagramsIn = c.datagramsIn[1:]
	return b, true
}

func (d *fakeDatagrams) Send(b []byte, dropOnFull bool) error {
	c := (*Connection)(d)
	c.datagramsOut = append(c.datagramsOut, append([]byte(nil), b...))
	return nil
}

func (d *fakeDatagrams) MaxSize() (int, bool) {
	c := (*Connection)(d)
	return c.maxDatagram, true
}
