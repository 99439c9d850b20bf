// Package socket implements the non-blocking UDP I/O layer: GSO-batched
// sends, GRO-batched receives with per-datagram metadata, and receive
// timestamping where the platform supports it. It is the only package in
// this module that reads from or writes to the socket.
package socket

import (
	"errors"
	"net"
	"net/netip"
	"time"
)

// ECN is the congestion-experienced codepoint as understood by the socket
// layer (the IP header's two ECN bits). Not-ECT has no representation
// here; absence is always a nil *ECN, never a distinguished value.
type ECN byte

const (
	ECT1 ECN = 0b01
	ECT0 ECN = 0b10
	CE   ECN = 0b11
)

// RecvMeta describes one received (post-GRO-split) datagram.
type RecvMeta struct {
	Addr      netip.AddrPort
	DstIP     *netip.Addr
	ECN       *ECN
	Len       int
	Stride    int
	Timestamp time.Time
}

// Transmit describes one outbound datagram, optionally carrying a GSO
// segment size so the kernel can coalesce several back-to-back datagrams
// into a single syscall.
type Transmit struct {
	Destination netip.AddrPort
	SrcIP       *netip.Addr
	ECN         *ECN
	SegmentSize int
	Contents    []byte
}

// Socket is a non-blocking UDP socket with batched send/receive support.
// It is not safe for concurrent use; the event loop owns it exclusively.
type Socket struct {
	conn *net.UDPConn
	raw  rawSocket

	maxUDPPayloadSize int
	groSegments       int

	recvBufs  [][]byte
	recvMetas []recvSlot
}

// recvSlot pairs one GRO receive buffer with OS-level scratch needed to
// decode its ancillary data (control messages) after a batch read.
type recvSlot struct {
	oob  []byte
	addr net.Addr
}

var errWouldBlock = errors.New("socket: would block")

// ErrWouldBlock is returned by TrySend when the non-blocking send could not
// complete immediately. It is expected, not fatal. RecvAll treats the same
// condition as the end of the available data and returns nil.
var ErrWouldBlock = errWouldBlock

// New binds addr and configures GSO/GRO and RX timestamping where the
// platform supports them.
func New(addr netip.AddrPort, maxUDPPayloadSize int) (*Socket, error) {
	conn, err := net.ListenUDP(udpNetwork(addr), net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:              conn,
		maxUDPPayloadSize: maxUDPPayloadSize,
	}
	if err := s.initPlatform(); err != nil {
		conn.Close()
		return nil, err
	}
	s.allocateBatchBuffers()
	return s, nil
}

func udpNetwork(addr netip.AddrPort) string {
	if addr.Addr().Is4() {
		return "udp4"
	}
	return "udp6"
}

// GROSegments is the number of datagrams the kernel may coalesce into a
// single receive slot. It is always 1 when GRO is unsupported.
func (s *Socket) GROSegments() int {
	if s.groSegments < 1 {
		return 1
	}
	return s.groSegments
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// File exposes the underlying connection's descriptor for registration
// with an OS readiness mechanism (see eventloop).
func (s *Socket) File() (*net.UDPConn, error) {
	return s.conn, nil
}

func (s *Socket) allocateBatchBuffers() {
	payload := s.maxUDPPayloadSize
	if payload > 65535 {
		payload = 65535
	}
	chunkSize := s.GROSegments() * payload
	s.recvBufs = make([][]byte, batchCount)
	s.recvMetas = make([]recvSlot, batchCount)
	for i := range s.recvBufs {
		s.recvBufs[i] = make([]byte, chunkSize)
		s.recvMetas[i].oob = make([]byte, oobSize)
	}
}

// RecvAll drains every datagram currently available without blocking,
// splitting any GRO-merged batch into its constituent segments and
// invoking f once per segment in arrival order. A ConnectionReset on the
// underlying socket (an earlier send provoked an ICMP port-unreachable) is
// swallowed; every other I/O error is returned to the caller.
func (s *Socket) RecvAll(f func(data []byte, meta RecvMeta)) error {
	for {
		n, err := s.recvBatch()
		if err != nil {
			if errors.Is(err, errWouldBlock) {
				return nil
			}
			if isConnReset(err) {
				continue
			}
			return err
		}
		if n == 0 {
			return nil
		}
		for i := 0; i < n; i++ {
			meta := s.decodeMeta(i)
			data := s.recvBufs[i][:meta.Len]
			for len(data) > 0 {
				stride := meta.Stride
				if stride <= 0 || stride > len(data) {
					stride = len(data)
				}
				f(data[:stride], meta)
				data = data[stride:]
			}
		}
	}
}

// TrySend writes one (already-split) Transmit. It returns ErrWouldBlock
// if the socket's send buffer is currently full.
func (s *Socket) TrySend(t Transmit) error {
	return s.trySendPlatform(t)
}

func isConnReset(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err != nil && isECONNRESET(opErr.Err)
	}
	return false
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return s.conn.Close()
}
