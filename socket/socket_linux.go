//go:build linux

package socket

import (
	"encoding/binary"
	"net/netip"
	"time"
	"unsafe"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

func unsafePointer(b *byte) unsafe.Pointer {
	return unsafe.Pointer(b)
}

// On Linux a single kernel receive can return a GRO-merged batch of up to
// BATCH_COUNT slots, each itself possibly holding several coalesced
// datagrams that RecvAll splits back apart.
const batchCount = 32

// oobSize holds a TOS/TCLASS cmsg, a UDP_GRO cmsg, a destination-address
// (IP_PKTINFO/IPV6_PKTINFO) cmsg and a SO_TIMESTAMPNS cmsg in the same
// ancillary buffer.
var oobSize = 2*unix.CmsgSpace(4) + unix.CmsgSpace(unix.SizeofInet6Pktinfo) + unix.CmsgSpace(16)

type rawSocket struct {
	pconn4 *ipv4.PacketConn
	pconn6 *ipv6.PacketConn
	isV6   bool
}

func (s *Socket) initPlatform() error {
	s.isV6Conn()
	if s.raw.isV6 {
		s.raw.pconn6 = ipv6.NewPacketConn(s.conn)
		_ = s.raw.pconn6.SetControlMessage(ipv6.FlagTrafficClass|ipv6.FlagDst, true)
	} else {
		s.raw.pconn4 = ipv4.NewPacketConn(s.conn)
		_ = s.raw.pconn4.SetControlMessage(ipv4.FlagTOS|ipv4.FlagDst, true)
	}

	rawConn, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var groErr error
	err = rawConn.Control(func(fd uintptr) {
		// Best-effort: GRO and RX timestamping are optimizations, not
		// correctness requirements, so failures here are not fatal.
		groErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_UDP, unix.UDP_GRO, 1)
		// Without RX timestamping decodeMeta stamps on receive instead.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1)
	})
	if err != nil {
		return err
	}
	if groErr != nil {
		// GRO unsupported: every receive slot holds a single datagram.
		s.groSegments = 1
	} else {
		s.groSegments = maxGROSegments
	}
	return nil
}

// maxGROSegments bounds how many datagrams the kernel may coalesce per
// receive slot; 64KB / smallest realistic datagram keeps this generous
// without inflating the receive arena unreasonably.
const maxGROSegments = 64

func (s *Socket) isV6Conn() {
	ap, err := netip.ParseAddrPort(s.conn.LocalAddr().String())
	if err != nil {
		return
	}
	s.raw.isV6 = ap.Addr().Is6() && !ap.Addr().Is4In6()
}

func (s *Socket) recvBatch() (int, error) {
	ms := make([]ipv4.Message, len(s.recvBufs))
	for i := range ms {
		s.recvBufs[i] = s.recvBufs[i][:cap(s.recvBufs[i])]
		ms[i].Buffers = [][]byte{s.recvBufs[i]}
		ms[i].OOB = s.recvMetas[i].oob[:cap(s.recvMetas[i].oob)]
	}

	var n int
	var err error
	if s.raw.isV6 {
		ms6 := make([]ipv6.Message, len(ms))
		for i := range ms {
			ms6[i].Buffers = ms[i].Buffers
			ms6[i].OOB = ms[i].OOB
		}
		n, err = s.raw.pconn6.ReadBatch(ms6, 0)
		for i := 0; i < n; i++ {
			ms[i] = ipv4.Message{N: ms6[i].N, NN: ms6[i].NN, OOB: ms6[i].OOB, Addr: ms6[i].Addr}
		}
	} else {
		n, err = s.raw.pconn4.ReadBatch(ms, 0)
	}
	if err != nil {
		if isWouldBlock(err) {
			return 0, errWouldBlock
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		meta := &s.recvMetas[i]
		meta.addr = ms[i].Addr
		meta.oob = ms[i].OOB[:ms[i].NN]
		s.recvBufs[i] = s.recvBufs[i][:ms[i].N]
	}
	return n, nil
}

func (s *Socket) decodeMeta(i int) RecvMeta {
	slot := s.recvMetas[i]
	meta := RecvMeta{
		Stride: len(s.recvBufs[i]),
		Len:    len(s.recvBufs[i]),
	}
	if ap, ok := addrPort(slot.addr); ok {
		meta.Addr = ap
	}

	stride, tos, dst, ts, hasTS := parseAncillary(slot.oob)
	if stride > 0 {
		meta.Stride = stride
	}
	if tos, ok := tos, tos != nil; ok {
		e := ECN(*tos & 0x3)
		if e != 0 {
			meta.ECN = &e
		}
	}
	if dst != nil {
		meta.DstIP = dst
	}
	if hasTS {
		meta.Timestamp = ts
	} else {
		meta.Timestamp = time.Now()
	}
	return meta
}

func addrPort(addr interface{ String() string }) (netip.AddrPort, bool) {
	if addr == nil {
		return netip.AddrPort{}, false
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, false
	}
	return ap, true
}

// parseAncillary walks the control-message buffer returned by ReadBatch
// looking for the GRO segment size, the TOS/TCLASS byte (carrying ECN),
// the destination address and a realtime receive timestamp.
func parseAncillary(oob []byte) (groSegmentSize int, tos *byte, dst *netip.Addr, ts time.Time, hasTS bool) {
	for len(oob) >= unix.SizeofCmsghdr {
		hdr, data, remainder := parseOneCmsg(oob)
		oob = remainder
		if hdr == nil {
			break
		}
		switch {
		case hdr.Level == unix.IPPROTO_UDP && hdr.Type == unix.UDP_GRO && len(data) >= 2:
			groSegmentSize = int(binary.NativeEndian.Uint16(data))
		case hdr.Level == unix.IPPROTO_IP && hdr.Type == unix.IP_TOS && len(data) >= 1:
			b := data[0]
			tos = &b
		case hdr.Level == unix.IPPROTO_IPV6 && hdr.Type == unix.IPV6_TCLASS && len(data) >= 4:
			b := byte(binary.NativeEndian.Uint32(data))
			tos = &b
		case hdr.Level == unix.IPPROTO_IP && hdr.Type == unix.IP_PKTINFO && len(data) >= unix.SizeofInet4Pktinfo:
			// in_pktinfo: ifindex, spec_dst, then the header destination address.
			a := netip.AddrFrom4([4]byte(data[8:12]))
			dst = &a
		case hdr.Level == unix.IPPROTO_IPV6 && hdr.Type == unix.IPV6_PKTINFO && len(data) >= unix.SizeofInet6Pktinfo:
			a := netip.AddrFrom16([16]byte(data[0:16]))
			dst = &a
		case hdr.Level == unix.SOL_SOCKET && hdr.Type == unix.SCM_TIMESTAMPNS && len(data) >= 16:
			sec := int64(binary.NativeEndian.Uint64(data[0:8]))
			nsec := int64(binary.NativeEndian.Uint64(data[8:16]))
			ts = time.Unix(sec, nsec)
			hasTS = true
		}
	}
	return
}

func parseOneCmsg(oob []byte) (*unix.Cmsghdr, []byte, []byte) {
	if len(oob) < unix.SizeofCmsghdr {
		return nil, nil, nil
	}
	hdr := (*unix.Cmsghdr)(unsafePointer(&oob[0]))
	msgLen := int(hdr.Len)
	if msgLen < unix.SizeofCmsghdr || msgLen > len(oob) {
		return nil, nil, nil
	}
	data := oob[unix.CmsgLen(0):msgLen]
	next := align(msgLen)
	if next > len(oob) {
		next = len(oob)
	}
	return hdr, data, oob[next:]
}

func align(n int) int {
	const a = unix.SizeofPtr
	return (n + a - 1) &^ (a - 1)
}

func (s *Socket) trySendPlatform(t Transmit) error {
	oob := buildSendOOB(t)
	m := ipv4.Message{
		Buffers: [][]byte{t.Contents},
		OOB:     oob,
	}
	if t.Destination.IsValid() {
		m.Addr = udpAddrFromAddrPort(t.Destination)
	}

	var err error
	if s.raw.isV6 {
		m6 := ipv6.Message{Buffers: m.Buffers, OOB: m.OOB, Addr: m.Addr}
		_, err = s.raw.pconn6.WriteBatch([]ipv6.Message{m6}, 0)
	} else {
		_, err = s.raw.pconn4.WriteBatch([]ipv4.Message{m}, 0)
	}
	if err != nil && isWouldBlock(err) {
		return errWouldBlock
	}
	return err
}

func buildSendOOB(t Transmit) []byte {
	var oob []byte
	if t.SegmentSize > 0 {
		b := make([]byte, unix.CmsgSpace(2))
		hdr := (*unix.Cmsghdr)(unsafePointer(&b[0]))
		hdr.Level = unix.IPPROTO_UDP
		hdr.Type = unix.UDP_SEGMENT
		hdr.SetLen(unix.CmsgLen(2))
		binary.NativeEndian.PutUint16(b[unix.CmsgLen(0):], uint16(t.SegmentSize))
		oob = append(oob, b...)
	}
	if t.ECN != nil {
		b := make([]byte, unix.CmsgSpace(4))
		hdr := (*unix.Cmsghdr)(unsafePointer(&b[0]))
		hdr.Level = unix.IPPROTO_IP
		hdr.Type = unix.IP_TOS
		hdr.SetLen(unix.CmsgLen(4))
		binary.NativeEndian.PutUint32(b[unix.CmsgLen(0):], uint32(*t.ECN))
		oob = append(oob, b...)
	}
	return oob
}

func isWouldBlock(err error) bool {
	return isErrno(err, unix.EAGAIN) || isErrno(err, unix.EWOULDBLOCK)
}

func isECONNRESET(err error) bool {
	return isErrno(err, unix.ECONNRESET)
}

func isErrno(err error, errno unix.Errno) bool {
	e, ok := err.(unix.Errno)
	if !ok {
		return false
	}
	return e == errno
}

func udpAddrFromAddrPort(ap netip.AddrPort) *netAddr {
	return &netAddr{ap: ap}
}

type netAddr struct{ ap netip.AddrPort }

func (a *netAddr) Network() string { return "udp" }
func (a *netAddr) String() string  { return a.ap.String() }
