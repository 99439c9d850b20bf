//go:build !linux

package socket

import (
	"net/netip"
	"time"
)

// batchCount is 1 off Linux: no GRO means every receive is a single
// datagram, so there is nothing to batch.
const batchCount = 1

// oobSize is unused outside Linux but kept so allocateBatchBuffers can
// stay platform-independent.
const oobSize = 0

type rawSocket struct{}

func (s *Socket) initPlatform() error {
	s.groSegments = 1
	return nil
}

func (s *Socket) recvBatch() (int, error) {
	s.recvBufs[0] = s.recvBufs[0][:cap(s.recvBufs[0])]
	buf := s.recvBufs[0]
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		if isWouldBlock(err) {
			return 0, errWouldBlock
		}
		return 0, err
	}
	s.recvMetas[0].addr = addr
	s.recvBufs[0] = buf[:n]
	return 1, nil
}

func (s *Socket) decodeMeta(i int) RecvMeta {
	meta := RecvMeta{
		Len:       len(s.recvBufs[i]),
		Stride:    len(s.recvBufs[i]),
		Timestamp: time.Now(),
	}
	if ap, ok := addrPort(s.recvMetas[i].addr); ok {
		meta.Addr = ap
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

func (s *Socket) trySendPlatform(t Transmit) error {
	var err error
	if t.Destination.IsValid() {
		_, err = s.conn.WriteToUDPAddrPort(t.Contents, t.Destination)
	} else {
		_, err = s.conn.Write(t.Contents)
	}
	if err != nil && isWouldBlock(err) {
		return errWouldBlock
	}
	return err
}

func isWouldBlock(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok {
		return t.Timeout()
	}
	return false
}

func isECONNRESET(err error) bool {
	return false
}
