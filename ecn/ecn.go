// Package ecn provides the bijection between the ECN codepoint vocabulary
// used by the UDP socket layer and the one used by the QUIC protocol
// layer. It is pure and infallible: Not-ECT has no representation here,
// it is always absence (a nil pointer) on both sides.
package ecn

import (
	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/socket"
)

// ToProto translates a socket-layer ECN codepoint to the protocol-layer
// vocabulary.
func ToProto(e socket.ECN) quicproto.ECN {
	switch e {
	case socket.ECT0:
		return quicproto.ECT0
	case socket.ECT1:
		return quicproto.ECT1
	default:
		return quicproto.CE
	}
}

// ToSocket translates a protocol-layer ECN codepoint to the socket-layer
// vocabulary.
func ToSocket(e quicproto.ECN) socket.ECN {
	switch e {
	case quicproto.ECT0:
		return socket.ECT0
	case quicproto.ECT1:
		return socket.ECT1
	default:
		return socket.CE
	}
}
