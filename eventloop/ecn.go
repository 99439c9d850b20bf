package eventloop

import (
	"github.com/recatek/squinn-go/ecn"
	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/socket"
)

func protoECNToSocket(e *quicproto.ECN) *socket.ECN {
	if e == nil {
		return nil
	}
	s := ecn.ToSocket(*e)
	return &s
}
