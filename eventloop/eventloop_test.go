package eventloop

import (
	"net/netip"
	"net/url"
	"testing"
	"time"

	"github.com/recatek/squinn-go/outbound"
	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/quicproto/quictest"
	"github.com/recatek/squinn-go/server"
	"github.com/recatek/squinn-go/socket"
	"github.com/recatek/squinn-go/webtransport/wire"
)

type stubEndpoint struct {
	handle quicproto.ConnectionHandle
	conn   quicproto.Connection
}

func (e *stubEndpoint) MaxUDPPayloadSize() int { return 1500 }

func (e *stubEndpoint) Handle(now time.Time, from netip.AddrPort, dstIP *netip.Addr, ecn *quicproto.ECN, data []byte, scratch *[]byte) quicproto.DatagramEvent {
	return quicproto.DatagramEvent{Kind: quicproto.DatagramEventNewConnection, Incoming: struct{}{}}
}

func (e *stubEndpoint) Accept(incoming quicproto.Incoming, now time.Time, scratch *[]byte) (quicproto.ConnectionHandle, quicproto.Connection, error) {
	return e.handle, e.conn, nil
}

func (e *stubEndpoint) HandleEvent(handle quicproto.ConnectionHandle, event quicproto.EndpointEvent) (quicproto.ConnectionEvent, bool) {
	return nil, false
}

func newTestLoopWithSession(t *testing.T) (*Loop, *quictest.Connection) {
	t.Helper()
	conn := quictest.New()
	srv := server.New(&stubEndpoint{handle: 1, conn: conn}, nil)
	if err := srv.HandleRecv(time.Now(), socket.RecvMeta{Addr: netip.MustParseAddrPort("127.0.0.1:1")}, []byte("x")); err != nil {
		t.Fatalf("HandleRecv: %v", err)
	}
	return &Loop{srv: srv}, conn
}

func TestComputeWaitNoTimeout(t *testing.T) {
	loop, _ := newTestLoopWithSession(t)
	if wait := loop.computeWait(time.Now()); wait != -1 {
		t.Fatalf("computeWait() = %v, want -1 (forever)", wait)
	}
}

func TestComputeWaitRespectsDeadline(t *testing.T) {
	loop, conn := newTestLoopWithSession(t)

	now := time.Now()
	deadline := now.Add(3 * time.Second)
	conn.SetTimeout(deadline)

	wait := loop.computeWait(now)
	if wait <= 0 || wait > 3*time.Second {
		t.Fatalf("computeWait() = %v, want roughly 3s", wait)
	}
}

func TestEchoDatagramsReflectsPayload(t *testing.T) {
	loop, conn := newTestLoopWithSession(t)

	sess := loop.srv.Sessions()[1]

	var peerSettings wire.Settings
	peerSettings.EnableWebTransport(1)
	settingsBytes, _ := peerSettings.Encode(nil)
	conn.PeerOpensUni(settingsBytes)

	target, _ := url.Parse("https://example.com/wt/echo")
	connectBytes, _ := wire.ConnectRequest{URL: target}.Encode(nil)
	conn.PeerOpensBidi(connectBytes)

	var scratch []byte
	var pending []quicproto.EndpointEvent
	if err := sess.HandleProcess(time.Now(), &scratch, outbound.New(), &pending); err != nil {
		t.Fatalf("HandleProcess: %v", err)
	}
	if !sess.Request.Done() {
		t.Fatal("handshake did not complete")
	}

	header := sess.Request.DatagramHeader()
	conn.QueueDatagram(append(append([]byte(nil), header...), "ping"...))

	loop.echoDatagrams()

	sent := conn.SentDatagrams()
	if len(sent) != 1 {
		t.Fatalf("SentDatagrams() len = %d, want 1", len(sent))
	}
	want := append(append([]byte(nil), header...), "ping"...)
	if string(sent[0]) != string(want) {
		t.Fatalf("echoed datagram = %v, want %v", sent[0], want)
	}
}
