package session_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/recatek/squinn-go/outbound"
	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/quicproto/quictest"
	"github.com/recatek/squinn-go/session"
	"github.com/recatek/squinn-go/webtransport/wire"
)

func completeHandshake(t *testing.T, conn *quictest.Connection) *session.Session {
	t.Helper()

	var peerSettings wire.Settings
	peerSettings.EnableWebTransport(1)
	settingsBytes, _ := peerSettings.Encode(nil)
	conn.PeerOpensUni(settingsBytes)

	target, _ := url.Parse("https://example.com/wt/echo")
	connectBytes, _ := wire.ConnectRequest{URL: target}.Encode(nil)
	conn.PeerOpensBidi(connectBytes)

	sess := session.New(conn, nil)

	scratch := make([]byte, 0, 1500)
	out := outbound.New()
	var pending []quicproto.EndpointEvent

	if err := sess.HandleProcess(time.Now(), &scratch, out, &pending); err != nil {
		t.Fatalf("HandleProcess: %v", err)
	}
	if !sess.Request.Done() {
		t.Fatal("handshake did not complete within one HandleProcess call")
	}
	return sess
}

func TestSessionEchoDatagram(t *testing.T) {
	conn := quictest.New()
	sess := completeHandshake(t, conn)

	header := sess.Request.DatagramHeader()
	conn.QueueDatagram(append(append([]byte(nil), header...), "hello"...))

	payload, ok, err := sess.RecvDatagram()
	if err != nil {
		t.Fatalf("RecvDatagram: %v", err)
	}
	if !ok {
		t.Fatal("RecvDatagram: ok = false, want true")
	}
	if string(payload) != "hello" {
		t.Fatalf("payload = %q, want %q", payload, "hello")
	}

	_, ok, err = sess.RecvDatagram()
	if err != nil || ok {
		t.Fatalf("second RecvDatagram should report no datagram queued, got ok=%v err=%v", ok, err)
	}
}

func TestSessionDatagramSessionIDMismatch(t *testing.T) {
	conn := quictest.New()
	sess := completeHandshake(t, conn)

	conn.QueueDatagram([]byte{4, 'h', 'i'}) // varint 4 never matches session id 1 or 2

	_, _, err := sess.RecvDatagram()
	if err != session.ErrUnexpectedSessionID {
		t.Fatalf("RecvDatagram err = %v, want ErrUnexpectedSessionID", err)
	}

	// The connection survives: a correctly-prefixed datagram still works.
	header := sess.Request.DatagramHeader()
	conn.QueueDatagram(append(append([]byte(nil), header...), "ok"...))
	payload, ok, err := sess.RecvDatagram()
	if err != nil || !ok {
		t.Fatalf("RecvDatagram after mismatch: ok=%v err=%v", ok, err)
	}
	if string(payload) != "ok" {
		t.Fatalf("payload = %q, want %q", payload, "ok")
	}
}

func TestSessionSendDatagram(t *testing.T) {
	conn := quictest.New()
	sess := completeHandshake(t, conn)

	err := sess.SendDatagram(func(buf []byte) int {
		return copy(buf, "reply")
	})
	if err != nil {
		t.Fatalf("SendDatagram: %v", err)
	}

	sent := conn.SentDatagrams()
	if len(sent) != 1 {
		t.Fatalf("SentDatagrams() len = %d, want 1", len(sent))
	}

	header := sess.Request.DatagramHeader()
	want := append(append([]byte(nil), header...), "reply"...)
	if string(sent[0]) != string(want) {
		t.Fatalf("sent datagram = %v, want %v", sent[0], want)
	}
}
