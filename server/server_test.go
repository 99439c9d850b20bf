package server_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/quicproto/quictest"
	"github.com/recatek/squinn-go/server"
	"github.com/recatek/squinn-go/socket"
)

// fakeEndpoint is a minimal quicproto.Endpoint driven by a test-programmed
// queue of events, wrapping quictest.Connection for everything downstream
// of accept.
type fakeEndpoint struct {
	maxSize int

	events []quicproto.DatagramEvent
	calls  int

	acceptHandle quicproto.ConnectionHandle
	acceptConn   quicproto.Connection
	acceptErr    error

	handleEventFunc func(quicproto.ConnectionHandle, quicproto.EndpointEvent) (quicproto.ConnectionEvent, bool)
}

func (f *fakeEndpoint) MaxUDPPayloadSize() int { return f.maxSize }

func (f *fakeEndpoint) Handle(now time.Time, from netip.AddrPort, dstIP *netip.Addr, ecn *quicproto.ECN, data []byte, scratch *[]byte) quicproto.DatagramEvent {
	ev := f.events[f.calls]
	f.calls++
	return ev
}

func (f *fakeEndpoint) Accept(incoming quicproto.Incoming, now time.Time, scratch *[]byte) (quicproto.ConnectionHandle, quicproto.Connection, error) {
	return f.acceptHandle, f.acceptConn, f.acceptErr
}

func (f *fakeEndpoint) HandleEvent(handle quicproto.ConnectionHandle, event quicproto.EndpointEvent) (quicproto.ConnectionEvent, bool) {
	if f.handleEventFunc != nil {
		return f.handleEventFunc(handle, event)
	}
	return nil, false
}

type fakeEndpointEvent struct{ drained bool }

func (e fakeEndpointEvent) IsDrained() bool { return e.drained }

func recvMeta() socket.RecvMeta {
	return socket.RecvMeta{Addr: netip.MustParseAddrPort("127.0.0.1:1234")}
}

func TestServerAcceptsNewConnection(t *testing.T) {
	conn := quictest.New()
	ep := &fakeEndpoint{
		maxSize:      1500,
		events:       []quicproto.DatagramEvent{{Kind: quicproto.DatagramEventNewConnection, Incoming: struct{}{}}},
		acceptHandle: 7,
		acceptConn:   conn,
	}
	srv := server.New(ep, nil)

	if err := srv.HandleRecv(time.Now(), recvMeta(), []byte("x")); err != nil {
		t.Fatalf("HandleRecv: %v", err)
	}

	sessions := srv.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("Sessions() len = %d, want 1", len(sessions))
	}
	if _, ok := sessions[7]; !ok {
		t.Fatalf("session not stored under accepted handle 7")
	}
}

func TestServerDropsUnknownConnectionEvent(t *testing.T) {
	ep := &fakeEndpoint{
		maxSize: 1500,
		events: []quicproto.DatagramEvent{{
			Kind:   quicproto.DatagramEventConnectionEvent,
			Handle: 999,
			Event:  fakeEndpointEvent{},
		}},
	}
	srv := server.New(ep, nil)

	if err := srv.HandleRecv(time.Now(), recvMeta(), []byte("x")); err != nil {
		t.Fatalf("HandleRecv: %v", err)
	}
	if len(srv.Sessions()) != 0 {
		t.Fatalf("Sessions() len = %d, want 0", len(srv.Sessions()))
	}
}

func TestServerReapsDrainedSession(t *testing.T) {
	conn := quictest.New()
	ep := &fakeEndpoint{
		maxSize:      1500,
		events:       []quicproto.DatagramEvent{{Kind: quicproto.DatagramEventNewConnection, Incoming: struct{}{}}},
		acceptHandle: 1,
		acceptConn:   conn,
	}
	srv := server.New(ep, nil)

	if err := srv.HandleRecv(time.Now(), recvMeta(), []byte("x")); err != nil {
		t.Fatalf("HandleRecv: %v", err)
	}
	if len(srv.Sessions()) != 1 {
		t.Fatalf("expected session accepted before drain test")
	}

	conn.QueueEndpointEvent(fakeEndpointEvent{drained: true})

	var gotHandle quicproto.ConnectionHandle
	var gotEvent quicproto.EndpointEvent
	calls := 0
	ep.handleEventFunc = func(handle quicproto.ConnectionHandle, event quicproto.EndpointEvent) (quicproto.ConnectionEvent, bool) {
		calls++
		gotHandle = handle
		gotEvent = event
		return nil, false
	}

	srv.HandleProcess(time.Now())

	if len(srv.Sessions()) != 0 {
		t.Fatalf("Sessions() len = %d, want 0 after drain event", len(srv.Sessions()))
	}
	if calls != 1 {
		t.Fatalf("endpoint.HandleEvent call count = %d, want 1 (drain events must still reach the endpoint)", calls)
	}
	if gotHandle != 1 {
		t.Fatalf("endpoint.HandleEvent handle = %d, want 1", gotHandle)
	}
	if ev, ok := gotEvent.(fakeEndpointEvent); !ok || !ev.drained {
		t.Fatalf("endpoint.HandleEvent event = %#v, want drained fakeEndpointEvent", gotEvent)
	}
}

func TestServerDeliversEndpointEventForHandleRemovedEarlierThisTick(t *testing.T) {
	conn := quictest.New()
	ep := &fakeEndpoint{
		maxSize:      1500,
		events:       []quicproto.DatagramEvent{{Kind: quicproto.DatagramEventNewConnection, Incoming: struct{}{}}},
		acceptHandle: 1,
		acceptConn:   conn,
	}
	srv := server.New(ep, nil)
	if err := srv.HandleRecv(time.Now(), recvMeta(), []byte("x")); err != nil {
		t.Fatalf("HandleRecv: %v", err)
	}

	// Two endpoint events surface for the same connection in one tick: a
	// drain event first (which removes the session partway through the
	// pending loop), then a second, unrelated event for the same handle.
	// Both must still reach the real endpoint.
	conn.QueueEndpointEvent(fakeEndpointEvent{drained: true})
	conn.QueueEndpointEvent(fakeEndpointEvent{drained: false})

	var gotHandles []quicproto.ConnectionHandle
	ep.handleEventFunc = func(handle quicproto.ConnectionHandle, event quicproto.EndpointEvent) (quicproto.ConnectionEvent, bool) {
		gotHandles = append(gotHandles, handle)
		return nil, false
	}

	srv.HandleProcess(time.Now())

	if len(srv.Sessions()) != 0 {
		t.Fatalf("Sessions() len = %d, want 0 after drain event", len(srv.Sessions()))
	}
	if len(gotHandles) != 2 {
		t.Fatalf("endpoint.HandleEvent call count = %d, want 2 (an event for a handle dropped earlier this tick must still reach the endpoint)", len(gotHandles))
	}
	for _, h := range gotHandles {
		if h != 1 {
			t.Fatalf("endpoint.HandleEvent handle = %d, want 1", h)
		}
	}
}

func TestServerComputeNextTimeout(t *testing.T) {
	conn := quictest.New()
	ep := &fakeEndpoint{
		maxSize:      1500,
		events:       []quicproto.DatagramEvent{{Kind: quicproto.DatagramEventNewConnection, Incoming: struct{}{}}},
		acceptHandle: 1,
		acceptConn:   conn,
	}
	srv := server.New(ep, nil)
	if err := srv.HandleRecv(time.Now(), recvMeta(), []byte("x")); err != nil {
		t.Fatalf("HandleRecv: %v", err)
	}

	if _, ok := srv.ComputeNextTimeout(); ok {
		t.Fatalf("ComputeNextTimeout() ok = true with no timeout armed")
	}

	deadline := time.Now().Add(5 * time.Second)
	conn.SetTimeout(deadline)

	got, ok := srv.ComputeNextTimeout()
	if !ok || !got.Equal(deadline) {
		t.Fatalf("ComputeNextTimeout() = %v, %v; want %v, true", got, ok, deadline)
	}
}
