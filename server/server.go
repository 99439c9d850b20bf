// Package server implements the facade that ties the QUIC endpoint, the
// connection table, the per-session handshake pumps, and the outbound
// queue together: handle_recv feeds the endpoint, handle_process drives
// every session and reaps drained connections, and outgoing/compute_next_timeout
// are what the event loop polls each iteration.
package server

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/recatek/squinn-go/ecn"
	"github.com/recatek/squinn-go/metrics"
	"github.com/recatek/squinn-go/outbound"
	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/session"
	"github.com/recatek/squinn-go/socket"
)

type pendingEvent struct {
	handle quicproto.ConnectionHandle
	event  quicproto.EndpointEvent
}

// Server owns the endpoint and every live session, and is the single
// point of contact between the event loop and the QUIC/WebTransport
// stack. It is not safe for concurrent use; it is driven exclusively by
// the loop goroutine.
type Server struct {
	endpoint quicproto.Endpoint
	sessions map[quicproto.ConnectionHandle]*session.Session

	pending []pendingEvent
	out     *outbound.Queue
	scratch []byte

	log *zerolog.Logger
}

// New wraps an already-configured quicproto.Endpoint. Constructing the
// endpoint itself (loading certs, choosing transport parameters) is the
// caller's responsibility -- see the cmd/wtserver wiring and the
// tlsconfig package.
func New(endpoint quicproto.Endpoint, log *zerolog.Logger) *Server {
	return &Server{
		endpoint: endpoint,
		sessions: make(map[quicproto.ConnectionHandle]*session.Session),
		out:      outbound.New(),
		scratch:  make([]byte, 0, endpoint.MaxUDPPayloadSize()),
		log:      log,
	}
}

// GetMaxUDPPayloadSize returns the endpoint's configured datagram size
// ceiling, used to size the server's scratch buffer.
func (s *Server) GetMaxUDPPayloadSize() int {
	return s.endpoint.MaxUDPPayloadSize()
}

// HandleRecv feeds one received UDP datagram (already split out of any
// GRO batch by the caller) into the endpoint and dispatches whatever
// DatagramEvent comes back.
func (s *Server) HandleRecv(now time.Time, meta socket.RecvMeta, data []byte) error {
	var protoECN *quicproto.ECN
	if meta.ECN != nil {
		e := ecn.ToProto(*meta.ECN)
		protoECN = &e
	}

	s.scratch = s.scratch[:0]
	s.reserveScratch()

	ev := s.endpoint.Handle(now, meta.Addr, meta.DstIP, protoECN, data, &s.scratch)
	return s.dispatch(now, ev)
}

func (s *Server) dispatch(now time.Time, ev quicproto.DatagramEvent) error {
	switch ev.Kind {
	case quicproto.DatagramEventNone:
		return nil

	case quicproto.DatagramEventNewConnection:
		return s.accept(now, ev.Incoming)

	case quicproto.DatagramEventConnectionEvent:
		sess, ok := s.sessions[ev.Handle]
		if !ok {
			if s.log != nil {
				s.log.Debug().Uint64("handle", uint64(ev.Handle)).Msg("dropping connection event for unknown handle")
			}
			return nil
		}
		sess.Connection.HandleEvent(ev.Event)
		return nil

	case quicproto.DatagramEventResponse:
		s.out.Push(ev.Transmit, &s.scratch)
		return nil
	}
	return nil
}

func (s *Server) accept(now time.Time, incoming quicproto.Incoming) error {
	s.scratch = s.scratch[:0]
	s.reserveScratch()

	handle, conn, err := s.endpoint.Accept(incoming, now, &s.scratch)
	if err != nil {
		var acceptErr *quicproto.AcceptError
		if asAcceptError(err, &acceptErr) && acceptErr.Response != nil {
			s.out.Push(*acceptErr.Response, &s.scratch)
		}
		metrics.HandshakeFailures.WithLabelValues("quic_reject").Inc()
		if s.log != nil {
			s.log.Warn().Err(err).Msg("rejected incoming connection")
		}
		return err
	}

	s.sessions[handle] = session.New(conn, s.log)
	metrics.ConnectionsAccepted.Inc()
	if s.log != nil {
		s.log.Info().Uint64("handle", uint64(handle)).Msg("accepted connection")
	}
	return nil
}

func asAcceptError(err error, target **quicproto.AcceptError) bool {
	ae, ok := err.(*quicproto.AcceptError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func (s *Server) reserveScratch() {
	if cap(s.scratch) < s.GetMaxUDPPayloadSize() {
		s.scratch = make([]byte, 0, s.GetMaxUDPPayloadSize())
	}
}

// HandleProcess runs every session's pump, then reaps drained connections
// and delivers queued endpoint events. Every pending event is passed to
// endpoint.HandleEvent regardless of whether its session is still present
// (a drain event for the same handle, this one or an earlier one in this
// tick, can already have removed it) -- only delivery of the resulting
// ConnectionEvent back into the session is gated on the session still
// being present.
func (s *Server) HandleProcess(now time.Time) {
	for handle, sess := range s.sessions {
		if err := sess.HandleProcess(now, &s.scratch, s.out, &s.pending); err != nil {
			if s.log != nil {
				s.log.Warn().Err(err).Uint64("handle", uint64(handle)).Msg("dropping session after handshake fault")
			}
			delete(s.sessions, handle)
			metrics.ConnectionsDrained.Inc()
			metrics.SessionRTT.DeleteLabelValues(strconv.FormatUint(uint64(handle), 10))
			continue
		}
		metrics.SessionRTT.WithLabelValues(strconv.FormatUint(uint64(handle), 10)).Set(sess.Connection.RTT().Seconds())
	}

	pending := s.pending
	s.pending = s.pending[:0]

	for _, pe := range pending {
		drained := pe.event.IsDrained()
		if drained {
			if _, ok := s.sessions[pe.handle]; ok {
				delete(s.sessions, pe.handle)
				metrics.ConnectionsDrained.Inc()
				metrics.SessionRTT.DeleteLabelValues(strconv.FormatUint(uint64(pe.handle), 10))
				if s.log != nil {
					s.log.Info().Uint64("handle", uint64(pe.handle)).Msg("connection drained")
				}
			}
		}

		// The endpoint must be told about every pending event, drained or
		// not, so it can retire its own per-connection bookkeeping (e.g.
		// connection ids). A drained event never yields a downstream
		// ConnectionEvent, so it is safe to ignore the return value here,
		// but the call itself is never skipped.
		connEvent, ok := s.endpoint.HandleEvent(pe.handle, pe.event)
		if ok && !drained {
			if sess, stillPresent := s.sessions[pe.handle]; stillPresent {
				sess.Connection.HandleEvent(connEvent)
			}
		}
	}
}

// Sessions exposes the live session table for the caller (the event loop)
// to drain WT datagrams from.
func (s *Server) Sessions() map[quicproto.ConnectionHandle]*session.Session {
	return s.sessions
}

// Outgoing drains every pending outbound entry, invoking send for each
// until the queue is empty or send rejects one (which is left at the
// front of the queue for the next call).
func (s *Server) Outgoing(send func(outbound.Entry) error) error {
	return s.out.Drain(send)
}

// ComputeNextTimeout returns the minimum poll_timeout across every live
// session, or false if none has a timeout armed.
func (s *Server) ComputeNextTimeout() (time.Time, bool) {
	var min time.Time
	found := false
	for _, sess := range s.sessions {
		deadline, ok := sess.Connection.PollTimeout()
		if !ok {
			continue
		}
		if !found || deadline.Before(min) {
			min = deadline
			found = true
		}
	}
	return min, found
}
