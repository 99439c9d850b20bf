// Package session implements the per-connection glue between a
// quicproto.Connection and its WebTransport handshake: driving the
// handshake to completion, pumping transmits and timers, and exchanging
// WebTransport datagrams once the session is established.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/recatek/squinn-go/metrics"
	"github.com/recatek/squinn-go/outbound"
	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/webtransport"
)

// MaxTransmitOps bounds how many poll_transmit/handle_timeout iterations
// a single session may run per handle_process tick, so one busy
// connection cannot starve the rest of the map.
const MaxTransmitOps = 3

// MaxDatagrams is the max argument passed to poll_transmit: the most
// datagrams a single poll may coalesce into one Transmit.
const MaxDatagrams = 10

// ErrUnexpectedSessionID is returned by RecvDatagram when an incoming
// datagram's varint prefix does not match this session's id.
var ErrUnexpectedSessionID = webtransport.ErrUnexpectedSessionID

// ErrNotConnected is returned by RecvDatagram/SendDatagram before the
// handshake has reached Completed.
var ErrNotConnected = webtransport.ErrNotConnected

// Session pairs a quicproto.Connection with its WebTransport handshake
// state machine. It is created on accept and destroyed when the endpoint
// reports the connection drained.
type Session struct {
	Connection quicproto.Connection
	Request    *webtransport.Request

	log *zerolog.Logger
}

// New wraps conn with a fresh handshake state machine.
func New(conn quicproto.Connection, log *zerolog.Logger) *Session {
	return &Session{
		Connection: conn,
		Request:    webtransport.New(),
		log:        log,
	}
}

// IsDrained reports whether the underlying connection has finished
// exchanging its final CLOSE and can be forgotten.
func (s *Session) IsDrained() bool {
	return s.Connection.IsDrained()
}

// HandleProcess runs one tick of this session's work: drive the
// handshake to the next suspension point, then pump transmits and timers.
// Any endpoint events the connection surfaced along the way are appended
// to pending for the caller (the server facade) to drain.
func (s *Session) HandleProcess(now time.Time, scratch *[]byte, out *outbound.Queue, pending *[]quicproto.EndpointEvent) error {
	if err := s.driveHandshake(); err != nil {
		return err
	}
	s.pumpTransmits(now, scratch, out)
	s.drainEndpointEvents(pending)
	return nil
}

func (s *Session) driveHandshake() error {
	for {
		progress, err := s.Request.Update(s.Connection)
		if err != nil {
			metrics.HandshakeFailures.WithLabelValues(handshakeFailureReason(err)).Inc()
			return fmt.Errorf("webtransport handshake: %w", err)
		}

		switch progress.Kind {
		case webtransport.ConnectData:
			if err := s.Request.Respond(200); err != nil {
				metrics.HandshakeFailures.WithLabelValues(handshakeFailureReason(err)).Inc()
				return fmt.Errorf("webtransport respond: %w", err)
			}
			if s.log != nil {
				s.log.Debug().Str("url", progress.URL.String()).Msg("webtransport connect received")
			}
			continue
		case webtransport.ResponseSent:
			if s.log != nil {
				s.log.Info().Uint64("session_id", uint64(progress.SessionID)).Msg("webtransport session established")
			}
			return nil
		case webtransport.Waiting, webtransport.Finished:
			return nil
		}
	}
}

func (s *Session) pumpTransmits(now time.Time, scratch *[]byte, out *outbound.Queue) {
	for i := 0; i < MaxTransmitOps; i++ {
		*scratch = (*scratch)[:0]
		t, ok := s.Connection.PollTransmit(now, MaxDatagrams, scratch)
		if ok {
			out.Push(t, scratch)
		}
		s.Connection.HandleTimeout(now)
	}
}

func (s *Session) drainEndpointEvents(pending *[]quicproto.EndpointEvent) {
	for {
		ev, ok := s.Connection.PollEndpointEvents()
		if !ok {
			return
		}
		*pending = append(*pending, ev)
	}
}

// RecvDatagram pulls one queued WebTransport datagram. It returns
// (nil, false, nil) when none is queued. Requires the handshake to have
// reached Completed, and requires the datagram's varint-encoded prefix to
// match this session's id; a mismatched prefix is datagram-local, not
// connection-fatal, and is surfaced as ErrUnexpectedSessionID.
func (s *Session) RecvDatagram() ([]byte, bool, error) {
	raw, ok := s.Connection.Datagrams().Recv()
	if !ok {
		return nil, false, nil
	}
	if !s.Request.Done() {
		metrics.DatagramsDropped.WithLabelValues("not_connected").Inc()
		return nil, false, ErrNotConnected
	}

	header := s.Request.DatagramHeader()
	if len(raw) < len(header) || !bytes.Equal(raw[:len(header)], header) {
		metrics.DatagramsDropped.WithLabelValues("unexpected_session_id").Inc()
		return nil, false, ErrUnexpectedSessionID
	}
	metrics.DatagramsReceived.Inc()
	return raw[len(header):], true, nil
}

// SendDatagram allocates a buffer sized to the connection's max datagram
// size, writes the session header, invokes fill to populate the payload,
// trims to what fill actually wrote, and enqueues it for delivery. The
// datagram is always sent with dropOnFull set, so a full send queue drops
// it silently (appropriate here: the upper protocol is itself unreliable).
func (s *Session) SendDatagram(fill func(buf []byte) int) error {
	if !s.Request.Done() {
		return ErrNotConnected
	}

	maxSize, ok := s.Connection.Datagrams().MaxSize()
	if !ok {
		return errors.New("session: datagrams unsupported by this connection")
	}

	header := s.Request.DatagramHeader()
	buf := make([]byte, maxSize)
	n := copy(buf, header)
	written := fill(buf[n:])
	buf = buf[:n+written]

	if err := s.Connection.Datagrams().Send(buf, true); err != nil {
		return err
	}
	metrics.DatagramsSent.Inc()
	return nil
}

// handshakeFailureReason classifies a handshake error for the
// handshake_failures_total{reason} metric.
func handshakeFailureReason(err error) string {
	switch {
	case errors.Is(err, webtransport.ErrWebTransportUnsupported):
		return "webtransport_unsupported"
	case errors.Is(err, webtransport.ErrUnexpectedEnd):
		return "unexpected_end"
	default:
		var transportErr *webtransport.TransportError
		if errors.As(err, &transportErr) {
			return "transport"
		}
		return "other"
	}
}
