// Package eventloop drives the single-threaded, edge-triggered poll that
// is the top of the server's call stack: compute the next wakeup, block
// until the socket is readable or that deadline passes, drain receives
// into the server, run one handle_process tick, echo any WebTransport
// datagrams per the demo application policy, and flush the outbound
// queue back to the socket.
package eventloop

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/recatek/squinn-go/metrics"
	"github.com/recatek/squinn-go/outbound"
	"github.com/recatek/squinn-go/server"
	"github.com/recatek/squinn-go/socket"
)

// Loop owns the socket and the server facade and runs the single
// cooperative iteration forever until its context is cancelled.
type Loop struct {
	sock *socket.Socket
	srv  *server.Server
	log  *zerolog.Logger

	poller poller
}

// poller is the OS readiness primitive the loop blocks on. It is
// satisfied by the epoll-backed implementation on Linux and a portable
// fallback elsewhere.
type poller interface {
	// Wait blocks until the registered fd is readable or timeout
	// elapses (timeout < 0 means wait forever). It returns whether the
	// fd was reported readable.
	Wait(timeout time.Duration) (readable bool, err error)
	Close() error
}

// New registers sock with the platform poller and returns a ready Loop.
func New(sock *socket.Socket, srv *server.Server, log *zerolog.Logger) (*Loop, error) {
	p, err := newPoller(sock)
	if err != nil {
		return nil, err
	}
	return &Loop{sock: sock, srv: srv, log: log, poller: p}, nil
}

// Run executes iterations until ctx is cancelled or a fatal poll error
// occurs. Interrupted poll calls are retried transparently.
func (l *Loop) Run(ctx context.Context) error {
	defer l.poller.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		wait := l.computeWait(now)

		readable, err := l.poller.Wait(wait)
		if err != nil {
			if errors.Is(err, errInterrupted) {
				continue
			}
			return err
		}

		now = time.Now()

		if readable {
			if err := l.sock.RecvAll(func(data []byte, meta socket.RecvMeta) {
				metrics.UDPBytesReceived.Add(float64(len(data)))
				if err := l.srv.HandleRecv(now, meta, data); err != nil && l.log != nil {
					l.log.Debug().Err(err).Msg("recv")
				}
			}); err != nil {
				return err
			}
		}

		l.srv.HandleProcess(now)
		l.echoDatagrams()
		l.flushOutgoing()
	}
}

func (l *Loop) computeWait(now time.Time) time.Duration {
	deadline, ok := l.srv.ComputeNextTimeout()
	if !ok {
		return -1
	}
	wait := deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// echoDatagrams implements the reference workload: every WebTransport
// datagram received on an established session is sent straight back.
func (l *Loop) echoDatagrams() {
	for _, sess := range l.srv.Sessions() {
		for {
			payload, ok, err := sess.RecvDatagram()
			if err != nil {
				if l.log != nil {
					l.log.Debug().Err(err).Msg("recv_datagram")
				}
				continue
			}
			if !ok {
				break
			}

			echoed := append([]byte(nil), payload...)
			sendErr := sess.SendDatagram(func(buf []byte) int {
				return copy(buf, echoed)
			})
			if sendErr != nil && l.log != nil {
				l.log.Debug().Err(sendErr).Msg("send_datagram")
			}
		}
	}
}

func (l *Loop) flushOutgoing() {
	_ = l.srv.Outgoing(func(e outbound.Entry) error {
		err := l.sock.TrySend(socket.Transmit{
			Destination: e.Transmit.Destination,
			SrcIP:       e.Transmit.SrcIP,
			ECN:         protoECNToSocket(e.Transmit.ECN),
			SegmentSize: e.Transmit.SegmentSize,
			Contents:    e.Contents,
		})
		if err != nil {
			if errors.Is(err, socket.ErrWouldBlock) {
				metrics.DatagramsDropped.WithLabelValues("would_block").Inc()
			}
			return err
		}
		metrics.UDPBytesSent.Add(float64(len(e.Contents)))
		return nil
	})
}
