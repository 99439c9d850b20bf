//go:build !linux

package eventloop

import (
	"errors"
	"time"

	"github.com/recatek/squinn-go/socket"
)

// errInterrupted is unused on this fallback path (there is no syscall to
// interrupt) but kept so Loop.Run's retry branch compiles uniformly.
var errInterrupted = errors.New("eventloop: poll interrupted")

// deadlinePoller is a portable substitute for edge-triggered readiness:
// Wait sleeps for the requested timeout, capped at 50ms (a negative
// timeout also sleeps 50ms), and then always reports the socket readable.
// It does not query the socket. It exists only so the server runs on
// platforms without epoll; the GSO/GRO/epoll path is Linux-only by design.
type deadlinePoller struct {
	sock *socket.Socket
}

func newPoller(sock *socket.Socket) (poller, error) {
	return &deadlinePoller{sock: sock}, nil
}

func (p *deadlinePoller) Wait(timeout time.Duration) (bool, error) {
	wait := timeout
	if wait < 0 || wait > 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	time.Sleep(wait)
	return true, nil
}

func (p *deadlinePoller) Close() error {
	return nil
}
