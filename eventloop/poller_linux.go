//go:build linux

package eventloop

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/recatek/squinn-go/socket"
)

// errInterrupted marks a poll call that was interrupted by a signal and
// should simply be retried, never treated as fatal.
var errInterrupted = errors.New("eventloop: poll interrupted")

const recvToken = 1

type epollPoller struct {
	epfd int
	fd   int
}

func newPoller(sock *socket.Socket) (poller, error) {
	conn, err := sock.File()
	if err != nil {
		return nil, err
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var fd int
	var dupErr error
	err = rawConn.Control(func(f uintptr) {
		fd, dupErr = unix.Dup(int(f))
	})
	if err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(recvToken)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return nil, err
	}

	return &epollPoller{epfd: epfd, fd: fd}, nil
}

func (p *epollPoller) Wait(timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	events := make([]unix.EpollEvent, 8)
	n, err := unix.EpollWait(p.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return false, errInterrupted
		}
		return false, err
	}

	for i := 0; i < n; i++ {
		if events[i].Fd == recvToken {
			return true, nil
		}
	}
	return false, nil
}

func (p *epollPoller) Close() error {
	_ = unix.Close(p.fd)
	return unix.Close(p.epfd)
}
