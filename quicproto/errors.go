package quicproto

import "errors"

// ErrWouldBlock is returned by StreamReader.Read when the peer has not yet
// delivered enough bytes to satisfy the read. It is the sans-I/O analogue
// of a would-block error: callers must treat it as "try again on the next
// tick", not as a stream or connection fault.
var ErrWouldBlock = errors.New("quicproto: stream read would block")
