package webtransport

import (
	"errors"
	"io"
	"net/url"

	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/webtransport/wire"
)

// connectState accepts the single client-initiated bidirectional stream
// that carries the HTTP/3 extended CONNECT request. That stream's id
// becomes the session id for the lifetime of the connection.
type connectState struct {
	haveID bool
	id     quicproto.StreamID
	buf    []byte
}

func newConnectState() *connectState {
	return &connectState{}
}

type connectResult struct {
	url *url.URL
	id  quicproto.StreamID
}

func (c *connectState) update(conn quicproto.Connection) (*connectResult, error) {
	if !c.haveID {
		id, ok := conn.Streams().Accept(quicproto.DirBidi)
		if !ok {
			return nil, nil
		}
		c.id = id
		c.haveID = true
	}

	r := conn.RecvStream(c.id)
	chunk := make([]byte, 512)
	n, err := r.Read(chunk)
	if n > 0 {
		c.buf = append(c.buf, chunk[:n]...)
	}
	if err != nil {
		if errors.Is(err, quicproto.ErrWouldBlock) {
			return nil, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, &TransportError{Op: "connect recv", Err: err}
		}
		if len(c.buf) == 0 {
			return nil, ErrUnexpectedEnd
		}
	}

	req, err := wire.DecodeConnectRequest(c.buf)
	switch {
	case errors.Is(err, wire.ErrUnexpectedEnd):
		return nil, nil
	case err != nil:
		return nil, err
	}

	return &connectResult{url: req.URL, id: c.id}, nil
}
