package webtransport

import (
	"errors"
	"io"

	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/webtransport/wire"
)

// settingsEncoded is the pre-encoded SETTINGS frame this server always
// sends, computed once in init() and shared by every connection.
var settingsEncoded []byte

func init() {
	var s wire.Settings
	s.EnableWebTransport(1)
	encoded, err := s.Encode(nil)
	if err != nil {
		panic(err)
	}
	settingsEncoded = encoded
}

// settingsState drives the SETTINGS sub-state: a unidirectional send half
// advertising this server's own settings, and a unidirectional receive
// half waiting on the peer's.
type settingsState struct {
	sendDone bool
	sendID   quicproto.StreamID
	haveSend bool
	sendPos  int

	recvDone bool
	recvID   quicproto.StreamID
	haveRecv bool
	recvBuf  []byte
}

func newSettingsState() *settingsState {
	return &settingsState{}
}

// update drives both halves as far as possible and reports whether the
// sub-state as a whole is complete.
func (s *settingsState) update(conn quicproto.Connection) (bool, error) {
	if !s.sendDone {
		done, err := s.trySend(conn)
		if err != nil {
			return false, err
		}
		s.sendDone = done
	}
	if !s.recvDone {
		done, err := s.tryRecv(conn)
		if err != nil {
			return false, err
		}
		s.recvDone = done
	}
	return s.sendDone && s.recvDone, nil
}

func (s *settingsState) trySend(conn quicproto.Connection) (bool, error) {
	if !s.haveSend {
		id, ok := conn.Streams().Open(quicproto.DirUni)
		if !ok {
			return false, nil
		}
		s.sendID = id
		s.haveSend = true
	}

	w := conn.SendStream(s.sendID)
	n, err := w.Write(settingsEncoded[s.sendPos:])
	if err != nil {
		return false, &TransportError{Op: "settings send", Err: err}
	}
	s.sendPos += n

	if s.sendPos >= len(settingsEncoded) {
		closeSendStream(w)
		return true, nil
	}
	return false, nil
}

func (s *settingsState) tryRecv(conn quicproto.Connection) (bool, error) {
	if !s.haveRecv {
		id, ok := conn.Streams().Accept(quicproto.DirUni)
		if !ok {
			return false, nil
		}
		s.recvID = id
		s.haveRecv = true
	}

	r := conn.RecvStream(s.recvID)
	chunk := make([]byte, 512)
	n, err := r.Read(chunk)
	if n > 0 {
		s.recvBuf = append(s.recvBuf, chunk[:n]...)
	}
	if err != nil {
		if errors.Is(err, quicproto.ErrWouldBlock) {
			return false, nil
		}
		if !errors.Is(err, io.EOF) {
			return false, &TransportError{Op: "settings recv", Err: err}
		}
		if len(s.recvBuf) == 0 {
			return false, ErrUnexpectedEnd
		}
	}

	decoded, err := wire.DecodeSettings(s.recvBuf)
	switch {
	case errors.Is(err, wire.ErrUnexpectedEnd):
		return false, nil
	case err != nil:
		return false, err
	}

	r.Stop(0)
	if decoded.SupportsWebTransport() == 0 {
		return false, ErrWebTransportUnsupported
	}
	return true, nil
}

func closeSendStream(w quicproto.StreamWriter) {
	_ = w.Finish()
}
