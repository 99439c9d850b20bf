package webtransport

import (
	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/webtransport/wire"
)

// responseState writes the HTTP/3 response that accepts or rejects the
// extended CONNECT, on the send half of the CONNECT stream itself.
type responseState struct {
	sendID  quicproto.StreamID
	sendPos int
}

func newResponseState(sendID quicproto.StreamID) *responseState {
	return &responseState{sendID: sendID}
}

// startResponse encodes status into dataBuf, which must be empty.
func startResponse(dataBuf []byte, status int) ([]byte, error) {
	return wire.ConnectResponse{Status: status}.Encode(dataBuf)
}

func (r *responseState) update(conn quicproto.Connection, dataBuf []byte) (bool, error) {
	if len(dataBuf) == 0 {
		return false, nil
	}

	w := conn.SendStream(r.sendID)
	n, err := w.Write(dataBuf[r.sendPos:])
	if err != nil {
		return false, &TransportError{Op: "response send", Err: err}
	}
	r.sendPos += n

	return r.sendPos >= len(dataBuf), nil
}
