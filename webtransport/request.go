// Package webtransport implements the per-connection WebTransport
// handshake: an explicit tagged state machine that advances
// Settings -> Connect -> Response -> Completed, one update() call at a
// time, never suspending mid-call. It performs no I/O of its own beyond
// reading and writing QUIC streams on the quicproto.Connection it is
// handed; it is driven entirely by its owner (see the session package).
package webtransport

import (
	"net/url"

	"github.com/recatek/squinn-go/quicproto"
	"github.com/recatek/squinn-go/varint"
)

const dataBufferInitialCapacity = 128

type phase int

const (
	phaseSettings phase = iota
	phaseConnect
	phaseResponse
	phaseFinished
)

// ProgressKind tags the outcome of one Request.Update call.
type ProgressKind int

const (
	// Waiting means the handshake cannot advance further this call (the
	// Settings sub-state may still have completed); the caller should
	// stop driving the loop until more data arrives.
	Waiting ProgressKind = iota
	// ConnectData means the Connect sub-state just completed; URL holds
	// the requested target and the caller is expected to call Respond.
	ConnectData
	// ResponseSent means the Response sub-state just flushed and the
	// handshake reached Completed; SessionID is now valid.
	ResponseSent
	// Finished means the handshake had already completed on a prior call.
	Finished
)

// Progress is the result of one Request.Update call.
type Progress struct {
	Kind      ProgressKind
	URL       *url.URL
	SessionID quicproto.StreamID
}

// Request is the per-connection WebTransport handshake state machine.
type Request struct {
	dataBuf []byte
	phase   phase

	settings *settingsState
	connect  *connectState
	response *responseState

	sessionID      quicproto.StreamID
	datagramHeader []byte
}

// New returns a Request in its initial Settings sub-state.
func New() *Request {
	return &Request{
		dataBuf:  make([]byte, 0, dataBufferInitialCapacity),
		phase:    phaseSettings,
		settings: newSettingsState(),
	}
}

// Respond accepts or rejects a pending ConnectData by encoding an HTTP/3
// response with the given status into the handshake's scratch buffer.
// It is only valid to call immediately after Update returns ConnectData.
func (r *Request) Respond(status int) error {
	if r.phase == phaseFinished {
		return ErrAlreadyFinished
	}
	if r.phase != phaseResponse {
		return ErrNotReadyToRespond
	}
	if len(r.dataBuf) != 0 {
		return ErrNotReadyToRespond
	}
	encoded, err := startResponse(r.dataBuf, status)
	if err != nil {
		return err
	}
	r.dataBuf = encoded
	return nil
}

// Update drives the handshake as far as it can go without suspending and
// reports what just happened.
func (r *Request) Update(conn quicproto.Connection) (Progress, error) {
	if r.phase == phaseFinished {
		return Progress{Kind: Finished}, nil
	}

	if r.phase == phaseSettings {
		done, err := r.settings.update(conn)
		if err != nil {
			return Progress{}, err
		}
		if done {
			r.phase = phaseConnect
			r.connect = newConnectState()
			r.dataBuf = r.dataBuf[:0]
		}
	}

	if r.phase == phaseConnect {
		result, err := r.connect.update(conn)
		if err != nil {
			return Progress{}, err
		}
		if result != nil {
			r.phase = phaseResponse
			r.response = newResponseState(result.id)
			r.sessionID = result.id
			r.dataBuf = r.dataBuf[:0]
			return Progress{Kind: ConnectData, URL: result.url}, nil
		}
	}

	if r.phase == phaseResponse {
		done, err := r.response.update(conn, r.dataBuf)
		if err != nil {
			return Progress{}, err
		}
		if done {
			r.phase = phaseFinished
			r.datagramHeader = encodeSessionHeader(r.sessionID)
			r.dataBuf = r.dataBuf[:0]
			return Progress{Kind: ResponseSent, SessionID: r.sessionID}, nil
		}
	}

	return Progress{Kind: Waiting}, nil
}

// Done reports whether the handshake has reached Completed.
func (r *Request) Done() bool {
	return r.phase == phaseFinished
}

// SessionID returns the CONNECT stream id that identifies this session,
// valid once Done() is true.
func (r *Request) SessionID() quicproto.StreamID {
	return r.sessionID
}

// DatagramHeader returns the varint-encoded session id prefix every WT
// datagram on this session must carry, valid once Done() is true.
func (r *Request) DatagramHeader() []byte {
	return r.datagramHeader
}

func encodeSessionHeader(id quicproto.StreamID) []byte {
	header, err := varint.Append(nil, uint64(id))
	if err != nil {
		// StreamID values never exceed varint.Max in practice; a
		// connection-fatal id this large would already be rejected
		// upstream by the QUIC transport.
		panic(err)
	}
	return header
}
