// Package wire implements the small slice of the HTTP/3 frame format this
// server actually needs: the SETTINGS frame carrying
// SETTINGS_ENABLE_WEBTRANSPORT, and the extended-CONNECT request/response
// pair used to establish a WebTransport session. It is not a general HTTP/3
// or QPACK implementation — pseudo-headers are encoded as plain
// length-prefixed strings rather than QPACK-compressed, which is
// sufficient for a server and client that agree on this codec.
package wire

import (
	"errors"
	"net/url"

	"github.com/recatek/squinn-go/varint"
)

// ErrUnexpectedEnd means the buffer does not yet hold a complete frame;
// callers should retain what they have and try again once more bytes
// arrive. It is never a protocol fault on its own.
var ErrUnexpectedEnd = errors.New("wire: unexpected end of frame")

// ErrMalformed means the buffer holds a complete frame that cannot be
// parsed as the expected shape.
var ErrMalformed = errors.New("wire: malformed frame")

const (
	frameTypeSettings = 0x4
	frameTypeHeaders  = 0x1
)

// settingEnableWebTransport is this server's id for the WebTransport
// capability bit within a SETTINGS frame.
const settingEnableWebTransport = 0x2b603742

// Settings is the decoded content of an HTTP/3 SETTINGS frame, reduced to
// the one bit this server cares about.
type Settings struct {
	enableWebTransport uint64
}

// EnableWebTransport sets the capability flag this server advertises.
func (s *Settings) EnableWebTransport(v uint64) {
	s.enableWebTransport = v
}

// SupportsWebTransport reports the decoded capability flag.
func (s *Settings) SupportsWebTransport() uint64 {
	return s.enableWebTransport
}

// Encode appends the framed SETTINGS payload to buf.
func (s *Settings) Encode(buf []byte) ([]byte, error) {
	var payload []byte
	var err error
	payload, err = varint.Append(payload, settingEnableWebTransport)
	if err != nil {
		return nil, err
	}
	payload, err = varint.Append(payload, s.enableWebTransport)
	if err != nil {
		return nil, err
	}

	buf, err = varint.Append(buf, frameTypeSettings)
	if err != nil {
		return nil, err
	}
	buf, err = varint.Append(buf, uint64(len(payload)))
	if err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}

// DecodeSettings attempts to decode one SETTINGS frame from the front of
// buf. It returns ErrUnexpectedEnd if buf does not yet hold a full frame.
func DecodeSettings(buf []byte) (Settings, error) {
	frameType, n, err := varint.Decode(buf)
	if err != nil {
		return Settings{}, ErrUnexpectedEnd
	}
	if frameType != frameTypeSettings {
		return Settings{}, ErrMalformed
	}
	buf = buf[n:]

	length, n, err := varint.Decode(buf)
	if err != nil {
		return Settings{}, ErrUnexpectedEnd
	}
	buf = buf[n:]
	if uint64(len(buf)) < length {
		return Settings{}, ErrUnexpectedEnd
	}
	payload := buf[:length]

	var out Settings
	for len(payload) > 0 {
		id, n, err := varint.Decode(payload)
		if err != nil {
			return Settings{}, ErrMalformed
		}
		payload = payload[n:]
		value, n, err := varint.Decode(payload)
		if err != nil {
			return Settings{}, ErrMalformed
		}
		payload = payload[n:]

		if id == settingEnableWebTransport {
			out.enableWebTransport = value
		}
	}
	return out, nil
}

// ConnectRequest is a decoded HTTP/3 extended CONNECT request
// (":method"=CONNECT, ":protocol"=webtransport, target URL).
type ConnectRequest struct {
	URL *url.URL
}

// Encode appends the framed extended-CONNECT request to buf.
func (r ConnectRequest) Encode(buf []byte) ([]byte, error) {
	headers := [][2]string{
		{":method", "CONNECT"},
		{":protocol", "webtransport"},
		{":scheme", r.URL.Scheme},
		{":authority", r.URL.Host},
		{":path", r.URL.EscapedPath()},
	}
	return encodeHeadersFrame(buf, headers)
}

// DecodeConnectRequest attempts to decode one extended-CONNECT request
// from the front of buf.
func DecodeConnectRequest(buf []byte) (ConnectRequest, error) {
	headers, err := decodeHeadersFrame(buf)
	if err != nil {
		return ConnectRequest{}, err
	}

	var method, protocol, scheme, authority, path string
	for _, h := range headers {
		switch h[0] {
		case ":method":
			method = h[1]
		case ":protocol":
			protocol = h[1]
		case ":scheme":
			scheme = h[1]
		case ":authority":
			authority = h[1]
		case ":path":
			path = h[1]
		}
	}
	if method != "CONNECT" || protocol != "webtransport" {
		return ConnectRequest{}, ErrMalformed
	}

	u := &url.URL{Scheme: scheme, Host: authority, Path: path}
	return ConnectRequest{URL: u}, nil
}

// ConnectResponse is the HTTP/3 response frame that accepts or rejects an
// extended-CONNECT request.
type ConnectResponse struct {
	Status int
}

// Encode appends the framed response to buf.
func (r ConnectResponse) Encode(buf []byte) ([]byte, error) {
	headers := [][2]string{
		{":status", statusString(r.Status)},
	}
	return encodeHeadersFrame(buf, headers)
}

// DecodeConnectResponse attempts to decode one response frame from the
// front of buf.
func DecodeConnectResponse(buf []byte) (ConnectResponse, error) {
	headers, err := decodeHeadersFrame(buf)
	if err != nil {
		return ConnectResponse{}, err
	}
	for _, h := range headers {
		if h[0] == ":status" {
			return ConnectResponse{Status: parseStatus(h[1])}, nil
		}
	}
	return ConnectResponse{}, ErrMalformed
}

func encodeHeadersFrame(buf []byte, headers [][2]string) ([]byte, error) {
	var payload []byte
	var err error
	for _, h := range headers {
		payload, err = appendString(payload, h[0])
		if err != nil {
			return nil, err
		}
		payload, err = appendString(payload, h[1])
		if err != nil {
			return nil, err
		}
	}

	buf, err = varint.Append(buf, frameTypeHeaders)
	if err != nil {
		return nil, err
	}
	buf, err = varint.Append(buf, uint64(len(payload)))
	if err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}

func decodeHeadersFrame(buf []byte) ([][2]string, error) {
	frameType, n, err := varint.Decode(buf)
	if err != nil {
		return nil, ErrUnexpectedEnd
	}
	if frameType != frameTypeHeaders {
		return nil, ErrMalformed
	}
	buf = buf[n:]

	length, n, err := varint.Decode(buf)
	if err != nil {
		return nil, ErrUnexpectedEnd
	}
	buf = buf[n:]
	if uint64(len(buf)) < length {
		return nil, ErrUnexpectedEnd
	}
	payload := buf[:length]

	var headers [][2]string
	for len(payload) > 0 {
		name, rest, err := readString(payload)
		if err != nil {
			return nil, ErrMalformed
		}
		value, rest2, err := readString(rest)
		if err != nil {
			return nil, ErrMalformed
		}
		headers = append(headers, [2]string{name, value})
		payload = rest2
	}
	return headers, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	buf, err := varint.Append(buf, uint64(len(s)))
	if err != nil {
		return nil, err
	}
	return append(buf, s...), nil
}

func readString(buf []byte) (string, []byte, error) {
	n, sz, err := varint.Decode(buf)
	if err != nil {
		return "", nil, err
	}
	buf = buf[sz:]
	if uint64(len(buf)) < n {
		return "", nil, ErrMalformed
	}
	return string(buf[:n]), buf[n:], nil
}

func statusString(status int) string {
	digits := []byte{}
	if status == 0 {
		return "0"
	}
	n := status
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func parseStatus(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
