// Package quicendpoint is the seam where a real sans-I/O QUIC
// implementation plugs into this server. The QUIC wire/crypto stack
// (TLS 1.3 handshake, packet protection, loss recovery, stream
// multiplexing) is explicitly out of this module's scope: quicproto.Endpoint
// and quicproto.Connection describe the poll-based contract this server
// is written against, and any implementation satisfying that contract
// can be substituted here.
//
// No Go library in this module's dependency set exposes that contract
// publicly (the ecosystem's QUIC implementations drive connections with
// goroutines and channels, not a poll loop), so New returns a
// descriptive error rather than a non-functional stub pretending to
// speak QUIC. Wiring a real engine means implementing quicproto.Endpoint
// against it and replacing the body of New.
package quicendpoint

import (
	"crypto/tls"
	"errors"
	"time"

	"github.com/recatek/squinn-go/quicproto"
)

// Config mirrors the transport parameters this server always wants: the
// TLS identity (whose ALPN list is set by tlsconfig), a bounded idle
// timeout, spin bit allowed, and a fixed ack delay ceiling.
type Config struct {
	TLS            *tls.Config
	MaxIdleTimeout time.Duration
	MaxAckDelay    time.Duration
	AllowSpin      bool
}

// DefaultMaxUDPPayloadSize is the datagram size ceiling advertised to
// peers and used to size the socket's receive arena, independent of
// whether an engine is wired in yet.
const DefaultMaxUDPPayloadSize = 1452

// ErrNoEngine is returned by New: this module ships the sans-I/O contract
// (quicproto) and the server/session/webtransport logic built against it,
// but not a QUIC wire implementation to satisfy that contract.
var ErrNoEngine = errors.New("quicendpoint: no sans-I/O QUIC engine wired in; implement quicproto.Endpoint and replace quicendpoint.New")

// New validates cfg and reports ErrNoEngine. It exists so main's wiring
// compiles and fails fast with an actionable message instead of either
// refusing to build or silently no-opping.
func New(cfg Config) (quicproto.Endpoint, error) {
	if cfg.TLS == nil {
		return nil, errors.New("quicendpoint: TLS config is required")
	}
	return nil, ErrNoEngine
}
