package webtransport_test

import (
	"net/url"
	"testing"

	"github.com/recatek/squinn-go/quicproto/quictest"
	"github.com/recatek/squinn-go/varint"
	"github.com/recatek/squinn-go/webtransport"
	"github.com/recatek/squinn-go/webtransport/wire"
)

func TestFullHandshake(t *testing.T) {
	conn := quictest.New()

	var peerSettings wire.Settings
	peerSettings.EnableWebTransport(1)
	settingsBytes, err := peerSettings.Encode(nil)
	if err != nil {
		t.Fatalf("encode peer settings: %v", err)
	}
	conn.PeerOpensUni(settingsBytes)

	target, _ := url.Parse("https://example.com/wt/echo")
	connectBytes, err := wire.ConnectRequest{URL: target}.Encode(nil)
	if err != nil {
		t.Fatalf("encode connect request: %v", err)
	}
	bidiID := conn.PeerOpensBidi(connectBytes)

	req := webtransport.New()

	var gotURL *url.URL
	responded := false
	for i := 0; i < 10 && !responded; i++ {
		progress, err := req.Update(conn)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		switch progress.Kind {
		case webtransport.ConnectData:
			gotURL = progress.URL
			if err := req.Respond(200); err != nil {
				t.Fatalf("Respond: %v", err)
			}
		case webtransport.ResponseSent:
			responded = true
		case webtransport.Waiting:
			// keep looping; the fake delivers everything synchronously
			// so this should not actually happen in this test.
		}
	}

	if !responded {
		t.Fatal("handshake never reached ResponseSent")
	}
	if !req.Done() {
		t.Fatal("Done() = false after ResponseSent")
	}
	if gotURL == nil || gotURL.String() != target.String() {
		t.Fatalf("URL = %v, want %v", gotURL, target)
	}
	if req.SessionID() != bidiID {
		t.Fatalf("SessionID() = %d, want %d", req.SessionID(), bidiID)
	}

	wantHeader, _ := varint.Append(nil, uint64(bidiID))
	if string(req.DatagramHeader()) != string(wantHeader) {
		t.Fatalf("DatagramHeader() = %v, want %v", req.DatagramHeader(), wantHeader)
	}

	sent := conn.Sent(bidiID)
	resp, err := wire.DecodeConnectResponse(sent)
	if err != nil {
		t.Fatalf("DecodeConnectResponse(sent response): %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("response status = %d, want 200", resp.Status)
	}
}

func TestSettingsRejectsWebTransport(t *testing.T) {
	conn := quictest.New()

	var peerSettings wire.Settings
	peerSettings.EnableWebTransport(0)
	settingsBytes, _ := peerSettings.Encode(nil)
	conn.PeerOpensUni(settingsBytes)

	req := webtransport.New()
	_, err := req.Update(conn)
	if err != webtransport.ErrWebTransportUnsupported {
		t.Fatalf("Update err = %v, want ErrWebTransportUnsupported", err)
	}
}
