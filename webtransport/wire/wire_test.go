package wire

import (
	"net/url"
	"testing"
)

func TestSettingsRoundTrip(t *testing.T) {
	var s Settings
	s.EnableWebTransport(1)

	buf, err := s.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeSettings(buf)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if decoded.SupportsWebTransport() != 1 {
		t.Fatalf("SupportsWebTransport() = %d, want 1", decoded.SupportsWebTransport())
	}
}

func TestSettingsUnexpectedEnd(t *testing.T) {
	var s Settings
	s.EnableWebTransport(1)
	buf, _ := s.Encode(nil)

	if _, err := DecodeSettings(buf[:len(buf)-1]); err != ErrUnexpectedEnd {
		t.Fatalf("DecodeSettings(truncated) = %v, want ErrUnexpectedEnd", err)
	}
}

func TestConnectRequestRoundTrip(t *testing.T) {
	u, _ := url.Parse("https://example.com/wt/echo")
	req := ConnectRequest{URL: u}

	buf, err := req.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeConnectRequest(buf)
	if err != nil {
		t.Fatalf("DecodeConnectRequest: %v", err)
	}
	if decoded.URL.String() != u.String() {
		t.Fatalf("URL = %q, want %q", decoded.URL.String(), u.String())
	}
}

func TestConnectResponseRoundTrip(t *testing.T) {
	buf, err := ConnectResponse{Status: 200}.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeConnectResponse(buf)
	if err != nil {
		t.Fatalf("DecodeConnectResponse: %v", err)
	}
	if decoded.Status != 200 {
		t.Fatalf("Status = %d, want 200", decoded.Status)
	}
}
