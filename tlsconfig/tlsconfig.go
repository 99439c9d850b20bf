// Package tlsconfig loads the server's certificate chain and private key
// from PEM files and builds the TLS configuration the QUIC endpoint is
// constructed with: TLS 1.3 only, no client auth, ALPN restricted to h3.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ALPNProtocols is the single protocol this server ever negotiates.
var ALPNProtocols = []string{"h3"}

// Load reads a PEM certificate chain and a PEM private key (PKCS#8 or
// legacy) from certPath and keyPath and builds a server-role TLS config.
// It fails loudly if either file is missing or empty, since a server that
// silently started without a usable identity would be worse than one
// that refused to start.
func Load(certPath, keyPath string) (*tls.Config, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: reading certificate %s: %w", certPath, err)
	}
	if len(certPEM) == 0 {
		return nil, fmt.Errorf("tlsconfig: certificate %s is empty", certPath)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: reading key %s: %w", keyPath, err)
	}
	if len(keyPEM) == 0 {
		return nil, fmt.Errorf("tlsconfig: key %s is empty", keyPath)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: parsing key pair: %w", err)
	}

	if _, err := x509.ParseCertificate(cert.Certificate[0]); err != nil {
		return nil, fmt.Errorf("tlsconfig: parsing leaf certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
		NextProtos:   ALPNProtocols,
	}, nil
}

// LeafFingerprintHex returns the hex-encoded SHA-256 fingerprint of the
// leaf certificate in cfg, suitable for a browser's
// serverCertificateHashes test fixture.
func LeafFingerprintHex(cfg *tls.Config) (string, error) {
	if len(cfg.Certificates) == 0 || len(cfg.Certificates[0].Certificate) == 0 {
		return "", fmt.Errorf("tlsconfig: no leaf certificate loaded")
	}
	return fingerprintHex(cfg.Certificates[0].Certificate[0]), nil
}
