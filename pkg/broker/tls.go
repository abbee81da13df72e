package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/Veraticus/pearlsync/pkg/config"
)

// TLSConfig builds the client TLS configuration for conn. The server name
// comes from the broker host; an optional CA bundle replaces the system
// roots.
func TLSConfig(conn *config.Connection) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         conn.ServerAddress,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: conn.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed brokers
	}

	if conn.CAFile != "" {
		pem, err := os.ReadFile(conn.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read CA file: %w", config.ErrConfiguration, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", config.ErrConfiguration, conn.CAFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
