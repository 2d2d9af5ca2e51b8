package auth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerConfig returns the listener TLS configuration, or nil when TLS is
// disabled.
func ServerConfig(c TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion(c.MinVersion),
		CipherSuites: cipherSuites(),
	}

	if c.RequireClientAuth {
		pool, err := loadCAPool(c.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client CA pool: %w", err)
		}
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = pool
	}
	return tlsConfig, nil
}

// ClientConfig returns the dial TLS configuration, or nil when TLS is
// disabled.
func ClientConfig(c TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.ValidateClient(); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:   minVersion(c.MinVersion),
		CipherSuites: cipherSuites(),
	}

	if c.CAPath != "" {
		pool, err := loadCAPool(c.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA pool: %w", err)
		}
		tlsConfig.RootCAs = pool
	}

	if c.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", path)
	}
	return pool, nil
}

func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// cipherSuites only applies to TLS 1.2; 1.3 suites are not configurable.
func cipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}
