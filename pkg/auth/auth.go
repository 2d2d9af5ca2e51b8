// Package auth builds the TLS configurations used by the gateway's RPC
// listener and its clients.
package auth

import (
	"errors"
)

// TLSConfig describes the certificates of one side of a connection.
type TLSConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// CAPath verifies the peer. Clients fall back to the system pool when
	// it is empty.
	CAPath   string `mapstructure:"ca_cert"`
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
	// RequireClientAuth makes the server demand a certificate signed by
	// CAPath.
	RequireClientAuth bool   `mapstructure:"require_client_auth"`
	MinVersion        string `mapstructure:"min_version" validate:"omitempty,oneof=1.2 1.3"`
}

// ValidateServer checks the settings a listener needs.
func (c TLSConfig) ValidateServer() error {
	if !c.Enabled {
		return nil
	}
	if c.CertPath == "" || c.KeyPath == "" {
		return errors.New("certificate and key paths are required when TLS is enabled")
	}
	if c.RequireClientAuth && c.CAPath == "" {
		return errors.New("CA certificate path is required for client authentication")
	}
	return nil
}

// ValidateClient checks the settings a client needs.
func (c TLSConfig) ValidateClient() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertPath == "") != (c.KeyPath == "") {
		return errors.New("client certificate and key must be set together")
	}
	return nil
}
