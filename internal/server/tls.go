package server

import (
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"github.com/muurk/otafleet/internal/logging"
)

// NewTLSConfig loads a certificate pair for serving HTTPS to devices.
// ESP-IDF's esp_https_ota negotiates TLS 1.2 or 1.3, so nothing older is
// offered.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	cfg := buildTLSConfig(cert)
	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
		zap.Any("tls_info", GetTLSInfo(cfg)),
	)
	return cfg, nil
}

// NewTLSConfigFromMemory creates a TLS configuration from PEM-encoded data.
func NewTLSConfigFromMemory(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate from memory: %w", err)
	}
	return buildTLSConfig(cert), nil
}

func buildTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		// mbedTLS on the devices supports these ECDHE suites for TLS 1.2.
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		VerifyConnection: func(cs tls.ConnectionState) error {
			logging.Debug("TLS handshake completed",
				zap.String("server_name", cs.ServerName),
				zap.String("version", tls.VersionName(cs.Version)),
				zap.String("cipher_suite", tls.CipherSuiteName(cs.CipherSuite)),
			)
			return nil
		},
	}
}

// GetTLSInfo returns human-readable TLS configuration information.
func GetTLSInfo(cfg *tls.Config) map[string]interface{} {
	names := make([]string, 0, len(cfg.CipherSuites))
	for _, id := range cfg.CipherSuites {
		names = append(names, tls.CipherSuiteName(id))
	}
	return map[string]interface{}{
		"min_version":     tls.VersionName(cfg.MinVersion),
		"cipher_suites":   names,
		"num_certs":       len(cfg.Certificates),
		"session_tickets": !cfg.SessionTicketsDisabled,
	}
}
