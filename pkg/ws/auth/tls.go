package auth

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
)

// TLSConfigFromEnv загружает TLS конфигурацию для wss из переменных окружения
// TLS_CA - CA сертификат в base64
// TLS_CERT - клиентский сертификат в base64
// TLS_KEY - приватный ключ в base64
//
// Если ни одна переменная не задана, возвращает nil.
func TLSConfigFromEnv() (*tls.Config, error) {
	certB64 := os.Getenv("TLS_CERT")
	keyB64 := os.Getenv("TLS_KEY")
	caB64 := os.Getenv("TLS_CA")

	if certB64 == "" && keyB64 == "" && caB64 == "" {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certB64 != "" || keyB64 != "" {
		if certB64 == "" || keyB64 == "" {
			return nil, fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
		}

		certPEM, err := base64.StdEncoding.DecodeString(certB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TLS_CERT: %w", err)
		}

		keyPEM, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TLS_KEY: %w", err)
		}

		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}

		cfg.Certificates = []tls.Certificate{cert}
	}

	if caB64 != "" {
		caPEM, err := base64.StdEncoding.DecodeString(caB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TLS_CA: %w", err)
		}

		rootCAs := x509.NewCertPool()
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		cfg.RootCAs = rootCAs
	}

	return cfg, nil
}
