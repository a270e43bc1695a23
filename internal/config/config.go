// Package config loads MDM server configuration from environment
// variables.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
)

// Config holds the MDM server configuration.
type Config struct {
	// Server settings
	ListenAddr string // Address to listen on (e.g., :9000)

	// Database. DATABASE_URL takes precedence over
	// MOONSTONE_DATABASE_PATH.
	DatabasePath string // SQLite file path

	// TLS for direct HTTPS serving; empty means plain HTTP behind a
	// terminating proxy.
	TLSCertFile string
	TLSKeyFile  string

	// Operator API
	JWTSecret string

	// Mdm-Signature verification
	VerifyMdmSignature bool
	SignatureCAFile    string // optional trust anchor PEM

	DebugMode bool
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	return &Config{
		ListenAddr:         getEnv("MOONSTONE_LISTEN_ADDR", ":9000"),
		DatabasePath:       getEnv("DATABASE_URL", getEnv("MOONSTONE_DATABASE_PATH", "moonstone.db")),
		TLSCertFile:        getEnv("MOONSTONE_TLS_CERT", ""),
		TLSKeyFile:         getEnv("MOONSTONE_TLS_KEY", ""),
		JWTSecret:          getEnv("MOONSTONE_JWT_SECRET", ""),
		VerifyMdmSignature: getEnvBool("MOONSTONE_VERIFY_MDM_SIGNATURE", false),
		SignatureCAFile:    getEnv("MOONSTONE_SIGNATURE_CA", ""),
		DebugMode:          getEnvBool("MOONSTONE_DEBUG", false),
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("MOONSTONE_DATABASE_PATH is required")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("MOONSTONE_TLS_CERT and MOONSTONE_TLS_KEY must be set together")
	}
	return nil
}

// IsTLSEnabled returns true if TLS certificates are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// TLSServerConfig returns the listener TLS configuration. Client
// certificates are requested, not required: enrolled devices present
// theirs during the handshake, while operator clients connect without
// one.
func (c *Config) TLSServerConfig() *tls.Config {
	return &tls.Config{ClientAuth: tls.RequestClientCert}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}
