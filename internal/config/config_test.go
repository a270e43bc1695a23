package config

import (
	"crypto/tls"
	"testing"
)

func TestLoadFromEnvDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "/var/db/moonstone.db")
	t.Setenv("MOONSTONE_DATABASE_PATH", "")

	cfg := LoadFromEnv()
	if cfg.DatabasePath != "/var/db/moonstone.db" {
		t.Errorf("DatabasePath = %q, want DATABASE_URL value", cfg.DatabasePath)
	}
}

func TestLoadFromEnvDatabaseURLPrecedence(t *testing.T) {
	t.Setenv("DATABASE_URL", "/var/db/primary.db")
	t.Setenv("MOONSTONE_DATABASE_PATH", "/var/db/fallback.db")

	cfg := LoadFromEnv()
	if cfg.DatabasePath != "/var/db/primary.db" {
		t.Errorf("DatabasePath = %q, DATABASE_URL must win", cfg.DatabasePath)
	}
}

func TestLoadFromEnvDatabaseFallbacks(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MOONSTONE_DATABASE_PATH", "/var/db/fallback.db")

	cfg := LoadFromEnv()
	if cfg.DatabasePath != "/var/db/fallback.db" {
		t.Errorf("DatabasePath = %q, want MOONSTONE_DATABASE_PATH value", cfg.DatabasePath)
	}

	t.Setenv("MOONSTONE_DATABASE_PATH", "")
	cfg = LoadFromEnv()
	if cfg.DatabasePath != "moonstone.db" {
		t.Errorf("DatabasePath = %q, want default", cfg.DatabasePath)
	}
}

func TestTLSServerConfigRequestsClientCert(t *testing.T) {
	cfg := &Config{}
	tlsCfg := cfg.TLSServerConfig()
	if tlsCfg.ClientAuth != tls.RequestClientCert {
		t.Errorf("ClientAuth = %v, want RequestClientCert", tlsCfg.ClientAuth)
	}
}

func TestValidateTLSPairing(t *testing.T) {
	cfg := &Config{DatabasePath: "x.db", TLSCertFile: "cert.pem"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for cert without key")
	}
	cfg.TLSKeyFile = "key.pem"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if !cfg.IsTLSEnabled() {
		t.Error("TLS should be enabled with both files set")
	}
}
