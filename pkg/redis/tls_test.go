package redis

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearTLSEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"REDIS_TLS", "REDIS_CACERT", "REDIS_CERT", "REDIS_KEY", "REDIS_SERVER_NAME"} {
		t.Setenv(key, "")
	}
}

func TestTLSConfigFromEnvDisabledByDefault(t *testing.T) {
	clearTLSEnv(t)

	cfg, err := TLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil config when REDIS_TLS is unset")
	}
}

func TestTLSConfigFromEnvInvalidBool(t *testing.T) {
	clearTLSEnv(t)
	t.Setenv("REDIS_TLS", "not-bool")

	if _, err := TLSConfigFromEnv(); err == nil {
		t.Fatal("expected error for invalid REDIS_TLS")
	}
}

func TestTLSConfigFromEnvCertWithoutKey(t *testing.T) {
	clearTLSEnv(t)
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("REDIS_CERT", "/tmp/redis-client-cert.pem")

	if _, err := TLSConfigFromEnv(); err == nil {
		t.Fatal("expected error when REDIS_CERT is set without REDIS_KEY")
	}
}

func TestTLSConfigFromEnvServerName(t *testing.T) {
	clearTLSEnv(t)
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("REDIS_SERVER_NAME", "redis.internal")

	cfg, err := TLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("unexpected min tls version: %d", cfg.MinVersion)
	}
	if cfg.ServerName != "redis.internal" {
		t.Fatalf("unexpected server name: %s", cfg.ServerName)
	}
}

func TestTLSConfigFromEnvBadCACert(t *testing.T) {
	caPath := filepath.Join(t.TempDir(), "bad-ca.pem")
	if err := os.WriteFile(caPath, []byte("not-a-certificate"), 0o600); err != nil {
		t.Fatalf("write temp ca file: %v", err)
	}

	clearTLSEnv(t)
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("REDIS_CACERT", caPath)

	_, err := TLSConfigFromEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_CACERT")
	}
	if !strings.Contains(err.Error(), "REDIS_CACERT") {
		t.Fatalf("unexpected error: %v", err)
	}
}
