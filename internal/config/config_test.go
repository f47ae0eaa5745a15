package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "space.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaultsToLocalTransport(t *testing.T) {
	path := writeTempConfig(t, "space: demo\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Kind != "local" {
		t.Fatalf("expected default transport kind 'local', got %q", cfg.Transport.Kind)
	}
}

func TestLoadPreservesExplicitAMQPTransport(t *testing.T) {
	path := writeTempConfig(t, "space: demo\ntransport:\n  kind: amqp\n  amqp:\n    host: broker.internal\n    port: 5673\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Kind != "amqp" {
		t.Fatalf("expected transport kind 'amqp', got %q", cfg.Transport.Kind)
	}
	if cfg.Transport.AMQP.Host != "broker.internal" {
		t.Fatalf("expected explicit host preserved, got %q", cfg.Transport.AMQP.Host)
	}
	if cfg.Transport.AMQP.Port != 5673 {
		t.Fatalf("expected explicit port preserved, got %d", cfg.Transport.AMQP.Port)
	}
}

func TestLoadAppliesAMQPDefaultsWhenUnset(t *testing.T) {
	path := writeTempConfig(t, "space: demo\ntransport:\n  kind: amqp\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.AMQP.Host != "localhost" {
		t.Fatalf("expected default host 'localhost', got %q", cfg.Transport.AMQP.Host)
	}
	if cfg.Transport.AMQP.Port != 5672 {
		t.Fatalf("expected default port 5672, got %d", cfg.Transport.AMQP.Port)
	}
	if cfg.Transport.AMQP.Username != "guest" || cfg.Transport.AMQP.Password != "guest" {
		t.Fatalf("expected default guest/guest credentials, got %q/%q", cfg.Transport.AMQP.Username, cfg.Transport.AMQP.Password)
	}
	if cfg.Transport.AMQP.VHost != "/" {
		t.Fatalf("expected default vhost '/', got %q", cfg.Transport.AMQP.VHost)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error loading a nonexistent file")
	}
}

func TestEnvOverridesTakePrecedenceOverDefaults(t *testing.T) {
	t.Setenv("AMQP_HOST", "envhost")
	t.Setenv("AMQP_PORT", "9999")

	path := writeTempConfig(t, "space: demo\ntransport:\n  kind: amqp\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.AMQP.Host != "envhost" {
		t.Fatalf("expected env override 'envhost', got %q", cfg.Transport.AMQP.Host)
	}
	if cfg.Transport.AMQP.Port != 9999 {
		t.Fatalf("expected env override 9999, got %d", cfg.Transport.AMQP.Port)
	}
}

func TestGetEnvIntFallsBackOnUnparsable(t *testing.T) {
	t.Setenv("AMQP_PORT", "not-a-number")
	if got := GetEnvInt("PORT", 5672); got != 5672 {
		t.Fatalf("expected fallback 5672, got %d", got)
	}
}

func TestGetEnvDurationFallsBackOnUnparsable(t *testing.T) {
	t.Setenv("AMQP_RECONNECT_MIN", "not-a-duration")
	if got := GetEnvDuration("RECONNECT_MIN", 0); got != 0 {
		t.Fatalf("expected fallback 0, got %v", got)
	}
}
