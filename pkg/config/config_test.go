package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be fatal: %v", err)
	}
	if cfg.Server.DBPath != "" || cfg.Server.Port != 0 {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("default addr wrong: %q", cfg.Addr())
	}
}

func TestLoadYAML(t *testing.T) {
	raw := `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/soporte-db"
  shutdown_timeout: "5s"
security:
  cors:
    allowed_origins: ["https://app.example.com"]
  rate_limit:
    rps: 10
    burst: 20
  operator_keys: ["op-key"]
  signing_keys: ["signing-secret"]
logging:
  level: "debug"
limits:
  max_body_size: "64KB"
notify:
  enabled: true
  queue: 128
  preview_max: 80
  smtp:
    addr: "mail.example.com:25"
    from: "soporte@example.com"
    to: ["ops@example.com"]
repair:
  enabled: true
  cron: "*/5 * * * *"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr: %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "/tmp/soporte-db" {
		t.Fatalf("db path: %q", cfg.Server.DBPath)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 5*time.Second {
		t.Fatalf("shutdown timeout: %v", cfg.Server.ShutdownTimeout.Duration())
	}
	if cfg.Limits.MaxBodySize.Int64() != 64*1000 {
		t.Fatalf("max body size: %d", cfg.Limits.MaxBodySize.Int64())
	}
	if cfg.Security.RateLimit.RPS != 10 || cfg.Security.RateLimit.Burst != 20 {
		t.Fatalf("rate limit: %+v", cfg.Security.RateLimit)
	}
	if len(cfg.Security.OperatorKeys) != 1 || cfg.Security.OperatorKeys[0] != "op-key" {
		t.Fatalf("operator keys: %v", cfg.Security.OperatorKeys)
	}
	if !cfg.Notify.Enabled || cfg.Notify.SMTP.Addr != "mail.example.com:25" {
		t.Fatalf("notify: %+v", cfg.Notify)
	}
	if !cfg.Repair.Enabled || cfg.Repair.Cron != "*/5 * * * *" {
		t.Fatalf("repair: %+v", cfg.Repair)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SOPORTE_SERVER_ADDR", "0.0.0.0:7070")
	t.Setenv("SOPORTE_DB_PATH", "/data/soporte")
	t.Setenv("SOPORTE_OPERATOR_KEYS", "k1, k2")
	t.Setenv("SOPORTE_SIGNING_KEYS", "s1")
	t.Setenv("SOPORTE_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("SOPORTE_LOG_LEVEL", "warn")
	t.Setenv("SOPORTE_NOTIFY_SMTP_ADDR", "mail:25")
	t.Setenv("SOPORTE_REPAIR_CRON", "0 * * * *")

	cfg := &Config{}
	ApplyEnv(cfg)

	if cfg.Addr() != "0.0.0.0:7070" {
		t.Fatalf("addr: %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "/data/soporte" {
		t.Fatalf("db path: %q", cfg.Server.DBPath)
	}
	if len(cfg.Security.OperatorKeys) != 2 || cfg.Security.OperatorKeys[1] != "k2" {
		t.Fatalf("operator keys: %v", cfg.Security.OperatorKeys)
	}
	if len(cfg.Security.CORS.AllowedOrigins) != 2 {
		t.Fatalf("origins: %v", cfg.Security.CORS.AllowedOrigins)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level: %q", cfg.Logging.Level)
	}
	if !cfg.Notify.Enabled || cfg.Notify.SMTP.Addr != "mail:25" {
		t.Fatalf("notify env: %+v", cfg.Notify)
	}
	if !cfg.Repair.Enabled || cfg.Repair.Cron != "0 * * * *" {
		t.Fatalf("repair env: %+v", cfg.Repair)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cfg := &Config{}
	if err := Validate(cfg); err == nil {
		t.Fatalf("no credentials should be rejected")
	}

	cfg = &Config{}
	cfg.Security.OperatorKeys = []string{"op-key"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("operator keys alone should validate: %v", err)
	}

	cfg.Notify.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("notify without smtp settings should be rejected")
	}
}
