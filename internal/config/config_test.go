package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9000
wallet:
  success_status: OK
business:
  stuck_bet_max_age_minutes: 15
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WALLETBRIDGE_SERVER_PORT", "9100")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Fatalf("port: want 9100 (env override), got %d", cfg.Server.Port)
	}
	if cfg.Wallet.SuccessStatus != "OK" {
		t.Fatalf("success status: want OK, got %q", cfg.Wallet.SuccessStatus)
	}
	if cfg.Business.StuckBetMaxAge() != 15*time.Minute {
		t.Fatalf("stuck bet max age: want 15m, got %v", cfg.Business.StuckBetMaxAge())
	}
	// 未出现在文件中的配置项保留默认值
	if cfg.Kafka.Topic.RetryJob != "wallet.retry_job" {
		t.Fatalf("retry topic default lost: %q", cfg.Kafka.Topic.RetryJob)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
