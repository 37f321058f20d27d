package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONSOLE_CONFIG_FILE", "")
	cfg, err := LoadConsoleConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poll.Jobs != 5*time.Second || cfg.Poll.Requests != 3*time.Second || cfg.Poll.Listings != 20*time.Second {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Poll)
	}
	if cfg.PaymentVerifyAttempts != 10 || cfg.InspectAddr != ":8090" || cfg.DriverRole != "driver" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFileOverlayThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "console.yaml")
	body := "ws_url: ws://file/ws\npoll:\n  jobs: 7s\n  messages: 2s\npayments:\n  verify_attempts: 4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONSOLE_CONFIG_FILE", path)
	t.Setenv("POLL_MESSAGES_INTERVAL", "1500ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadConsoleConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSURL != "ws://file/ws" || cfg.Poll.Jobs != 7*time.Second {
		t.Fatalf("file overlay not applied: %+v", cfg)
	}
	if cfg.Poll.Messages != 1500*time.Millisecond {
		t.Fatalf("env should win over file, got %s", cfg.Poll.Messages)
	}
	if cfg.Poll.Requests != 3*time.Second {
		t.Fatalf("keys missing from the file keep defaults, got %s", cfg.Poll.Requests)
	}
	if cfg.PaymentVerifyAttempts != 4 {
		t.Fatalf("expected 4 verify attempts, got %d", cfg.PaymentVerifyAttempts)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestInvalidValuesAreJoined(t *testing.T) {
	t.Setenv("CONSOLE_CONFIG_FILE", "")
	t.Setenv("POLL_JOBS_INTERVAL", "soon")
	t.Setenv("POLL_LISTINGS_INTERVAL", "0s")
	t.Setenv("PAYMENT_VERIFY_ATTEMPTS", "0")
	_, err := LoadConsoleConfig()
	if err == nil {
		t.Fatalf("expected errors")
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("expected joined errors, got %T", err)
	}
	if n := len(joined.Unwrap()); n != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", n, err)
	}
}
