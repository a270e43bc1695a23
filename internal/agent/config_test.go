package agent

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
[schedule]
blocks = [
  { start = "09:00", end = "17:00" },
  { start = "22:00", end = "06:00", days = [1, 2, 3, 4, 5] },
]

[apps]
mode = "allowlist"
allowed = ["com.apple.Terminal", "com.apple.Music"]

[websites]
mode = "allowlist"
allowed = ["github.com"]

[hardcore]
on_tamper = "shutdown"
emergency_disable_challenge = 120
lock_config = false
kill_behavior = "notify"
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if len(cfg.Schedule.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(cfg.Schedule.Blocks))
	}
	if cfg.Schedule.Blocks[1].Start != "22:00" || len(cfg.Schedule.Blocks[1].Days) != 5 {
		t.Errorf("second block = %+v", cfg.Schedule.Blocks[1])
	}
	if cfg.Apps.Mode != ModeAllowlist || len(cfg.Apps.Allowed) != 2 {
		t.Errorf("apps = %+v", cfg.Apps)
	}
	if cfg.Hardcore.OnTamper != TamperShutdown {
		t.Errorf("on_tamper = %q", cfg.Hardcore.OnTamper)
	}
	if cfg.Hardcore.EmergencyDisableChallenge != 120 {
		t.Errorf("challenge = %d", cfg.Hardcore.EmergencyDisableChallenge)
	}
	if cfg.Hardcore.KillBehavior != KillNotify {
		t.Errorf("kill_behavior = %q", cfg.Hardcore.KillBehavior)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Hardcore.OnTamper != TamperSleep {
		t.Errorf("on_tamper = %q, want sleep default", cfg.Hardcore.OnTamper)
	}
	if cfg.Hardcore.EmergencyDisableChallenge != 300 {
		t.Errorf("challenge = %d, want 300", cfg.Hardcore.EmergencyDisableChallenge)
	}
	if len(cfg.Apps.Allowed) == 0 {
		t.Error("default config should carry an app allowlist")
	}
}

func TestLoadConfigHardcoreDefaultsBackfilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	minimal := `
[apps]
mode = "blocklist"
allowed = ["com.twitter.twitter"]
`
	if err := os.WriteFile(path, []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Hardcore.OnTamper != TamperSleep {
		t.Errorf("on_tamper = %q, want backfilled sleep", cfg.Hardcore.OnTamper)
	}
	if cfg.Hardcore.EmergencyDisableChallenge != 300 {
		t.Errorf("challenge = %d, want backfilled 300", cfg.Hardcore.EmergencyDisableChallenge)
	}
	if cfg.Apps.Mode != ModeBlocklist {
		t.Errorf("mode = %q", cfg.Apps.Mode)
	}
}

func TestConfigPolicyConversion(t *testing.T) {
	cfg := DefaultConfig()
	policy := cfg.Policy()

	if len(policy.Schedule.Periods) != len(cfg.Schedule.Blocks) {
		t.Errorf("periods = %d, want %d", len(policy.Schedule.Periods), len(cfg.Schedule.Blocks))
	}
	if policy.Apps.Mode != cfg.Apps.Mode {
		t.Errorf("apps mode = %q", policy.Apps.Mode)
	}
	if policy.Websites.Mode != cfg.Websites.Mode {
		t.Errorf("websites mode = %q", policy.Websites.Mode)
	}
}
