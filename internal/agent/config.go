package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Kill behaviors for blocked apps.
const (
	KillInstant = "instant"
	KillNotify  = "notify"
)

// Config is the agent's local TOML configuration. A FocusPolicy
// delivered over MDM overrides the schedule/apps/websites sections.
type Config struct {
	Schedule ScheduleConfig `toml:"schedule"`
	Apps     AppsConfig     `toml:"apps"`
	Websites WebsitesConfig `toml:"websites"`
	Hardcore HardcoreConfig `toml:"hardcore"`
}

// ScheduleConfig lists local block periods.
type ScheduleConfig struct {
	Blocks []BlockPeriod `toml:"blocks"`
}

// BlockPeriod is one local schedule window in "HH:MM" form.
type BlockPeriod struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
	Days  []int  `toml:"days,omitempty"`
}

// AppsConfig is the local app policy.
type AppsConfig struct {
	Mode    string   `toml:"mode"`
	Allowed []string `toml:"allowed"`
}

// WebsitesConfig is the local website policy.
type WebsitesConfig struct {
	Mode    string   `toml:"mode"`
	Allowed []string `toml:"allowed"`
}

// HardcoreConfig controls the anti-tamper behavior.
type HardcoreConfig struct {
	OnTamper                  string `toml:"on_tamper"`
	EmergencyDisableChallenge int    `toml:"emergency_disable_challenge"` // seconds
	LockConfig                bool   `toml:"lock_config"`
	KillBehavior              string `toml:"kill_behavior"`
}

// ConfigPath is $XDG_CONFIG_HOME/moonstone/config.toml, falling back
// through ~/.config to /etc.
func ConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".config")
		} else {
			base = "/etc"
		}
	}
	return filepath.Join(base, "moonstone", "config.toml")
}

// DefaultConfig is the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Schedule: ScheduleConfig{
			Blocks: []BlockPeriod{
				{Start: "04:00", End: "17:00"},
				{Start: "17:10", End: "03:59"},
			},
		},
		Apps: AppsConfig{
			Mode: ModeAllowlist,
			Allowed: []string{
				"com.apple.facetime",
				"com.apple.Music",
				"com.apple.Terminal",
				"com.apple.finder",
				"com.apple.systempreferences",
			},
		},
		Websites: WebsitesConfig{
			Mode: ModeAllowlist,
			Allowed: []string{
				"github.com",
				"localhost",
			},
		},
		Hardcore: HardcoreConfig{
			OnTamper:                  TamperSleep,
			EmergencyDisableChallenge: 300,
			LockConfig:                true,
			KillBehavior:              KillInstant,
		},
	}
}

// LoadConfig reads the TOML config, applying defaults for missing
// hardcore fields. A missing file returns the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	// Start from zero so an explicit empty list stays empty; defaults
	// only backfill the hardcore section.
	loaded := Config{Hardcore: cfg.Hardcore}
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if loaded.Hardcore.OnTamper == "" {
		loaded.Hardcore.OnTamper = TamperSleep
	}
	if loaded.Hardcore.EmergencyDisableChallenge == 0 {
		loaded.Hardcore.EmergencyDisableChallenge = 300
	}
	if loaded.Hardcore.KillBehavior == "" {
		loaded.Hardcore.KillBehavior = KillInstant
	}
	return loaded, nil
}

// Policy converts the local config sections into a FocusPolicy.
func (c Config) Policy() FocusPolicy {
	periods := make([]TimePeriod, 0, len(c.Schedule.Blocks))
	for _, b := range c.Schedule.Blocks {
		periods = append(periods, TimePeriod{Start: b.Start, End: b.End, Days: b.Days})
	}
	return FocusPolicy{
		Schedule: Schedule{Periods: periods},
		Apps:     AppPolicy{Mode: c.Apps.Mode, Apps: c.Apps.Allowed},
		Websites: WebsitePolicy{Mode: c.Websites.Mode, Domains: c.Websites.Allowed},
	}
}
