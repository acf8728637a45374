package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks everything that can be checked without I/O. Used both on
// initial load and before committing a hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Monitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("monitor.timezone: invalid %q: %w", tz, err)
		}
	}

	switch src := strings.ToLower(strings.TrimSpace(cfg.Page.Source)); src {
	case "", "http":
		if src == "http" && strings.TrimSpace(cfg.Page.Url) == "" {
			return fmt.Errorf("page.url is required for the http source")
		}
	case "command":
		if strings.TrimSpace(cfg.Page.Command) == "" {
			return fmt.Errorf("page.command is required for the command source")
		}
	case "file":
		if strings.TrimSpace(cfg.Page.Path) == "" {
			return fmt.Errorf("page.path is required for the file source")
		}
	default:
		return fmt.Errorf("page.source: unknown source %q", cfg.Page.Source)
	}

	for _, d := range []struct{ key, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"page.wait_interval", cfg.Page.WaitInterval},
		{"page.settle_delay", cfg.Page.SettleDelay},
		{"page.timeout", cfg.Page.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := parseDuration(d.key, d.raw); err != nil {
			return err
		}
	}

	switch drv := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); drv {
	case "", "none", "sqlite", "sqlite3", "file":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	return nil
}

// parseDuration reads a duration-typed config field. Empty means unset and
// resolves to zero; negative values are rejected.
func parseDuration(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. \"30s\", \"5m\"): %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %q is negative", key, raw)
	}
	return d, nil
}

// DurationOr resolves an optional duration field, falling back to def when
// the field is unset.
func DurationOr(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(key, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
