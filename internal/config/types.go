package config

import (
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Monitor  MonitorConfig  `json:"monitor"`
	Page     PageConfig     `json:"page"`
	Storage  StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the recipient chat. Kept as a string because it is usually
	// discovered via `usagewatch verify` and pasted verbatim.
	ChatID       string  `json:"chat_id"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// MonitorConfig controls the check cycle and what a change means.
//
// Defaults (when fields are omitted/zero):
//   - interval: 5 (minutes)
//   - track_weekly_all: true; every other track flag: false
//   - timezone: "Asia/Seoul" (report timestamps)
type MonitorConfig struct {
	// Interval between checks, in minutes.
	Interval int `json:"interval,omitempty"`

	ReporterName string `json:"reporter_name,omitempty"`

	TrackSession      *bool `json:"track_session,omitempty"`
	TrackWeeklyAll    *bool `json:"track_weekly_all,omitempty"`
	TrackWeeklySonnet *bool `json:"track_weekly_sonnet,omitempty"`
	TrackAddOn        *bool `json:"track_add_on,omitempty"`

	// ForceNotify sends a status message on every cycle, independent of
	// change detection.
	ForceNotify bool `json:"force_notify,omitempty"`

	Timezone string `json:"timezone,omitempty"`
}

// PageConfig describes where the rendered usage page comes from.
//
// Source values:
//   - "http":    GET Url (optionally with Cookie) and parse the response body
//   - "command": run Command via the shell; stdout is the rendered page
//   - "file":    read Path (useful for tests and manual dumps)
type PageConfig struct {
	Source  string `json:"source"`
	Url     string `json:"url,omitempty"`
	Cookie  string `json:"cookie,omitempty"`
	Command string `json:"command,omitempty"`
	Path    string `json:"path,omitempty"`

	// Render-wait policy: re-read until a percent sign shows up, then settle.
	WaitAttempts int    `json:"wait_attempts,omitempty"` // default 30
	WaitInterval string `json:"wait_interval,omitempty"` // default "500ms"
	SettleDelay  string `json:"settle_delay,omitempty"`  // default "3s"
	Timeout      string `json:"timeout,omitempty"`       // per-fetch, default "30s"
}

// StorageConfig controls the persistence layer (history + runtime state).
//
// Driver values: "sqlite", "file", "" or "none" (disabled).
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultIntervalMinutes = 5
	DefaultTimezone        = "Asia/Seoul"
)

// Tracking resolves the per-field enable flags with their documented defaults.
func (m MonitorConfig) Tracking() (session, weeklyAll, weeklySonnet, addOn bool) {
	b := func(p *bool, def bool) bool {
		if p == nil {
			return def
		}
		return *p
	}
	return b(m.TrackSession, false), b(m.TrackWeeklyAll, true), b(m.TrackWeeklySonnet, false), b(m.TrackAddOn, false)
}

// IntervalMinutes returns the configured interval with the default applied.
func (m MonitorConfig) IntervalMinutes() int {
	if m.Interval <= 0 {
		return DefaultIntervalMinutes
	}
	return m.Interval
}

// ParsedChatID returns the recipient chat id, or 0 when not configured.
func (t TelegramConfig) ParsedChatID() (int64, error) {
	raw := strings.TrimSpace(t.ChatID)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.chat_id: not a numeric chat id: %q", t.ChatID)
	}
	return id, nil
}
