package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the whole bot configuration. YAML files are coerced to JSON and
// decoded strictly, so unknown keys are rejected early.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Schedule ScheduleConfig `json:"schedule"`
	Reminder ReminderConfig `json:"reminder"`
	Notifier NotifierConfig `json:"notifier"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string applied as the SQLite busy_timeout.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ScheduleConfig holds the fixed reminder slot set shared by all users.
type ScheduleConfig struct {
	// Timezone is an IANA name, e.g. "Europe/Moscow". Empty means local.
	Timezone string       `json:"timezone,omitempty"`
	Slots    []SlotConfig `json:"slots"`
}

// SlotConfig is one named time-of-day, At in "HH:MM".
type SlotConfig struct {
	Name string `json:"name"`
	At   string `json:"at"`
}

type ReminderConfig struct {
	// AllowedCounts is the ordered menu of rep counts offered in a prompt.
	AllowedCounts []int `json:"allowed_counts"`
}

type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8081"
}

// Default returns the configuration the bot runs with when a section is
// omitted. The slot set and count menu mirror the classic three-a-day
// pushup schedule.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Storage:  StorageConfig{Path: "./data/repbot.db", BusyTimeout: "5s"},
		Schedule: ScheduleConfig{
			Timezone: "Europe/Moscow",
			Slots: []SlotConfig{
				{Name: "morning", At: "08:30"},
				{Name: "afternoon", At: "15:00"},
				{Name: "evening", At: "20:00"},
			},
		},
		Reminder: ReminderConfig{AllowedCounts: []int{20, 30, 40, 50}},
		Notifier: NotifierConfig{
			Workers:       2,
			QueueSize:     512,
			RatePerSec:    3,
			RetryMax:      2,
			RetryBase:     "500ms",
			RetryMaxDelay: "10s",
		},
		Ops: OpsConfig{Enabled: false, Addr: "127.0.0.1:8081"},
	}
}

// ApplyDefaults fills zero-valued sections in place.
func (c *Config) ApplyDefaults() {
	d := Default()
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = d.Telegram.PollTimeout
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = d.Logging.Level
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = d.Storage.Path
	}
	if strings.TrimSpace(c.Storage.BusyTimeout) == "" {
		c.Storage.BusyTimeout = d.Storage.BusyTimeout
	}
	if len(c.Schedule.Slots) == 0 {
		c.Schedule.Timezone = d.Schedule.Timezone
		c.Schedule.Slots = d.Schedule.Slots
	}
	if len(c.Reminder.AllowedCounts) == 0 {
		c.Reminder.AllowedCounts = d.Reminder.AllowedCounts
	}
	if c.Notifier.Workers <= 0 {
		c.Notifier.Workers = d.Notifier.Workers
	}
	if c.Notifier.QueueSize <= 0 {
		c.Notifier.QueueSize = d.Notifier.QueueSize
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = d.Notifier.RatePerSec
	}
	if c.Notifier.RetryMax < 0 {
		c.Notifier.RetryMax = 0
	}
	if strings.TrimSpace(c.Notifier.RetryBase) == "" {
		c.Notifier.RetryBase = d.Notifier.RetryBase
	}
	if strings.TrimSpace(c.Notifier.RetryMaxDelay) == "" {
		c.Notifier.RetryMaxDelay = d.Notifier.RetryMaxDelay
	}
	if strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = d.Ops.Addr
	}
}

// Validate rejects configs that cannot be run. It is also used as the
// hot-reload gate, so a bad edit never reaches running components.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	if len(c.Schedule.Slots) == 0 {
		return fmt.Errorf("schedule.slots must not be empty")
	}
	seen := make(map[string]bool, len(c.Schedule.Slots))
	for i, s := range c.Schedule.Slots {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("schedule.slots[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("schedule.slots: duplicate name %q", name)
		}
		seen[name] = true
		if _, _, err := ParseHHMM(s.At); err != nil {
			return fmt.Errorf("schedule.slots[%d].at: %w", i, err)
		}
	}
	if len(c.Reminder.AllowedCounts) == 0 {
		return fmt.Errorf("reminder.allowed_counts must not be empty")
	}
	for i, v := range c.Reminder.AllowedCounts {
		if v <= 0 {
			return fmt.Errorf("reminder.allowed_counts[%d] must be positive, got %d", i, v)
		}
	}
	if _, err := ParseDurationField("notifier.retry_base", c.Notifier.RetryBase); err != nil {
		return err
	}
	if _, err := ParseDurationField("notifier.retry_max_delay", c.Notifier.RetryMaxDelay); err != nil {
		return err
	}
	return nil
}

// AllowedSet returns the allowed counts as a sorted copy, for membership
// checks and stable menu rendering.
func (c *Config) AllowedSet() []int {
	out := append([]int(nil), c.Reminder.AllowedCounts...)
	sort.Ints(out)
	return out
}
