package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
telegram:
  token: "123:abc"
`

func TestLoadMinimalFillsDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, minimalYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("default level = %q, want info", cfg.Logging.Level)
	}
	if len(cfg.Schedule.Slots) != 3 {
		t.Fatalf("default slots = %d, want 3", len(cfg.Schedule.Slots))
	}
	if cfg.Schedule.Timezone != "Europe/Moscow" {
		t.Fatalf("default timezone = %q", cfg.Schedule.Timezone)
	}
	want := []int{20, 30, 40, 50}
	if len(cfg.Reminder.AllowedCounts) != len(want) {
		t.Fatalf("default counts = %v, want %v", cfg.Reminder.AllowedCounts, want)
	}
	for i := range want {
		if cfg.Reminder.AllowedCounts[i] != want[i] {
			t.Fatalf("default counts = %v, want %v", cfg.Reminder.AllowedCounts, want)
		}
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit the config")
	}
}

func TestLoadFullOverrides(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, `
telegram:
  token: "123:abc"
  poll_timeout: "30s"
logging:
  level: debug
  console: true
storage:
  path: /tmp/x.db
schedule:
  timezone: UTC
  slots:
    - name: noon
      at: "12:00"
reminder:
  allowed_counts: [10, 15]
notifier:
  workers: 4
  rate_per_sec: 10
`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Schedule.Timezone != "UTC" || len(cfg.Schedule.Slots) != 1 {
		t.Fatalf("schedule not overridden: %+v", cfg.Schedule)
	}
	if cfg.Notifier.Workers != 4 || cfg.Notifier.RatePerSec != 10 {
		t.Fatalf("notifier not overridden: %+v", cfg.Notifier)
	}
	// Omitted notifier fields still come from defaults.
	if cfg.Notifier.QueueSize != 512 {
		t.Fatalf("queue_size = %d, want default 512", cfg.Notifier.QueueSize)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, `
telegram:
  token: "123:abc"
  chat_timeout: "5s"
`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
		frag   string
	}{
		{
			name:   "missing token",
			mutate: func(c *Config) { c.Telegram.Token = "" },
			frag:   "telegram.token",
		},
		{
			name:   "bad poll timeout",
			mutate: func(c *Config) { c.Telegram.PollTimeout = "soon" },
			frag:   "poll_timeout",
		},
		{
			name:   "bad timezone",
			mutate: func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
			frag:   "timezone",
		},
		{
			name:   "empty slots",
			mutate: func(c *Config) { c.Schedule.Slots = nil },
			frag:   "slots",
		},
		{
			name: "duplicate slot name",
			mutate: func(c *Config) {
				c.Schedule.Slots = append(c.Schedule.Slots, SlotConfig{Name: "morning", At: "09:00"})
			},
			frag: "duplicate",
		},
		{
			name: "bad slot time",
			mutate: func(c *Config) {
				c.Schedule.Slots = []SlotConfig{{Name: "x", At: "25:00"}}
			},
			frag: "slots[0].at",
		},
		{
			name:   "empty counts",
			mutate: func(c *Config) { c.Reminder.AllowedCounts = nil },
			frag:   "allowed_counts",
		},
		{
			name:   "non-positive count",
			mutate: func(c *Config) { c.Reminder.AllowedCounts = []int{20, 0} },
			frag:   "allowed_counts",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Telegram.Token = "123:abc"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.frag) {
				t.Fatalf("error %q does not mention %q", err, tt.frag)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{in: "08:30", hour: 8, minute: 30},
		{in: "0:00", hour: 0, minute: 0},
		{in: "23:59", hour: 23, minute: 59},
		{in: "24:00", wantErr: true},
		{in: "08:60", wantErr: true},
		{in: "0830", wantErr: true},
		{in: "", wantErr: true},
		{in: "aa:bb", wantErr: true},
	}
	for _, tt := range tests {
		h, m, err := ParseHHMM(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseHHMM(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHHMM(%q): %v", tt.in, err)
			continue
		}
		if h != tt.hour || m != tt.minute {
			t.Errorf("ParseHHMM(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.minute)
		}
	}
}

func TestReloadKeepsPreviousOnBadEdit(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, minimalYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.WriteFile(path, []byte("telegram:\n  token: \"\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())

	if got := m.Get(); got != cfg {
		t.Fatal("invalid edit replaced the committed config")
	}
}

func TestReloadPublishesToSubscribers(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, minimalYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := os.WriteFile(path, []byte(minimalYAML+"logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no config published after reload")
	}
}

func TestReloadSkipsUnchangedFile(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, minimalYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Touch without changing content.
	m.reload(context.Background())

	select {
	case <-sub:
		t.Fatal("unchanged config was republished")
	case <-time.After(100 * time.Millisecond):
	}
}
