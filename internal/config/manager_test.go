package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [100, 200]
  poll_timeout: "10s"
  bot_username: relay_bot
  app_name: app
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./relay.db
broadcast:
  rate_per_sec: 25
  base_delay: "100ms"
  cooldown_every: 30
  cooldown: "2s"
  progress_every: 50
  send_timeout: "30s"
retract:
  retention: "24h"
  workers: 2
links:
  ttl: "720h"
  cache_size: 20
  refresh: "1h"
api:
  enabled: false
`

func TestParseBytesYAML(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("config.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 200 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Broadcast.CooldownEvery != 30 || cfg.Broadcast.Cooldown != "2s" {
		t.Fatalf("broadcast = %+v", cfg.Broadcast)
	}
	if cfg.Retract.Retention != "24h" {
		t.Fatalf("retract = %+v", cfg.Retract)
	}
}

func TestParseBytesRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := validYAML + "\nsurprise: true\n"
	if _, err := ParseBytes("config.yaml", []byte(bad)); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = " " }},
		{"no owners", func(c *Config) { c.Telegram.OwnerUserIDs = nil }},
		{"negative rate", func(c *Config) { c.Broadcast.RatePerSec = -1 }},
		{"bad duration", func(c *Config) { c.Retract.Retention = "yesterday" }},
		{"negative duration", func(c *Config) { c.Broadcast.Cooldown = "-2s" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseBytes("config.yaml", []byte(validYAML))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if err := Validate(cfg); err != nil {
				t.Fatalf("baseline invalid: %v", err)
			}
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadAndGet(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, validYAML)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}
}

func TestWatchReloadsAndRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, validYAML)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- m.Watch(ctx) }()

	// Give the watcher a beat to arm before the first write.
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(validYAML, "rate_per_sec: 25", "rate_per_sec: 10", 1)
	writeConfig(t, path, updated)

	select {
	case cfg := <-ch:
		if cfg.Broadcast.RatePerSec != 10 {
			t.Fatalf("published rate = %d, want 10", cfg.Broadcast.RatePerSec)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}

	// An invalid rewrite must be rejected; the committed config stays.
	writeConfig(t, path, strings.Replace(validYAML, `token: "123:abc"`, `token: ""`, 1))
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Telegram)
	case <-time.After(600 * time.Millisecond):
	}
	if got := m.Get().Broadcast.RatePerSec; got != 10 {
		t.Fatalf("committed config changed after bad reload: rate = %d", got)
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestParseDurationRejectsNegative(t *testing.T) {
	t.Parallel()
	if _, err := ParseDuration("x", "-5s", 0); err == nil {
		t.Fatal("expected error for negative duration")
	}
	d, err := ParseDuration("x", "", 7*time.Second)
	if err != nil || d != 7*time.Second {
		t.Fatalf("fallback: d=%v err=%v", d, err)
	}
}
