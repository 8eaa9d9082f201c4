package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickRateHz != 20 || cfg.TickPeriod() != 50*time.Millisecond {
		t.Fatalf("unexpected tick config: %d %v", cfg.TickRateHz, cfg.TickPeriod())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestParseOverridesAndNormalizes(t *testing.T) {
	raw := []byte(`
tick_rate_hz: 10
net:
  compression_threshold: -1
  login_timeout_ms: 2500
bridge:
  outbound_capacity: 8
play:
  ignored_packet_ids: [16, 17]
auth:
  mode: ONLINE
`)
	cfg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.TickPeriod() != 100*time.Millisecond {
		t.Fatalf("tick period %v", cfg.TickPeriod())
	}
	if cfg.Net.CompressionThreshold != -1 {
		t.Fatalf("threshold %d", cfg.Net.CompressionThreshold)
	}
	if cfg.Net.LoginTimeout() != 2500*time.Millisecond {
		t.Fatalf("login timeout %v", cfg.Net.LoginTimeout())
	}
	if cfg.Bridge.OutboundCapacity != 8 || cfg.Bridge.InboundCapacity != 4096 {
		t.Fatalf("bridge %+v", cfg.Bridge)
	}
	if !cfg.Play.Ignored(17) || cfg.Play.Ignored(18) {
		t.Fatalf("allow-list not applied: %v", cfg.Play.IgnoredPacketIDs)
	}
	if cfg.Auth.Mode != AuthOnline {
		t.Fatalf("auth mode %q", cfg.Auth.Mode)
	}
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "tick_rat_hz: 20\n",
		"wrong type":     "tick_rate_hz: fast\n",
		"bad enum":       "log:\n  level: loud\n",
		"below minimum":  "bridge:\n  inbound_capacity: 0\n",
		"nested unknown": "net:\n  max_frames: 3\n",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidateCrossField(t *testing.T) {
	cfg := Defaults()
	cfg.Play.KeepAliveTimeoutTicks = cfg.Play.KeepAliveIntervalTicks
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "keepalive") {
		t.Fatalf("expected keepalive error, got %v", err)
	}
	cfg = Defaults()
	cfg.Net.MaxUncompressedBytes = cfg.Net.MaxFrameBytes - 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected size error")
	}
	cfg = Defaults()
	cfg.World.Height = 70
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected height error")
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(p, []byte("motd: hello\nmax_players: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MOTD != "hello" || cfg.MaxPlayers != 3 {
		t.Fatalf("unexpected %+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
