// Package config loads the process configuration. It is read once at startup and never
// changes afterwards; components receive copies of the sections they need.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

type Config struct {
	Listen     string `yaml:"listen"`
	MOTD       string `yaml:"motd"`
	MaxPlayers int    `yaml:"max_players"`
	TickRateHz int    `yaml:"tick_rate_hz"`

	Net      Net      `yaml:"net"`
	Bridge   Bridge   `yaml:"bridge"`
	Auth     Auth     `yaml:"auth"`
	Play     Play     `yaml:"play"`
	World    World    `yaml:"world"`
	Schedule Schedule `yaml:"schedule"`
	Log      Log      `yaml:"log"`
	Admin    Admin    `yaml:"admin"`
}

type Net struct {
	MaxFrameBytes         int     `yaml:"max_frame_bytes"`
	MaxUncompressedBytes  int     `yaml:"max_uncompressed_bytes"`
	CompressionThreshold  int     `yaml:"compression_threshold"` // -1 disables compression
	MaxPendingConnections int     `yaml:"max_pending_connections"`
	AcceptRatePerIP       float64 `yaml:"accept_rate_per_ip"` // 0 disables the limiter
	AcceptBurstPerIP      int     `yaml:"accept_burst_per_ip"`
	LoginTimeoutMs        int     `yaml:"login_timeout_ms"`
	ReadTimeoutMs         int     `yaml:"read_timeout_ms"`
	WriteTimeoutMs        int     `yaml:"write_timeout_ms"`
}

func (n Net) LoginTimeout() time.Duration { return ms(n.LoginTimeoutMs) }
func (n Net) ReadTimeout() time.Duration  { return ms(n.ReadTimeoutMs) }
func (n Net) WriteTimeout() time.Duration { return ms(n.WriteTimeoutMs) }

type Bridge struct {
	InboundCapacity  int `yaml:"inbound_capacity"`
	// OutboundCapacity counts ticks: each flush queues at most one batch per connection.
	OutboundCapacity int `yaml:"outbound_capacity"`
}

const (
	AuthOffline = "offline"
	AuthOnline  = "online"
)

type Auth struct {
	Mode          string `yaml:"mode"`
	SessionServer string `yaml:"session_server"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	KeyBits       int    `yaml:"key_bits"`
}

func (a Auth) Timeout() time.Duration { return ms(a.TimeoutMs) }

type Play struct {
	// IgnoredPacketIDs are Play packet ids that are dropped silently instead of being treated
	// as a protocol violation when the server does not know them.
	IgnoredPacketIDs       []int32 `yaml:"ignored_packet_ids"`
	ViewDistance           int     `yaml:"view_distance"`
	KeepAliveIntervalTicks int     `yaml:"keepalive_interval_ticks"`
	KeepAliveTimeoutTicks  int     `yaml:"keepalive_timeout_ticks"`
	MaxMovePerTick         float64 `yaml:"max_move_per_tick"`
}

// Ignored reports whether an unknown Play packet id is on the allow-list.
func (p Play) Ignored(id int32) bool {
	for _, v := range p.IgnoredPacketIDs {
		if v == id {
			return true
		}
	}
	return false
}

type World struct {
	Seed          int64  `yaml:"seed"`
	Height        int    `yaml:"height"`
	ChunkDB       string `yaml:"chunk_db"`    // empty: chunks live in memory only
	JournalDir    string `yaml:"journal_dir"` // empty: no tick journal
	LoaderWorkers int    `yaml:"loader_workers"`
}

type Schedule struct {
	Workers int `yaml:"workers"` // 0: GOMAXPROCS
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Admin struct {
	HTTPAddr string `yaml:"http_addr"` // empty: no admin HTTP server
}

// TickPeriod is the wall-clock length of one tick.
func (c Config) TickPeriod() time.Duration {
	if c.TickRateHz <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(c.TickRateHz)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Defaults is the configuration used when no file is given.
func Defaults() Config {
	return Config{
		Listen:     ":25565",
		MOTD:       "A voxelgate server",
		MaxPlayers: 100,
		TickRateHz: 20,
		Net: Net{
			MaxFrameBytes:         2 << 20,
			MaxUncompressedBytes:  8 << 20,
			CompressionThreshold:  256,
			MaxPendingConnections: 256,
			AcceptRatePerIP:       4,
			AcceptBurstPerIP:      8,
			LoginTimeoutMs:        10_000,
			ReadTimeoutMs:         30_000,
			WriteTimeoutMs:        10_000,
		},
		Bridge: Bridge{
			InboundCapacity:  4096,
			OutboundCapacity: 100,
		},
		Auth: Auth{
			Mode:          AuthOffline,
			SessionServer: "https://sessionserver.mojang.com",
			TimeoutMs:     5_000,
			KeyBits:       1024,
		},
		Play: Play{
			ViewDistance:           4,
			KeepAliveIntervalTicks: 200,
			KeepAliveTimeoutTicks:  600,
			MaxMovePerTick:         10,
		},
		World: World{
			Seed:          1337,
			Height:        64,
			LoaderWorkers: 2,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(b)
}

// Parse validates raw YAML against the embedded schema and decodes it over the defaults.
func Parse(raw []byte) (Config, error) {
	cfg := Defaults()
	if err := validateSchema(raw); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

var schema = jsonschema.MustCompileString("config.schema.json", schemaJSON)

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees the value types it expects.
	j, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config must be a mapping with string keys: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(j))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// Normalize fills fields left at zero.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	d := Defaults()
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = d.Listen
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = d.MaxPlayers
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = d.TickRateHz
	}
	if c.Net.MaxFrameBytes <= 0 {
		c.Net.MaxFrameBytes = d.Net.MaxFrameBytes
	}
	if c.Net.MaxUncompressedBytes <= 0 {
		c.Net.MaxUncompressedBytes = d.Net.MaxUncompressedBytes
	}
	if c.Net.MaxPendingConnections <= 0 {
		c.Net.MaxPendingConnections = d.Net.MaxPendingConnections
	}
	if c.Net.AcceptBurstPerIP <= 0 {
		c.Net.AcceptBurstPerIP = d.Net.AcceptBurstPerIP
	}
	if c.Net.LoginTimeoutMs <= 0 {
		c.Net.LoginTimeoutMs = d.Net.LoginTimeoutMs
	}
	if c.Net.ReadTimeoutMs <= 0 {
		c.Net.ReadTimeoutMs = d.Net.ReadTimeoutMs
	}
	if c.Net.WriteTimeoutMs <= 0 {
		c.Net.WriteTimeoutMs = d.Net.WriteTimeoutMs
	}
	if c.Bridge.InboundCapacity <= 0 {
		c.Bridge.InboundCapacity = d.Bridge.InboundCapacity
	}
	if c.Bridge.OutboundCapacity <= 0 {
		c.Bridge.OutboundCapacity = d.Bridge.OutboundCapacity
	}
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = d.Auth.Mode
	}
	if c.Auth.TimeoutMs <= 0 {
		c.Auth.TimeoutMs = d.Auth.TimeoutMs
	}
	if c.Auth.KeyBits <= 0 {
		c.Auth.KeyBits = d.Auth.KeyBits
	}
	if c.Play.ViewDistance <= 0 {
		c.Play.ViewDistance = d.Play.ViewDistance
	}
	if c.Play.KeepAliveIntervalTicks <= 0 {
		c.Play.KeepAliveIntervalTicks = d.Play.KeepAliveIntervalTicks
	}
	if c.Play.KeepAliveTimeoutTicks <= 0 {
		c.Play.KeepAliveTimeoutTicks = d.Play.KeepAliveTimeoutTicks
	}
	if c.Play.MaxMovePerTick <= 0 {
		c.Play.MaxMovePerTick = d.Play.MaxMovePerTick
	}
	if c.World.Height <= 0 {
		c.World.Height = d.World.Height
	}
	if c.World.LoaderWorkers <= 0 {
		c.World.LoaderWorkers = d.World.LoaderWorkers
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate checks cross-field constraints the schema cannot express.
func (c Config) Validate() error {
	if c.Net.MaxUncompressedBytes < c.Net.MaxFrameBytes {
		return fmt.Errorf("net.max_uncompressed_bytes must be >= net.max_frame_bytes")
	}
	if c.Net.CompressionThreshold < -1 {
		return fmt.Errorf("net.compression_threshold must be >= -1")
	}
	if c.Net.CompressionThreshold >= c.Net.MaxFrameBytes {
		return fmt.Errorf("net.compression_threshold must be < net.max_frame_bytes")
	}
	switch c.Auth.Mode {
	case AuthOffline:
	case AuthOnline:
		if strings.TrimSpace(c.Auth.SessionServer) == "" {
			return fmt.Errorf("auth.session_server is required in online mode")
		}
	default:
		return fmt.Errorf("auth.mode must be offline or online, got %q", c.Auth.Mode)
	}
	if c.Play.KeepAliveTimeoutTicks <= c.Play.KeepAliveIntervalTicks {
		return fmt.Errorf("play.keepalive_timeout_ticks must be > play.keepalive_interval_ticks")
	}
	for _, id := range c.Play.IgnoredPacketIDs {
		if id < 0 {
			return fmt.Errorf("play.ignored_packet_ids must be >= 0, got %d", id)
		}
	}
	if c.World.Height%16 != 0 || c.World.Height > 256 {
		return fmt.Errorf("world.height must be a multiple of 16 and <= 256")
	}
	return nil
}
