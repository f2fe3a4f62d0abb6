package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/user/dictofun-sync/util"
)

// Backend names
const (
	BackendBlueZ = "bluez"
	BackendSim   = "sim"
)

// Zero-size policy names (see fts.ParseZeroSizePolicy)
const (
	ZeroSizeSkip  = "skip"
	ZeroSizeAbort = "abort"
)

// Config controls how the client talks to the recorder and where it keeps files
type Config struct {
	// Link
	Backend        string `json:"backend"`         // Default: "bluez"
	Adapter        string `json:"adapter"`         // Default: "hci0"
	DeviceAddress  string `json:"device_address"`  // MAC for bluez, device id for sim
	NamePrefix     string `json:"name_prefix"`     // Default: "dictofun"
	RequestMTU     int    `json:"request_mtu"`     // Default: 247
	ConnectTimeout int    `json:"connect_timeout"` // Default: 20000ms

	// Protocol
	SettleDelayMs  int    `json:"settle_delay_ms"`  // Default: 1000ms before the first command
	ZeroSizePolicy string `json:"zero_size_policy"` // Default: "skip"

	// Storage
	DataDir string `json:"data_dir"` // Default: util.GetDataDir()

	// Observability
	LogLevel   string `json:"log_level"`   // Default: "INFO"
	EventsAddr string `json:"events_addr"` // Empty disables the websocket feed
}

// Default returns the settings the Android client shipped with
func Default() *Config {
	return &Config{
		Backend:        BackendBlueZ,
		Adapter:        "hci0",
		NamePrefix:     "dictofun",
		RequestMTU:     247,
		ConnectTimeout: 20000,

		SettleDelayMs:  1000,
		ZeroSizePolicy: ZeroSizeSkip,

		DataDir: util.GetDataDir(),

		LogLevel: "INFO",
	}
}

// Load reads a JSON config file over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays DICTOFUN_* environment variables
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("DICTOFUN_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("DICTOFUN_ADAPTER"); v != "" {
		c.Adapter = v
	}
	if v := os.Getenv("DICTOFUN_ADDRESS"); v != "" {
		c.DeviceAddress = v
	}
	if v := os.Getenv("DICTOFUN_ZERO_SIZE_POLICY"); v != "" {
		c.ZeroSizePolicy = v
	}
	if v := os.Getenv("DICTOFUN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DICTOFUN_EVENTS_ADDR"); v != "" {
		c.EventsAddr = v
	}
	if v := os.Getenv(util.DataDirEnv); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DICTOFUN_SETTLE_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DICTOFUN_SETTLE_DELAY_MS: %w", err)
		}
		c.SettleDelayMs = ms
	}
	return nil
}

// Validate rejects settings the client cannot run with
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendBlueZ, BackendSim:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendBlueZ, BackendSim)
	}
	switch c.ZeroSizePolicy {
	case ZeroSizeSkip, ZeroSizeAbort:
	default:
		return fmt.Errorf("unknown zero size policy %q (want %q or %q)", c.ZeroSizePolicy, ZeroSizeSkip, ZeroSizeAbort)
	}
	if c.SettleDelayMs < 0 {
		return fmt.Errorf("settle delay must not be negative, got %dms", c.SettleDelayMs)
	}
	if c.RequestMTU != 0 && (c.RequestMTU < 23 || c.RequestMTU > 517) {
		return fmt.Errorf("request MTU %d out of range [23, 517]", c.RequestMTU)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %dms", c.ConnectTimeout)
	}
	return nil
}

// SettleDelay returns the settle delay as a duration
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// ConnectTimeoutDuration returns the connect timeout as a duration
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Millisecond
}
