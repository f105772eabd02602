package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/store"
)

// Transports understood by Transport.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config holds runtime settings of the notes client.
//
// Durations are time.Duration values; DrainRatePerSecond of zero disables
// pacing of remote calls during a drain.
type Config struct {
	ServerAddr          string
	Transport           string
	DataDir             string
	Storage             string
	OnlineCheckInterval time.Duration
	RequestTimeout      time.Duration
	DrainRatePerSecond  float64
	LogLevel            string
	LogFormat           string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "http://127.0.0.1:8080"
	c.Transport = TransportHTTP
	c.DataDir = defaultDataDir()
	c.Storage = string(store.KindSQLite)
	c.OnlineCheckInterval = 3 * time.Second
	c.RequestTimeout = 10 * time.Second
	c.DrainRatePerSecond = 0
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// Validate rejects settings the client cannot start with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportGRPC:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	switch store.Kind(c.Storage) {
	case store.KindSQLite, store.KindBadger, store.KindMemory:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.OnlineCheckInterval <= 0 {
		return fmt.Errorf("online check interval must be positive")
	}
	if c.DrainRatePerSecond < 0 {
		return fmt.Errorf("drain rate must not be negative")
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "notesync")
	}
	return ".notesync"
}
