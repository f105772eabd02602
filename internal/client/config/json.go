package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/dmitrijs2005/notesync/internal/flagx"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals may
// be strings like "3s" or integer nanoseconds. Absent keys leave the current
// value untouched.
type JsonConfig struct {
	ServerAddr          *string         `json:"server_addr"`
	Transport           *string         `json:"transport"`
	DataDir             *string         `json:"data_dir"`
	Storage             *string         `json:"storage"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	RequestTimeout      *timex.Duration `json:"request_timeout"`
	DrainRatePerSecond  *float64        `json:"drain_rate_per_second"`
	LogLevel            *string         `json:"log_level"`
	LogFormat           *string         `json:"log_format"`
}

// parseJson overlays cfg with the JSON file named by -c or -config. Without
// either flag nothing is loaded.
func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ServerAddr, jc.ServerAddr)
	setString(&cfg.Transport, jc.Transport)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.Storage, jc.Storage)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.DrainRatePerSecond != nil {
		cfg.DrainRatePerSecond = *jc.DrainRatePerSecond
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
