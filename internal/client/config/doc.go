// Package config loads runtime configuration for the notes client.
//
// Sources and precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so they can be strings like "3s" or integer
// nanoseconds. Every key is optional:
//
//	{
//	  "server_addr": "http://127.0.0.1:8080",
//	  "transport": "http",
//	  "data_dir": "/var/lib/notesync",
//	  "storage": "sqlite",
//	  "online_check_interval": "3s",
//	  "request_timeout": "10s",
//	  "drain_rate_per_second": 5,
//	  "log_level": "info",
//	  "log_format": "text"
//	}
//
// The package does not read environment variables.
package config
