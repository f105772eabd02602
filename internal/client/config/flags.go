package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
)

var knownFlags = []string{"-a", "-t", "-d", "-s", "-i", "-timeout", "-rate", "-log-level", "-log-format"}

// parseFlags populates Config fields from command-line flags.
//
//	-a string          server address (URL for http, host:port for grpc)
//	-t string          transport: http or grpc
//	-d string          data directory
//	-s string          storage: sqlite, badger or memory
//	-i int             online check interval in seconds
//	-timeout duration  per-request timeout
//	-rate float        remote calls per second during a drain, 0 for no limit
//	-log-level string  debug, info, warn or error
//	-log-format string text or json
//
// Unknown arguments are filtered out with flagx.FilterArgs so other
// components can parse their own flags.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("notesync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerAddr, "a", cfg.ServerAddr, "server address")
	fs.StringVar(&cfg.Transport, "t", cfg.Transport, "transport (http|grpc)")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.Storage, "s", cfg.Storage, "storage (sqlite|badger|memory)")
	interval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	fs.Float64Var(&cfg.DrainRatePerSecond, "rate", cfg.DrainRatePerSecond, "remote calls per second during a drain")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.OnlineCheckInterval = time.Duration(*interval) * time.Second
	return nil
}
