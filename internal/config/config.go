// ABOUTME: Runtime configuration for the live-input-to-airplay daemon
// ABOUTME: Flag-based with environment fallbacks for deployment settings
package config

import (
	"flag"
	"os"
	"time"
)

// Defaults matching the reference deployment.
const (
	DefaultListenAddr      = ":8080"
	DefaultOwnToneEndpoint = "http://127.0.0.1:3689/api"
	DefaultCoreUnit        = "owntone.service"
	DefaultPipeUnit        = "owntone-live-input.service"

	DefaultPollInterval      = 1500 * time.Millisecond
	DefaultActivationTimeout = 25 * time.Second
	DefaultOutputsTimeout    = 20 * time.Second
	DefaultPollGranularity   = 500 * time.Millisecond
	DefaultStopSettleDelay   = 500 * time.Millisecond
)

// Config holds everything the daemon needs at runtime.
type Config struct {
	ListenAddr      string
	DataDir         string
	OwnToneEndpoint string
	CoreUnit        string
	PipeUnit        string

	PollInterval      time.Duration
	ActivationTimeout time.Duration
	OutputsTimeout    time.Duration
	PollGranularity   time.Duration
	StopSettleDelay   time.Duration

	EnableMDNS bool
	Debug      bool
}

// FromFlags registers flags on fs and returns a Config populated once
// fs is parsed. Environment variables LIVE_INPUT_DATA_DIR and
// OWNTONE_ENDPOINT provide deployment defaults that flags override.
func FromFlags(fs *flag.FlagSet) *Config {
	cfg := &Config{}

	fs.StringVar(&cfg.ListenAddr, "listen", DefaultListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", envOr("LIVE_INPUT_DATA_DIR", "./data"), "directory for the defaults file")
	fs.StringVar(&cfg.OwnToneEndpoint, "owntone", envOr("OWNTONE_ENDPOINT", DefaultOwnToneEndpoint), "OwnTone API base URL")
	fs.StringVar(&cfg.CoreUnit, "core-unit", DefaultCoreUnit, "systemd unit of the audio-routing core")
	fs.StringVar(&cfg.PipeUnit, "pipe-unit", DefaultPipeUnit, "systemd unit of the input pipe")

	fs.DurationVar(&cfg.PollInterval, "poll-interval", DefaultPollInterval, "watcher poll interval")
	fs.DurationVar(&cfg.ActivationTimeout, "activation-timeout", DefaultActivationTimeout, "how long to wait for a unit to become active")
	fs.DurationVar(&cfg.OutputsTimeout, "outputs-timeout", DefaultOutputsTimeout, "how long to wait for outputs to appear after start")
	fs.DurationVar(&cfg.PollGranularity, "poll-granularity", DefaultPollGranularity, "sleep between activation/discovery polls")
	fs.DurationVar(&cfg.StopSettleDelay, "stop-settle", DefaultStopSettleDelay, "settle delay before re-polling status after stop")

	fs.BoolVar(&cfg.EnableMDNS, "mdns", true, "advertise the control API via mDNS")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
