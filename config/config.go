package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thetooth/echoprobe/packet"
)

const (
	envPrefix = "ECHOPROBE"
	// FastHost is probed when fast mode is enabled.
	FastHost = "127.0.0.1"
	// MaxCount is the largest probe count representable as a sequence number.
	MaxCount = math.MaxInt16
)

var ErrNoHost = errors.New("destination host is required")

// Config holds the options of a single probe session.
type Config struct {
	Host         string        `mapstructure:"host"`
	Count        int           `mapstructure:"count"`
	Interval     int           `mapstructure:"interval"`
	PayloadCount int           `mapstructure:"payload-count"`
	Fast         bool          `mapstructure:"fast"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Privileged   bool          `mapstructure:"privileged"`
	Interface    string        `mapstructure:"interface"`
	StatsFile    string        `mapstructure:"stats-file"`
	Metrics      string        `mapstructure:"metrics"`
	LogLevel     string        `mapstructure:"log-level"`
}

// IntervalDuration is the pause between two probes.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Flags returns the command line flag set understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("echoprobe", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.IntP("count", "c", 0, "Stop after sending count probes, 0 runs until interrupted")
	fs.IntP("interval", "i", 1, "Seconds to wait between probes (minimum 1)")
	fs.IntP("payload-count", "p", 8, fmt.Sprintf("Timestamp units per probe payload (%d-%d)", packet.MinPayloadCount, packet.MaxPayloadCount))
	fs.BoolP("fast", "f", false, "Probe "+FastHost+" without pausing between probes")
	fs.Duration("timeout", 0, "Give up waiting for a reply after this long, 0 waits forever")
	fs.Bool("privileged", false, "Use a raw ICMP socket instead of an unprivileged datagram socket")
	fs.String("interface", "", "Send probes from the address of this interface")
	fs.String("stats-file", "", "Write the final statistics as JSON to this path")
	fs.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9101")
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.String("config", "", "Path to a JSON configuration file")

	return fs
}

// Load parses args, merges them over an optional JSON file and ECHOPROBE_*
// environment variables, and validates the result.
func Load(args []string) (cfg *Config, err error) {
	fs := Flags()
	if err = fs.Parse(args); err != nil {
		return
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err = v.BindPFlags(fs); err != nil {
		return
	}
	if err = v.BindEnv("host"); err != nil {
		return
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err = v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg = &Config{}
	if err = v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if fs.NArg() > 0 {
		cfg.Host = fs.Arg(0)
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return
}

// Validate checks ranges and applies the fast mode and minimum interval rules.
func (c *Config) Validate() error {
	if c.Fast {
		c.Host = FastHost
		c.Interval = 0
	} else {
		if c.Host == "" {
			return ErrNoHost
		}
		if c.Interval < 1 {
			c.Interval = 1
		}
	}

	if c.Count < 0 || c.Count > MaxCount {
		return fmt.Errorf("count %d out of range 0-%d", c.Count, MaxCount)
	}
	if c.PayloadCount < packet.MinPayloadCount || c.PayloadCount > packet.MaxPayloadCount {
		return fmt.Errorf("payload count %d: %w", c.PayloadCount, packet.ErrPayloadCount)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout %v must not be negative", c.Timeout)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

type Interval struct {
	time.Duration
}

func (d *Interval) UnmarshalJSON(data []byte) (err error) {
	var pstr string
	err = json.Unmarshal(data, &pstr)
	if err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(pstr)
	return
}

func (d Interval) MarshalJSON() (data []byte, err error) {
	s := d.Duration.String()
	data, err = json.Marshal(s)
	return
}
