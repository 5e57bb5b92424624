// Package config loads node configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/logging"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/node"
)

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Node configures the P2P side.
type Node struct {
	ID            string `toml:"id"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	AdvertiseHost string `toml:"advertise_host"`
	// Anchor is "host:port" of the node to join through.
	Anchor    string `toml:"anchor"`
	Transport string `toml:"transport"`

	RecvTimeout         Duration `toml:"recv_timeout"`
	KeepAliveInterval   Duration `toml:"keepalive_interval"`
	StaleTimeout        Duration `toml:"stale_timeout"`
	JoinRetries         int      `toml:"join_retries"`
	StatsTimeout        Duration `toml:"stats_timeout"`
	TopologyTimeout     Duration `toml:"topology_timeout"`
	SolverWorkers       int      `toml:"solver_workers"`
	SolveAttemptTimeout Duration `toml:"solve_attempt_timeout"`
	FinishedTTL         Duration `toml:"finished_ttl"`
	Handicap            Duration `toml:"handicap"`
	DataDir             string   `toml:"data_dir"`
}

// HTTP configures the REST API.
type HTTP struct {
	Enabled      bool     `toml:"enabled"`
	Listen       string   `toml:"listen"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Metrics configures the Prometheus listener.
type Metrics struct {
	Enabled   bool   `toml:"enabled"`
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// Log configures logging.
type Log struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Config is the daemon configuration.
type Config struct {
	Node    Node    `toml:"node"`
	HTTP    HTTP    `toml:"http"`
	Metrics Metrics `toml:"metrics"`
	Log     Log     `toml:"log"`
}

// Default returns the default configuration.
func Default() *Config {
	nc := node.DefaultConfig()
	lo := logging.DefaultOptions()

	return &Config{
		Node: Node{
			Host:                nc.Host,
			Port:                nc.Port,
			Transport:           nc.Transport,
			RecvTimeout:         D(nc.RecvTimeout),
			KeepAliveInterval:   D(nc.KeepAliveInterval),
			StaleTimeout:        D(nc.StaleTimeout),
			JoinRetries:         nc.JoinRetries,
			StatsTimeout:        D(nc.StatsTimeout),
			TopologyTimeout:     D(nc.TopologyTimeout),
			SolverWorkers:       nc.SolverWorkers,
			SolveAttemptTimeout: D(nc.SolveAttemptTimeout),
			FinishedTTL:         D(nc.FinishedTTL),
			Handicap:            D(nc.Handicap),
		},
		HTTP: HTTP{
			Enabled:      true,
			Listen:       "0.0.0.0:8007",
			ReadTimeout:  D(10 * time.Second),
			WriteTimeout: D(15 * time.Minute),
		},
		Metrics: Metrics{
			Enabled:   false,
			Listen:    "0.0.0.0:9107",
			Namespace: "sudokumesh",
		},
		Log: Log{
			Level:      lo.Level,
			Format:     lo.Format,
			MaxSizeMB:  lo.MaxSizeMB,
			MaxBackups: lo.MaxBackups,
			MaxAgeDays: lo.MaxAgeDays,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := c.NodeConfig(); err != nil {
		return err
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http.listen is required when the API is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// NodeConfig converts the node section.
func (c *Config) NodeConfig() (node.Config, error) {
	n := c.Node
	out := node.Config{
		NodeID:              n.ID,
		Host:                n.Host,
		Port:                n.Port,
		AdvertiseHost:       n.AdvertiseHost,
		Transport:           n.Transport,
		RecvTimeout:         n.RecvTimeout.Duration,
		KeepAliveInterval:   n.KeepAliveInterval.Duration,
		StaleTimeout:        n.StaleTimeout.Duration,
		JoinRetries:         n.JoinRetries,
		StatsTimeout:        n.StatsTimeout.Duration,
		TopologyTimeout:     n.TopologyTimeout.Duration,
		SolverWorkers:       n.SolverWorkers,
		SolveAttemptTimeout: n.SolveAttemptTimeout.Duration,
		FinishedTTL:         n.FinishedTTL.Duration,
		Handicap:            n.Handicap.Duration,
		DataDir:             n.DataDir,
	}
	if n.Anchor != "" {
		anchor, err := network.ParseAddress(n.Anchor)
		if err != nil {
			return node.Config{}, fmt.Errorf("node.anchor: %w", err)
		}
		out.Anchor = anchor
	}
	if err := out.Validate(); err != nil {
		return node.Config{}, err
	}
	return out, nil
}

// LogOptions converts the log section.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
