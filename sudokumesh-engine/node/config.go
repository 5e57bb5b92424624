package node

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/network"
)

// Transport kinds.
const (
	TransportUDP = "udp"
	TransportZMQ = "zmq"
)

// Config holds node configuration.
type Config struct {
	// NodeID names this instance in logs and status. Defaults to a random UUID.
	NodeID string
	// Host and Port are the bind address of the P2P socket.
	Host string
	Port int
	// AdvertiseHost is the host peers reach this node on. Empty means the
	// bind host, or the outbound interface when binding the wildcard.
	AdvertiseHost string
	// Anchor is the node to join through. The zero Address starts a new
	// overlay.
	Anchor network.Address
	// Transport is "udp" or "zmq". Ignored when WithTransport is used.
	Transport string

	RecvTimeout       time.Duration
	KeepAliveInterval time.Duration
	// StaleTimeout drops peers not heard from for this long.
	StaleTimeout time.Duration
	// JoinRetries bounds join_req retransmissions while no answer arrived.
	JoinRetries int

	StatsTimeout    time.Duration
	TopologyTimeout time.Duration

	// SolverWorkers bounds concurrent solve attempts for remote races.
	SolverWorkers       int
	SolveAttemptTimeout time.Duration
	// FinishedTTL is how long finished race ids are remembered.
	FinishedTTL time.Duration
	// Handicap throttles validations to one per interval.
	Handicap time.Duration

	// DataDir, when set, persists the stats ledger under DataDir/ledger.
	DataDir string
}

// DefaultConfig returns default node configuration.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                5007,
		Transport:           TransportUDP,
		RecvTimeout:         3 * time.Second,
		KeepAliveInterval:   5 * time.Second,
		StaleTimeout:        15 * time.Second,
		JoinRetries:         5,
		StatsTimeout:        5 * time.Second,
		TopologyTimeout:     5 * time.Second,
		SolverWorkers:       runtime.NumCPU(),
		SolveAttemptTimeout: 10 * time.Minute,
		FinishedTTL:         10 * time.Minute,
		Handicap:            time.Millisecond,
	}
}

// Validate checks the configuration and fills the node id.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.Port < 0 || c.Port > 0xFFFF {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Transport {
	case "", TransportUDP, TransportZMQ:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"recv timeout", c.RecvTimeout},
		{"keep-alive interval", c.KeepAliveInterval},
		{"stale timeout", c.StaleTimeout},
		{"stats timeout", c.StatsTimeout},
		{"topology timeout", c.TopologyTimeout},
		{"solve attempt timeout", c.SolveAttemptTimeout},
		{"finished ttl", c.FinishedTTL},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.d)
		}
	}
	if c.StaleTimeout <= c.KeepAliveInterval {
		return errors.New("stale timeout must exceed the keep-alive interval")
	}
	if c.Handicap < 0 {
		return errors.New("handicap must not be negative")
	}
	if c.SolverWorkers <= 0 {
		c.SolverWorkers = runtime.NumCPU()
	}
	return nil
}
