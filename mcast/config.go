package mcast

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-kit/log"
)

// MaxDatagramSize is the largest datagram the transport sends or receives.
const MaxDatagramSize = 65535

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// Group is the multicast address all cluster nodes send heartbeats to and
	// listen on. Both IPv4 and IPv6 groups are supported.
	Group string

	// Port is the UDP port of the multicast group.
	Port int

	// BindAddr is an optional local address. When set, the interface owning the
	// address is used to join the group and to send datagrams.
	BindAddr string

	// TTL is the multicast time-to-live (hop limit for IPv6). Zero leaves the
	// system default, which usually keeps the traffic within the local subnet.
	TTL int

	// ReadTimeout bounds a single socket read. It defaults to Frequency, so the
	// receiver wakes up at least once per heartbeat period to expire members
	// even when there is no traffic.
	ReadTimeout time.Duration

	// Loopback enables delivery of the node's own datagrams back to itself.
	Loopback bool

	// Frequency is the heartbeat interval.
	Frequency time.Duration

	// DropTime is how long a member may stay silent before it is removed from
	// the membership table. It must be greater than Frequency.
	DropTime time.Duration

	// RecoveryEnabled allows the transport to restart itself after
	// RecoveryCounter consecutive socket errors. Otherwise errors are only logged.
	RecoveryEnabled bool

	// RecoveryCounter is the number of consecutive errors that trigger recovery.
	RecoveryCounter int

	// RecoverySleep is the pause between failed recovery attempts.
	RecoverySleep time.Duration

	// Workers is the number of goroutines calling listeners. Listeners are never
	// called from the network goroutines.
	Workers int

	// DomainFilter drops heartbeats of members from a different domain than the
	// local one.
	DomainFilter bool

	// Logger is a go-kit logger. If not provided, the transport is silent.
	Logger log.Logger

	// SocketFactory opens the socket used by the transport. If not defined, a
	// multicast UDP socket is opened with OpenSocket.
	SocketFactory SocketFactory
}

// DefaultConfig creates a Config with reasonable default values.
func DefaultConfig() *Config {
	return &Config{
		Group:           "228.0.0.4",
		Port:            45564,
		Loopback:        true,
		Frequency:       500 * time.Millisecond,
		DropTime:        3 * time.Second,
		RecoveryEnabled: true,
		RecoveryCounter: 10,
		RecoverySleep:   5 * time.Second,
		Workers:         2,
		Logger:          log.NewNopLogger(),
		SocketFactory:   OpenSocket,
	}
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	group := net.ParseIP(c.Group)

	switch {
	case group == nil:
		return fmt.Errorf("%w: group address %q is not an ip address", ErrInvalidConfig, c.Group)
	case !group.IsMulticast():
		return fmt.Errorf("%w: group address %s is not a multicast address", ErrInvalidConfig, c.Group)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d is out of range", ErrInvalidConfig, c.Port)
	case c.BindAddr != "" && net.ParseIP(c.BindAddr) == nil:
		return fmt.Errorf("%w: bind address %q is not an ip address", ErrInvalidConfig, c.BindAddr)
	case c.TTL < 0 || c.TTL > 255:
		return fmt.Errorf("%w: ttl %d is out of range", ErrInvalidConfig, c.TTL)
	case c.Frequency <= 0:
		return fmt.Errorf("%w: frequency must be positive", ErrInvalidConfig)
	case c.DropTime <= c.Frequency:
		return fmt.Errorf("%w: drop time (%s) must exceed frequency (%s)", ErrInvalidConfig, c.DropTime, c.Frequency)
	case c.ReadTimeout < 0:
		return fmt.Errorf("%w: read timeout must not be negative", ErrInvalidConfig)
	case c.RecoveryEnabled && c.RecoveryCounter <= 0:
		return fmt.Errorf("%w: recovery counter must be positive", ErrInvalidConfig)
	case c.RecoveryEnabled && c.RecoverySleep <= 0:
		return fmt.Errorf("%w: recovery sleep must be positive", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: at least one listener worker is required", ErrInvalidConfig)
	}

	return nil
}

func (c *Config) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}

	return c.Frequency
}

// Direction selects the halves of the transport to start or stop.
type Direction uint8

const (
	Receive Direction = 1 << iota
	Send

	Both = Receive | Send
)

func (d Direction) String() string {
	switch d {
	case Receive:
		return "receive"
	case Send:
		return "send"
	case Both:
		return "both"
	default:
		return "none"
	}
}
