package member

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"
)

// CommandShutdown is the command a node puts into its last heartbeat when it
// leaves the cluster cleanly. Peers remove such a node without waiting for it
// to expire.
var CommandShutdown = []byte("shutdown")

// Key identifies a member. Two members with the same key are the same node,
// regardless of their alive time, payload, domain or command.
type Key struct {
	Host     string
	Port     int
	UniqueID uuid.UUID
}

func (k Key) String() string {
	host := net.IP(k.Host).String()
	return net.JoinHostPort(host, strconv.Itoa(k.Port)) + "/" + k.UniqueID.String()
}

// Member describes a single cluster node. A Member is never modified after it has
// been built: the With* methods return an updated copy, so a member obtained from
// the membership table can be held onto without synchronization.
type Member struct {
	host       []byte
	port       int
	securePort int
	udpPort    int
	aliveTime  time.Duration
	uniqueID   uuid.UUID
	payload    []byte
	command    []byte
	domain     []byte

	// Encoded frame, nil until the first Encode.
	encoded atomic.Pointer[[]byte]
}

// New creates a member listening on the given host and port. A random unique id
// is generated unless WithUniqueID is given. Secure and UDP ports are -1 (not
// used) by default.
func New(host net.IP, port int, opts ...Option) *Member {
	if v4 := host.To4(); v4 != nil {
		host = v4
	}

	m := &Member{
		host:       cloneBytes(host),
		port:       port,
		securePort: -1,
		udpPort:    -1,
		uniqueID:   uuid.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// cloneBytes copies b, returning nil for empty input so that unset and empty
// fields are indistinguishable, same as on the wire.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return bytes.Clone(b)
}

func (m *Member) clone() *Member {
	return &Member{
		host:       m.host,
		port:       m.port,
		securePort: m.securePort,
		udpPort:    m.udpPort,
		aliveTime:  m.aliveTime,
		uniqueID:   m.uniqueID,
		payload:    m.payload,
		command:    m.command,
		domain:     m.domain,
	}
}

// Accessors of byte fields return copies. The member keeps its encoded form
// cached, so its own bytes are never handed out.
func (m *Member) Host() net.IP             { return net.IP(cloneBytes(m.host)) }
func (m *Member) Port() int                { return m.port }
func (m *Member) SecurePort() int          { return m.securePort }
func (m *Member) UDPPort() int             { return m.udpPort }
func (m *Member) AliveTime() time.Duration { return m.aliveTime }
func (m *Member) UniqueID() uuid.UUID      { return m.uniqueID }
func (m *Member) Payload() []byte          { return cloneBytes(m.payload) }
func (m *Member) Command() []byte          { return cloneBytes(m.command) }
func (m *Member) Domain() []byte           { return cloneBytes(m.domain) }

// Addr returns the TCP address of the member.
func (m *Member) Addr() netip.AddrPort {
	addr, _ := netip.AddrFromSlice(m.host)
	return netip.AddrPortFrom(addr.Unmap(), uint16(m.port))
}

// Key returns the identity of the member.
func (m *Member) Key() Key {
	return Key{
		Host:     string(m.host),
		Port:     m.port,
		UniqueID: m.uniqueID,
	}
}

// Equal reports whether both members denote the same node.
func (m *Member) Equal(other *Member) bool {
	if m == nil || other == nil {
		return m == other
	}

	return m.port == other.port &&
		m.uniqueID == other.uniqueID &&
		bytes.Equal(m.host, other.host)
}

// Hash64 returns a 64-bit hash of the member identity.
func (m *Member) Hash64() uint64 {
	buf := make([]byte, 0, len(m.host)+4+len(m.uniqueID))
	buf = append(buf, m.host...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(m.port))
	buf = append(buf, m.uniqueID[:]...)

	return murmur3.Sum64(buf)
}

// IsShutdown reports whether the member announces that it is leaving.
func (m *Member) IsShutdown() bool {
	return bytes.Equal(m.command, CommandShutdown)
}

// WithAliveTime returns a copy of the member with the given alive time.
func (m *Member) WithAliveTime(d time.Duration) *Member {
	c := m.clone()
	c.aliveTime = d.Truncate(time.Millisecond)

	return c
}

// WithPayload returns a copy of the member carrying a copy of the given payload.
func (m *Member) WithPayload(payload []byte) *Member {
	c := m.clone()
	c.payload = cloneBytes(payload)

	return c
}

// WithCommand returns a copy of the member carrying the given command.
func (m *Member) WithCommand(command []byte) *Member {
	c := m.clone()
	c.command = cloneBytes(command)

	return c
}

// WithDomain returns a copy of the member assigned to the given domain.
func (m *Member) WithDomain(domain []byte) *Member {
	c := m.clone()
	c.domain = cloneBytes(domain)

	return c
}

// WithStatus returns a copy of the member with the alive time, payload and
// command taken from other. This is how a fresh heartbeat of a known node is
// applied to the stored member.
func (m *Member) WithStatus(other *Member) *Member {
	c := m.clone()
	c.aliveTime = other.aliveTime
	c.payload = other.payload
	c.command = other.command

	return c
}

func (m *Member) String() string {
	return fmt.Sprintf("%s (alive=%s)", m.Key(), m.aliveTime)
}
