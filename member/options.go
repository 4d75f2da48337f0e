package member

import (
	"time"

	"github.com/google/uuid"
)

type Option func(*Member)

func WithUniqueID(id uuid.UUID) Option {
	return func(m *Member) {
		m.uniqueID = id
	}
}

func WithSecurePort(port int) Option {
	return func(m *Member) {
		m.securePort = port
	}
}

func WithUDPPort(port int) Option {
	return func(m *Member) {
		m.udpPort = port
	}
}

func WithAliveTime(d time.Duration) Option {
	return func(m *Member) {
		m.aliveTime = d.Truncate(time.Millisecond)
	}
}

func WithPayload(payload []byte) Option {
	return func(m *Member) {
		m.payload = cloneBytes(payload)
	}
}

func WithDomain(domain []byte) Option {
	return func(m *Member) {
		m.domain = cloneBytes(domain)
	}
}

func WithCommand(command []byte) Option {
	return func(m *Member) {
		m.command = cloneBytes(command)
	}
}
