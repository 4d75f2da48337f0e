package cluster

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/maxpoletaev/beacon/member"
)

var ErrNoAddress = errors.New("no usable network address")

// StaticIdentity describes the local member with fixed values, usually taken
// from the command line.
type StaticIdentity struct {
	// Host is the address other members use to reach this node. It may be an
	// ip address or a host name. When empty or unspecified, the first non-loopback
	// address of the machine is used.
	Host string

	// Port is the main service port of the node.
	Port int

	// SecurePort and UDPPort are optional. Zero means the node has no such port.
	SecurePort int
	UDPPort    int

	Payload []byte
	Domain  []byte

	// UniqueID identifies this particular run of the node. A random one is
	// generated when not set.
	UniqueID uuid.UUID
}

func (s StaticIdentity) LocalMember() (*member.Member, error) {
	if s.Port <= 0 || s.Port > 65535 {
		return nil, fmt.Errorf("port %d is out of range", s.Port)
	}

	host, err := resolveHost(s.Host)
	if err != nil {
		return nil, err
	}

	opts := []member.Option{
		member.WithPayload(s.Payload),
		member.WithDomain(s.Domain),
	}

	if s.UniqueID != uuid.Nil {
		opts = append(opts, member.WithUniqueID(s.UniqueID))
	}

	if s.SecurePort > 0 {
		opts = append(opts, member.WithSecurePort(s.SecurePort))
	}

	if s.UDPPort > 0 {
		opts = append(opts, member.WithUDPPort(s.UDPPort))
	}

	return member.New(host, s.Port, opts...), nil
}

func resolveHost(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
		return ip, nil
	}

	if host != "" && net.ParseIP(host) == nil {
		addrs, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
		}

		for _, ip := range addrs {
			if ip.To4() != nil {
				return ip, nil
			}
		}

		if len(addrs) > 0 {
			return addrs[0], nil
		}

		return nil, fmt.Errorf("%w: %s has no addresses", ErrNoAddress, host)
	}

	return firstLocalAddr()
}

func firstLocalAddr() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list interface addresses: %w", err)
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}

		if ipnet.IP.To4() != nil {
			return ipnet.IP, nil
		}
	}

	return nil, ErrNoAddress
}
