package mcast

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// groupConn is the subset of multicast controls shared by ipv4 and ipv6
// packet connections.
type groupConn interface {
	JoinGroup(ifi *net.Interface, group net.Addr) error
	LeaveGroup(ifi *net.Interface, group net.Addr) error
	SetMulticastLoopback(on bool) error
	SetMulticastInterface(ifi *net.Interface) error
	setTTL(ttl int) error
}

type ipv4Group struct {
	*ipv4.PacketConn
}

func (g ipv4Group) setTTL(ttl int) error {
	return g.SetMulticastTTL(ttl)
}

type ipv6Group struct {
	*ipv6.PacketConn
}

func (g ipv6Group) setTTL(hops int) error {
	return g.SetMulticastHopLimit(hops)
}

func newGroupConn(conn net.PacketConn, network string) groupConn {
	if network == "udp6" {
		return ipv6Group{ipv6.NewPacketConn(conn)}
	}

	return ipv4Group{ipv4.NewPacketConn(conn)}
}
