package mcast

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Socket is the datagram endpoint used by the transport. Send may be called
// concurrently with Receive, but neither is called concurrently with itself.
type Socket interface {
	// Join subscribes the socket to the multicast group.
	Join() error

	// Leave unsubscribes the socket from the multicast group.
	Leave() error

	// Send writes a single datagram to the multicast group.
	Send(data []byte) error

	// Receive reads a single datagram into buf. It fails with an error wrapping
	// os.ErrDeadlineExceeded once the read deadline has passed.
	Receive(buf []byte) (int, error)

	// SetReadDeadline sets the deadline for subsequent Receive calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket. Blocked Receive calls return immediately.
	Close() error
}

// SocketFactory opens a new socket for the given configuration.
type SocketFactory func(conf *Config) (Socket, error)

var bindFallbackLogged atomic.Bool

type udpSocket struct {
	conn  *net.UDPConn
	gconn groupConn
	group *net.UDPAddr
	iface *net.Interface
}

// OpenSocket opens a multicast UDP socket. The socket is bound to the group
// address, or to the port alone on platforms that do not allow binding to
// a multicast address. Several sockets may be bound to the same port, so that
// more than one node can run on a host.
func OpenSocket(conf *Config) (Socket, error) {
	logger := conf.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	groupIP := net.ParseIP(conf.Group)
	if groupIP == nil {
		return nil, fmt.Errorf("%w: invalid group address %q", ErrInvalidConfig, conf.Group)
	}

	network := "udp4"
	if groupIP.To4() == nil {
		network = "udp6"
	}

	var iface *net.Interface

	if conf.BindAddr != "" {
		ifi, err := interfaceByIP(net.ParseIP(conf.BindAddr))
		if err != nil {
			return nil, err
		}

		iface = ifi
	}

	lc := net.ListenConfig{Control: reuseAddr}
	port := strconv.Itoa(conf.Port)

	pc, err := lc.ListenPacket(context.Background(), network, net.JoinHostPort(conf.Group, port))
	if err != nil {
		lvl := level.Debug
		if bindFallbackLogged.CompareAndSwap(false, true) {
			lvl = level.Info
		}

		lvl(logger).Log("msg", "unable to bind to multicast address, binding to port only", "group", conf.Group, "err", err)

		pc, err = lc.ListenPacket(context.Background(), network, net.JoinHostPort("", port))
		if err != nil {
			return nil, fmt.Errorf("failed to listen udp port %d: %w", conf.Port, err)
		}
	}

	conn := pc.(*net.UDPConn)
	s := &udpSocket{
		conn:  conn,
		gconn: newGroupConn(conn, network),
		group: &net.UDPAddr{IP: groupIP, Port: conf.Port},
		iface: iface,
	}

	if err := s.configure(conf); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *udpSocket) configure(conf *Config) error {
	if err := s.gconn.SetMulticastLoopback(conf.Loopback); err != nil {
		return fmt.Errorf("failed to set multicast loopback: %w", err)
	}

	if conf.TTL > 0 {
		if err := s.gconn.setTTL(conf.TTL); err != nil {
			return fmt.Errorf("failed to set multicast ttl: %w", err)
		}
	}

	if s.iface != nil {
		if err := s.gconn.SetMulticastInterface(s.iface); err != nil {
			return fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}

	return nil
}

func (s *udpSocket) Join() error {
	if err := s.gconn.JoinGroup(s.iface, s.group); err != nil {
		return fmt.Errorf("failed to join multicast group %s: %w", s.group, err)
	}

	return nil
}

func (s *udpSocket) Leave() error {
	if err := s.gconn.LeaveGroup(s.iface, s.group); err != nil {
		return fmt.Errorf("failed to leave multicast group %s: %w", s.group, err)
	}

	return nil
}

func (s *udpSocket) Send(data []byte) error {
	_, err := s.conn.WriteToUDP(data, s.group)
	return err
}

func (s *udpSocket) Receive(buf []byte) (int, error) {
	n, _, err := s.conn.ReadFromUDP(buf)
	return n, err
}

func (s *udpSocket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}

func interfaceByIP(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}

	return nil, fmt.Errorf("no network interface has address %s", ip)
}
