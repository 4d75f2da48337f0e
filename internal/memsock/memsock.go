// Package memsock emulates a multicast group inside the process. Every datagram
// sent through a socket of a hub is delivered to all sockets of the same hub that
// have joined the group. Sockets can be made faulty or isolated to simulate
// network failures and crashed nodes.
package memsock

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const inboxSize = 1024

// ErrInjected is returned by sockets with injected faults.
var ErrInjected = errors.New("memsock: injected fault")

type Hub struct {
	mut     sync.Mutex
	sockets map[*Socket]struct{}
	opened  atomic.Int32
}

func NewHub() *Hub {
	return &Hub{
		sockets: make(map[*Socket]struct{}),
	}
}

// Open creates a new socket attached to the hub. When loopback is enabled, the
// socket receives its own datagrams.
func (h *Hub) Open(loopback bool) *Socket {
	s := &Socket{
		hub:      h,
		loopback: loopback,
		inbox:    make(chan []byte, inboxSize),
		closed:   make(chan struct{}),
	}

	h.mut.Lock()
	h.sockets[s] = struct{}{}
	h.mut.Unlock()

	h.opened.Add(1)

	return s
}

// Opened returns the total number of sockets ever opened on the hub.
func (h *Hub) Opened() int {
	return int(h.opened.Load())
}

func (h *Hub) remove(s *Socket) {
	h.mut.Lock()
	delete(h.sockets, s)
	h.mut.Unlock()
}

func (h *Hub) deliver(from *Socket, data []byte) {
	h.mut.Lock()
	defer h.mut.Unlock()

	for s := range h.sockets {
		if s == from && !s.loopback {
			continue
		}

		if !s.joined.Load() || s.isolated.Load() {
			continue
		}

		// Datagrams are dropped when the receiver cannot keep up, same as UDP.
		select {
		case s.inbox <- bytes.Clone(data):
		default:
		}
	}
}

type Socket struct {
	hub      *Hub
	loopback bool
	inbox    chan []byte
	closed   chan struct{}
	once     sync.Once

	mut      sync.Mutex
	deadline time.Time

	joined      atomic.Bool
	isolated    atomic.Bool
	failSend    atomic.Bool
	failReceive atomic.Bool
	sent        atomic.Int64
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Socket) Join() error {
	if s.isClosed() {
		return net.ErrClosed
	}

	s.joined.Store(true)

	return nil
}

func (s *Socket) Leave() error {
	if s.isClosed() {
		return net.ErrClosed
	}

	s.joined.Store(false)

	return nil
}

func (s *Socket) Send(data []byte) error {
	if s.isClosed() {
		return net.ErrClosed
	}

	if s.failSend.Load() {
		return ErrInjected
	}

	s.sent.Add(1)

	if !s.isolated.Load() {
		s.hub.deliver(s, data)
	}

	return nil
}

func (s *Socket) Receive(buf []byte) (int, error) {
	if s.failReceive.Load() {
		return 0, ErrInjected
	}

	s.mut.Lock()
	deadline := s.deadline
	s.mut.Unlock()

	var timeout <-chan time.Time

	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case data := <-s.inbox:
		return copy(buf, data), nil
	case <-timeout:
		return 0, fmt.Errorf("memsock: read: %w", os.ErrDeadlineExceeded)
	case <-s.closed:
		return 0, net.ErrClosed
	}
}

func (s *Socket) SetReadDeadline(t time.Time) error {
	s.mut.Lock()
	s.deadline = t
	s.mut.Unlock()

	return nil
}

func (s *Socket) Close() error {
	closed := false

	s.once.Do(func() {
		close(s.closed)
		s.hub.remove(s)

		closed = true
	})

	if !closed {
		return net.ErrClosed
	}

	return nil
}

// Sent returns the number of datagrams successfully sent through the socket.
func (s *Socket) Sent() int {
	return int(s.sent.Load())
}

// Joined reports whether the socket is subscribed to the group.
func (s *Socket) Joined() bool {
	return s.joined.Load()
}

// Closed reports whether the socket has been closed.
func (s *Socket) Closed() bool {
	return s.isClosed()
}

// Isolate cuts the socket off the network in both directions without closing it.
func (s *Socket) Isolate(isolated bool) {
	s.isolated.Store(isolated)
}

// FailSends makes every subsequent Send return ErrInjected.
func (s *Socket) FailSends(fail bool) {
	s.failSend.Store(fail)
}

// FailReceives makes every subsequent Receive return ErrInjected.
func (s *Socket) FailReceives(fail bool) {
	s.failReceive.Store(fail)
}
