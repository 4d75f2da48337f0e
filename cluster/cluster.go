package cluster

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/beacon/envelope"
	"github.com/maxpoletaev/beacon/mcast"
	"github.com/maxpoletaev/beacon/member"
)

// Service is a facade for the multicast membership: it keeps track of the
// cluster members and lets the application exchange messages with them.
type Service struct {
	transport *mcast.Transport
	conf      *mcast.Config
}

// New creates a stopped service. The local member is obtained from the identity
// provider once, when the service is created.
func New(conf *mcast.Config, identity IdentityProvider) (*Service, error) {
	local, err := identity.LocalMember()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local member: %w", err)
	}

	transport, err := mcast.New(conf, local)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return &Service{
		transport: transport,
		conf:      conf,
	}, nil
}

// Start starts the given halves of the membership service.
func (s *Service) Start(ctx context.Context, dirs mcast.Direction) error {
	if err := s.transport.Start(ctx, dirs); err != nil {
		return fmt.Errorf("failed to start membership: %w", err)
	}

	level.Debug(s.conf.Logger).Log("msg", "membership started", "local", s.Local())

	return nil
}

// Stop stops the given halves of the membership service. The local member
// leaves the cluster once both halves are stopped.
func (s *Service) Stop(dirs mcast.Direction) error {
	return s.transport.Stop(dirs)
}

// Running reports which halves of the service are running.
func (s *Service) Running() mcast.Direction {
	return s.transport.Running()
}

func (s *Service) SetMembershipListener(l mcast.MembershipListener) {
	s.transport.SetMembershipListener(l)
}

func (s *Service) SetMessageListener(l mcast.MessageListener) {
	s.transport.SetMessageListener(l)
}

// Broadcast sends the payload to all members of the group. Delivery is best
// effort, same as for heartbeats.
func (s *Service) Broadcast(payload []byte) error {
	if len(payload) > mcast.MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", mcast.ErrPacketTooLarge, len(payload))
	}

	data, err := envelope.Encode(&envelope.Message{
		Source:  s.Local(),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return s.transport.Send(false, data)
}

// Members returns the list of other cluster members, the longest running first.
func (s *Service) Members() []*member.Member {
	return s.transport.Members()
}

// Member returns the member by its key.
func (s *Service) Member(key member.Key) (*member.Member, bool) {
	return s.transport.Member(key)
}

// HasMembers returns true if at least one other member is known.
func (s *Service) HasMembers() bool {
	return len(s.transport.Members()) > 0
}

// Local returns the member which represents the current node.
func (s *Service) Local() *member.Member {
	return s.transport.Local()
}

// SetPayload replaces the payload of the local member.
func (s *Service) SetPayload(payload []byte) error {
	return s.transport.UpdateLocal(func(m *member.Member) *member.Member {
		return m.WithPayload(payload)
	})
}

// SetDomain moves the local member to another domain.
func (s *Service) SetDomain(domain []byte) error {
	return s.transport.UpdateLocal(func(m *member.Member) *member.Member {
		return m.WithDomain(domain)
	})
}
