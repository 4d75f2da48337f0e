package mcast

import (
	"github.com/maxpoletaev/beacon/envelope"
	"github.com/maxpoletaev/beacon/member"
)

//go:generate mockgen -source=listener.go -destination=listener_mock.go -package=mcast

// MembershipListener is notified about members joining and leaving the cluster.
// Calls are made from the listener worker pool and may run concurrently when
// more than one worker is configured.
type MembershipListener interface {
	// MemberAdded is called when a heartbeat from a previously unknown member
	// is received.
	MemberAdded(m *member.Member)

	// MemberDisappeared is called when a member has announced its shutdown or
	// has been silent for longer than the drop time.
	MemberDisappeared(m *member.Member)
}

// MessageListener receives application messages broadcast by other members.
type MessageListener interface {
	// Accept filters incoming messages. Messages that are not accepted are
	// silently dropped.
	Accept(msg *envelope.Message) bool

	// MessageReceived is called for every accepted message.
	MessageReceived(msg *envelope.Message)
}

// NoopListener is a listener that ignores everything.
type NoopListener struct{}

func (NoopListener) MemberAdded(*member.Member)        {}
func (NoopListener) MemberDisappeared(*member.Member)  {}
func (NoopListener) Accept(*envelope.Message) bool     { return false }
func (NoopListener) MessageReceived(*envelope.Message) {}

// Ensure NoopListener satisfies both listener interfaces.
var (
	_ MembershipListener = NoopListener{}
	_ MessageListener    = NoopListener{}
)
