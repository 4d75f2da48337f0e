package main

import (
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/beacon/envelope"
	"github.com/maxpoletaev/beacon/member"
)

// eventLogger writes membership changes and received messages to the log.
type eventLogger struct {
	logger kitlog.Logger
}

func (l *eventLogger) MemberAdded(m *member.Member) {
	level.Info(l.logger).Log("msg", "member added", "key", m.Key(), "payload", string(m.Payload()))
}

func (l *eventLogger) MemberDisappeared(m *member.Member) {
	level.Info(l.logger).Log("msg", "member disappeared", "key", m.Key(), "shutdown", m.IsShutdown())
}

func (l *eventLogger) Accept(*envelope.Message) bool {
	return true
}

func (l *eventLogger) MessageReceived(msg *envelope.Message) {
	level.Debug(l.logger).Log("msg", "message received", "from", msg.Source.Key(), "size", len(msg.Payload))
}
