package mcast

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/beacon/envelope"
	"github.com/maxpoletaev/beacon/internal/memsock"
	"github.com/maxpoletaev/beacon/member"
)

const (
	testFrequency = 50 * time.Millisecond
	testDropTime  = 300 * time.Millisecond
	waitFor       = 2 * time.Second
	tick          = 5 * time.Millisecond
)

type testNode struct {
	*Transport

	mut     sync.Mutex
	sockets []*memsock.Socket
}

func (n *testNode) socket() *memsock.Socket {
	n.mut.Lock()
	defer n.mut.Unlock()

	return n.sockets[len(n.sockets)-1]
}

func (n *testNode) socketCount() int {
	n.mut.Lock()
	defer n.mut.Unlock()

	return len(n.sockets)
}

func newTestNode(t *testing.T, hub *memsock.Hub, port int, modify ...func(c *Config)) *testNode {
	t.Helper()

	node := &testNode{}

	conf := DefaultConfig()
	conf.Frequency = testFrequency
	conf.DropTime = testDropTime
	conf.RecoveryCounter = 2
	conf.RecoverySleep = 20 * time.Millisecond
	conf.SocketFactory = func(c *Config) (Socket, error) {
		sock := hub.Open(c.Loopback)

		node.mut.Lock()
		node.sockets = append(node.sockets, sock)
		node.mut.Unlock()

		return sock, nil
	}

	for _, fn := range modify {
		fn(conf)
	}

	local := member.New(net.ParseIP("10.0.0.1"), port, member.WithPayload([]byte("node")))

	tr, err := New(conf, local)
	require.NoError(t, err)

	node.Transport = tr

	t.Cleanup(func() {
		_ = tr.Stop(Both)
	})

	return node
}

type recordingListener struct {
	mut         sync.Mutex
	added       []*member.Member
	disappeared []*member.Member
	messages    []*envelope.Message
	rejectAll   bool
}

func (l *recordingListener) MemberAdded(m *member.Member) {
	l.mut.Lock()
	defer l.mut.Unlock()

	l.added = append(l.added, m)
}

func (l *recordingListener) MemberDisappeared(m *member.Member) {
	l.mut.Lock()
	defer l.mut.Unlock()

	l.disappeared = append(l.disappeared, m)
}

func (l *recordingListener) Accept(*envelope.Message) bool {
	return !l.rejectAll
}

func (l *recordingListener) MessageReceived(msg *envelope.Message) {
	l.mut.Lock()
	defer l.mut.Unlock()

	l.messages = append(l.messages, msg)
}

func (l *recordingListener) addedCount() int {
	l.mut.Lock()
	defer l.mut.Unlock()

	return len(l.added)
}

func (l *recordingListener) disappearedCount() int {
	l.mut.Lock()
	defer l.mut.Unlock()

	return len(l.disappeared)
}

func (l *recordingListener) messageCount() int {
	l.mut.Lock()
	defer l.mut.Unlock()

	return len(l.messages)
}

func knows(tr *Transport, m *member.Member) bool {
	_, ok := tr.Member(m.Key())
	return ok
}

func TestNew_InvalidConfig(t *testing.T) {
	conf := DefaultConfig()
	conf.DropTime = conf.Frequency

	_, err := New(conf, member.New(net.ParseIP("10.0.0.1"), 4000))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTransport_Discovery(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)
	b := newTestNode(t, hub, 4002)

	ctrl := gomock.NewController(t)
	listener := NewMockMembershipListener(ctrl)

	added := make(chan *member.Member, 1)
	listener.EXPECT().MemberAdded(gomock.Any()).Times(1).Do(func(m *member.Member) {
		added <- m
	})
	listener.EXPECT().MemberDisappeared(gomock.Any()).AnyTimes()

	a.SetMembershipListener(listener)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Both))

	select {
	case m := <-added:
		assert.True(t, m.Key() == b.Local().Key())
		assert.Equal(t, []byte("node"), m.Payload())
	case <-time.After(waitFor):
		t.Fatal("member was not discovered")
	}

	assert.Eventually(t, func() bool { return knows(b.Transport, a.Local()) }, 2*testFrequency+tick*4, tick)
	assert.Len(t, a.Members(), 1)

	// Own heartbeats come back through loopback, but are never recorded.
	assert.False(t, knows(a.Transport, a.Local()))
}

func TestTransport_StartWaitsForSettle(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)

	started := time.Now()
	require.NoError(t, a.Start(context.Background(), Both))
	assert.GreaterOrEqual(t, time.Since(started), 2*testFrequency)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newTestNode(t, hub, 4002)

	started = time.Now()
	require.NoError(t, b.Start(ctx, Both))
	assert.Less(t, time.Since(started), 2*testFrequency)
}

func TestTransport_ShutdownRemovesImmediately(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)
	b := newTestNode(t, hub, 4002)

	listener := &recordingListener{}
	a.SetMembershipListener(listener)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Both))
	require.Eventually(t, func() bool { return knows(a.Transport, b.Local()) }, waitFor, tick)

	stoppedAt := time.Now()
	require.NoError(t, b.Stop(Both))

	require.Eventually(t, func() bool { return listener.disappearedCount() == 1 }, waitFor, tick)
	assert.Less(t, time.Since(stoppedAt), testDropTime)
	assert.False(t, knows(a.Transport, b.Local()))

	listener.mut.Lock()
	assert.True(t, listener.disappeared[0].IsShutdown())
	listener.mut.Unlock()
}

func TestTransport_CrashedMemberExpires(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)
	b := newTestNode(t, hub, 4002)

	listener := &recordingListener{}
	a.SetMembershipListener(listener)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Both))
	require.Eventually(t, func() bool { return knows(a.Transport, b.Local()) }, waitFor, tick)

	crashedAt := time.Now()
	b.socket().Isolate(true)

	require.Eventually(t, func() bool { return listener.disappearedCount() == 1 }, waitFor, tick)

	elapsed := time.Since(crashedAt)
	assert.GreaterOrEqual(t, elapsed, testDropTime-testFrequency)
	assert.Less(t, elapsed, testDropTime+4*testFrequency)
	assert.False(t, knows(a.Transport, b.Local()))

	listener.mut.Lock()
	assert.False(t, listener.disappeared[0].IsShutdown())
	listener.mut.Unlock()

	// The member comes back once it is reachable again.
	b.socket().Isolate(false)
	require.Eventually(t, func() bool { return knows(a.Transport, b.Local()) }, waitFor, tick)
	assert.Equal(t, 2, listener.addedCount())
}

func TestTransport_StatusUpdates(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)
	b := newTestNode(t, hub, 4002)

	listener := &recordingListener{}
	a.SetMembershipListener(listener)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Both))
	require.Eventually(t, func() bool { return knows(a.Transport, b.Local()) }, waitFor, tick)

	require.NoError(t, b.UpdateLocal(func(m *member.Member) *member.Member {
		return m.WithPayload([]byte("updated"))
	}))

	require.Eventually(t, func() bool {
		m, ok := a.Member(b.Local().Key())
		return ok && bytes.Equal(m.Payload(), []byte("updated"))
	}, waitFor, tick)

	m, _ := a.Member(b.Local().Key())
	assert.Greater(t, m.AliveTime(), time.Duration(0))

	// Updates of a known member are not reported as joins.
	assert.Equal(t, 1, listener.addedCount())
}

func TestTransport_UpdateLocalKeyChange(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)

	err := a.UpdateLocal(func(m *member.Member) *member.Member {
		return member.New(net.ParseIP("10.0.0.2"), 4001)
	})

	require.ErrorIs(t, err, ErrKeyChanged)
}

func TestTransport_DomainFilter(t *testing.T) {
	hub := memsock.NewHub()

	filter := func(c *Config) { c.DomainFilter = true }
	a := newTestNode(t, hub, 4001, filter)
	b := newTestNode(t, hub, 4002)
	c := newTestNode(t, hub, 4003)

	require.NoError(t, a.UpdateLocal(func(m *member.Member) *member.Member {
		return m.WithDomain([]byte("blue"))
	}))

	require.NoError(t, b.UpdateLocal(func(m *member.Member) *member.Member {
		return m.WithDomain([]byte("blue"))
	}))

	require.NoError(t, c.UpdateLocal(func(m *member.Member) *member.Member {
		return m.WithDomain([]byte("green"))
	}))

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Both))
	require.NoError(t, c.Start(ctx, Both))

	require.Eventually(t, func() bool { return knows(a.Transport, b.Local()) }, waitFor, tick)
	require.Eventually(t, func() bool { return knows(c.Transport, a.Local()) }, waitFor, tick)
	assert.False(t, knows(a.Transport, c.Local()))
}

func TestTransport_Messages(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)
	b := newTestNode(t, hub, 4002)

	listenerA := &recordingListener{}
	listenerB := &recordingListener{}
	a.SetMessageListener(listenerA)
	b.SetMessageListener(listenerB)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Both))

	data, err := envelope.Encode(&envelope.Message{Source: a.Local(), Payload: []byte("hello")})
	require.NoError(t, err)
	require.NoError(t, a.Send(false, data))

	require.Eventually(t, func() bool { return listenerB.messageCount() == 1 }, waitFor, tick)

	listenerB.mut.Lock()
	msg := listenerB.messages[0]
	listenerB.mut.Unlock()

	assert.Equal(t, []byte("hello"), msg.Payload)
	assert.True(t, msg.Source.Key() == a.Local().Key())

	// The sender never sees its own messages, even with loopback enabled.
	time.Sleep(2 * testFrequency)
	assert.Zero(t, listenerA.messageCount())
}

func TestTransport_MessagesNotAccepted(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)
	b := newTestNode(t, hub, 4002)

	ctrl := gomock.NewController(t)
	listener := NewMockMessageListener(ctrl)

	accepted := make(chan struct{}, 1)
	listener.EXPECT().Accept(gomock.Any()).Return(false).Do(func(*envelope.Message) {
		accepted <- struct{}{}
	})
	listener.EXPECT().MessageReceived(gomock.Any()).Times(0)

	b.SetMessageListener(listener)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Receive))

	data, err := envelope.Encode(&envelope.Message{Source: a.Local(), Payload: []byte("ignored")})
	require.NoError(t, err)
	require.NoError(t, a.Send(false, data))

	select {
	case <-accepted:
	case <-time.After(waitFor):
		t.Fatal("message was not offered to the listener")
	}
}

func TestTransport_MalformedDatagramsDropped(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)

	listener := &recordingListener{}
	a.SetMembershipListener(listener)
	a.SetMessageListener(listener)

	require.NoError(t, a.Start(context.Background(), Receive))

	raw := hub.Open(false)
	require.NoError(t, raw.Join())

	frame, err := member.New(net.ParseIP("10.0.0.9"), 4009).Encode()
	require.NoError(t, err)

	require.NoError(t, raw.Send([]byte("garbage")))
	require.NoError(t, raw.Send(frame[:len(frame)-3]))
	require.NoError(t, raw.Send(append([]byte("FLT2002"), 0xff, 0xff)))

	time.Sleep(2 * testFrequency)
	assert.Empty(t, a.Members())
	assert.Zero(t, listener.addedCount())
	assert.Zero(t, listener.messageCount())

	// The receiver is still healthy.
	require.NoError(t, raw.Send(frame))
	require.Eventually(t, func() bool { return len(a.Members()) == 1 }, waitFor, tick)
}

func TestTransport_Send(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)

	t.Run("NotRunning", func(t *testing.T) {
		err := a.Send(false, []byte("data"))
		require.ErrorIs(t, err, ErrNotRunning)
	})

	require.NoError(t, a.Start(context.Background(), Both))

	t.Run("TooLarge", func(t *testing.T) {
		before := a.socket().Sent()

		err := a.Send(false, make([]byte, MaxDatagramSize+1))
		require.ErrorIs(t, err, ErrPacketTooLarge)
		assert.Equal(t, before, a.socket().Sent())
	})

	t.Run("HeartbeatCounter", func(t *testing.T) {
		before := a.SentCount()
		aliveBefore := a.Local().AliveTime()

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, a.Send(false, nil))

		assert.Greater(t, a.SentCount(), before)
		assert.Greater(t, a.Local().AliveTime(), aliveBefore)
	})

	t.Run("PayloadDoesNotCount", func(t *testing.T) {
		require.NoError(t, a.Stop(Send))

		before := a.SentCount()
		require.NoError(t, a.Send(false, []byte("data")))
		assert.Equal(t, before, a.SentCount())
	})
}

func TestTransport_StopDirections(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	assert.Equal(t, Both, a.Running())

	sock := a.socket()
	assert.True(t, sock.Joined())

	require.NoError(t, a.Stop(Send))
	assert.Equal(t, Receive, a.Running())
	assert.False(t, sock.Closed())

	sent := a.SentCount()
	time.Sleep(3 * testFrequency)
	assert.Equal(t, sent, a.SentCount())

	require.NoError(t, a.Start(ctx, Send))
	assert.Equal(t, Both, a.Running())
	assert.Equal(t, 1, a.socketCount(), "socket must be reused while any half is running")

	require.NoError(t, a.Stop(Both))
	assert.Equal(t, Direction(0), a.Running())
	assert.True(t, sock.Closed())
	assert.False(t, sock.Joined())

	// Stopping again is a no-op.
	require.NoError(t, a.Stop(Both))

	// A new socket is opened for the next start.
	require.NoError(t, a.Start(ctx, Receive))
	assert.Equal(t, 2, a.socketCount())
}

func TestTransport_StartSocketError(t *testing.T) {
	hub := memsock.NewHub()

	a := newTestNode(t, hub, 4001, func(c *Config) {
		c.SocketFactory = func(*Config) (Socket, error) {
			return nil, errors.New("no such device")
		}
	})

	err := a.Start(context.Background(), Both)
	require.Error(t, err)
	assert.Equal(t, Direction(0), a.Running())
}

func TestTransport_InitialHeartbeatError(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)

	a.conf.SocketFactory = func(c *Config) (Socket, error) {
		sock := hub.Open(c.Loopback)
		sock.FailSends(true)

		a.mut.Lock()
		a.sockets = append(a.sockets, sock)
		a.mut.Unlock()

		return sock, nil
	}

	err := a.Start(context.Background(), Both)
	require.ErrorIs(t, err, memsock.ErrInjected)
	assert.Equal(t, Direction(0), a.Running())
	assert.True(t, a.socket().Closed())
}

func TestTransport_RecoversFromReceiveErrors(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)
	b := newTestNode(t, hub, 4002)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx, Both))
	require.NoError(t, b.Start(ctx, Both))

	broken := a.socket()
	broken.FailReceives(true)

	require.Eventually(t, func() bool { return a.socketCount() == 2 }, 5*time.Second, tick)
	require.Eventually(t, func() bool { return !a.recovery.inProgress() }, waitFor, tick)

	assert.True(t, broken.Closed())
	assert.Equal(t, Both, a.Running())

	// The new socket works.
	require.Eventually(t, func() bool { return knows(a.Transport, b.Local()) }, waitFor, tick)
}

func TestTransport_RecoveryDisabled(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001, func(c *Config) {
		c.RecoveryEnabled = false
	})

	require.NoError(t, a.Start(context.Background(), Both))
	a.socket().FailSends(true)

	time.Sleep(4 * errorBackoff)

	assert.Equal(t, 1, a.socketCount())
	assert.Equal(t, Both, a.Running())
}

func TestTransport_StopDuringRecovery(t *testing.T) {
	hub := memsock.NewHub()
	a := newTestNode(t, hub, 4001)

	require.NoError(t, a.Start(context.Background(), Both))
	require.NoError(t, a.Stop(Both))

	err := a.restart(Both)
	require.ErrorIs(t, err, errStoppedByOwner)
	assert.Equal(t, Direction(0), a.Running())
	assert.Equal(t, 1, a.socketCount())
}

func TestTransport_StopInterruptsRecoveryBackoff(t *testing.T) {
	hub := memsock.NewHub()

	var opened atomic.Int32

	a := newTestNode(t, hub, 4001, func(c *Config) {
		c.RecoverySleep = time.Hour
		c.SocketFactory = func(c *Config) (Socket, error) {
			if opened.Add(1) > 1 {
				return nil, errors.New("no such device")
			}

			sock := hub.Open(c.Loopback)
			sock.FailReceives(true)

			return sock, nil
		}
	})

	require.NoError(t, a.Start(context.Background(), Both))

	// Recovery is running and waiting before its next attempt.
	require.Eventually(t, func() bool { return opened.Load() >= 2 }, 5*time.Second, tick)
	require.True(t, a.recovery.inProgress())

	require.NoError(t, a.Stop(Both))
	assert.Eventually(t, func() bool { return !a.recovery.inProgress() }, time.Second, tick)
	assert.Equal(t, int32(2), opened.Load())
}
