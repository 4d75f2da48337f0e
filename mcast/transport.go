package mcast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/beacon/envelope"
	"github.com/maxpoletaev/beacon/internal/generic"
	"github.com/maxpoletaev/beacon/internal/multierror"
	"github.com/maxpoletaev/beacon/internal/telemetry"
	"github.com/maxpoletaev/beacon/member"
	"github.com/maxpoletaev/beacon/membership"
)

// errorBackoff is the pause after a failed socket operation.
const errorBackoff = 500 * time.Millisecond

var (
	ErrPacketTooLarge = errors.New("packet too large")
	ErrNotRunning     = errors.New("transport is not running")
	ErrKeyChanged     = errors.New("local member identity cannot change")

	errStoppedByOwner = errors.New("transport stopped by owner")
)

type loop struct {
	stop chan struct{}
	done chan struct{}
}

// Transport periodically announces the local member to the multicast group and
// tracks the heartbeats of other members. Members that stay silent for longer
// than the configured drop time are removed from the membership table.
//
// The send and receive halves can be started and stopped independently. The
// socket is opened when the first half starts and closed when both are stopped.
type Transport struct {
	conf      *Config
	logger    log.Logger
	table     *membership.Table
	pool      *dispatcher
	recovery  *recovery
	startedAt time.Time

	localMut sync.Mutex
	local    generic.Atomic[*member.Member]
	sent     atomic.Int64

	mut         sync.Mutex
	sock        Socket
	joined      bool
	sender      *loop
	receiver    *loop
	userStopped bool
	stopped     chan struct{}

	sendMut   sync.Mutex
	sending   atomic.Bool
	receiving atomic.Bool

	listenersMut sync.RWMutex
	members      MembershipListener
	messages     MessageListener
}

// New creates a stopped transport announcing the given local member.
func New(conf *Config, local *member.Member) (*Transport, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if conf.Logger == nil {
		conf.Logger = log.NewNopLogger()
	}

	if conf.SocketFactory == nil {
		conf.SocketFactory = OpenSocket
	}

	logger := log.With(conf.Logger, "component", "mcast")

	t := &Transport{
		conf:      conf,
		logger:    logger,
		table:     membership.NewTable(local),
		pool:      newDispatcher(conf.Workers, logger),
		startedAt: time.Now(),
		stopped:   make(chan struct{}),
		members:   NoopListener{},
		messages:  NoopListener{},
	}

	t.local.Store(local)

	t.recovery = &recovery{
		enabled: conf.RecoveryEnabled,
		sleep:   conf.RecoverySleep,
		logger:  logger,
		running: t.Running,
		restart: t.restart,
		stopped: t.stopSignal,
	}

	return t, nil
}

// SetMembershipListener replaces the listener notified about membership changes.
func (t *Transport) SetMembershipListener(l MembershipListener) {
	if l == nil {
		l = NoopListener{}
	}

	t.listenersMut.Lock()
	t.members = l
	t.listenersMut.Unlock()
}

// SetMessageListener replaces the listener receiving application messages.
func (t *Transport) SetMessageListener(l MessageListener) {
	if l == nil {
		l = NoopListener{}
	}

	t.listenersMut.Lock()
	t.messages = l
	t.listenersMut.Unlock()
}

func (t *Transport) membershipListener() MembershipListener {
	t.listenersMut.RLock()
	defer t.listenersMut.RUnlock()

	return t.members
}

func (t *Transport) messageListener() MessageListener {
	t.listenersMut.RLock()
	defer t.listenersMut.RUnlock()

	return t.messages
}

// Local returns the current version of the local member.
func (t *Transport) Local() *member.Member {
	return t.local.Load()
}

// UpdateLocal replaces the local member with the result of fn. The new version
// is announced right away when the sender is running. The identity of the
// member (host, port and unique id) must stay the same.
func (t *Transport) UpdateLocal(fn func(m *member.Member) *member.Member) error {
	t.localMut.Lock()

	old := t.local.Load()
	updated := fn(old)

	if updated.Key() != old.Key() {
		t.localMut.Unlock()
		return ErrKeyChanged
	}

	t.local.Store(updated)
	t.localMut.Unlock()

	if t.sending.Load() {
		return t.Send(false, nil)
	}

	return nil
}

// Members returns the known members, the longest running first.
func (t *Transport) Members() []*member.Member {
	return t.table.Members()
}

// Member returns the member with the given key.
func (t *Transport) Member(key member.Key) (*member.Member, bool) {
	return t.table.Member(key)
}

// SentCount returns the number of heartbeats sent so far.
func (t *Transport) SentCount() int64 {
	return t.sent.Load()
}

// Running reports which halves of the transport are currently running.
func (t *Transport) Running() Direction {
	var dirs Direction

	if t.receiving.Load() {
		dirs |= Receive
	}

	if t.sending.Load() {
		dirs |= Send
	}

	return dirs
}

// Start starts the given halves of the transport. Halves that are already
// running are left untouched. After a successful start it waits for two
// heartbeat periods, or until ctx is done, so that the initial view of the
// cluster is populated before it returns.
func (t *Transport) Start(ctx context.Context, dirs Direction) error {
	t.mut.Lock()

	if err := t.startLocked(dirs); err != nil {
		t.mut.Unlock()
		return err
	}

	if t.userStopped {
		t.userStopped = false
		t.stopped = make(chan struct{})
	}

	t.mut.Unlock()

	level.Info(t.logger).Log("msg", "transport started", "directions", t.Running(), "group", t.conf.Group, "port", t.conf.Port)

	settle := time.NewTimer(2 * t.conf.Frequency)
	defer settle.Stop()

	select {
	case <-settle.C:
	case <-ctx.Done():
	}

	return nil
}

func (t *Transport) startLocked(dirs Direction) error {
	prev := t.Running()

	if t.sock == nil {
		sock, err := t.conf.SocketFactory(t.conf)
		if err != nil {
			return fmt.Errorf("failed to open socket: %w", err)
		}

		t.sendMut.Lock()
		t.sock = sock
		t.sendMut.Unlock()

		t.joined = false
	}

	if !t.joined {
		if err := t.sock.Join(); err != nil {
			t.abortLocked(prev)
			return fmt.Errorf("failed to join group: %w", err)
		}

		t.joined = true
	}

	t.pool.start()

	if dirs&Receive != 0 && t.receiver == nil {
		sock := t.sock

		t.receiving.Store(true)
		t.receiver = spawn(func(stop <-chan struct{}) {
			t.receiveLoop(sock, stop)
		})
	}

	if dirs&Send != 0 && t.sender == nil {
		t.sending.Store(true)

		if err := t.Send(false, nil); err != nil {
			t.sending.Store(false)
			t.abortLocked(prev)

			return fmt.Errorf("failed to send initial heartbeat: %w", err)
		}

		t.sender = spawn(t.sendLoop)
	}

	return nil
}

// abortLocked rolls back a failed start to the previously running halves.
func (t *Transport) abortLocked(prev Direction) {
	t.stopLocked(Both &^ prev)

	if prev == 0 {
		t.pool.stop()

		if err := t.closeLocked(false); err != nil {
			level.Debug(t.logger).Log("msg", "failed to close socket", "err", err)
		}
	}
}

// Stop stops the given halves of the transport. Once both halves are stopped,
// a shutdown heartbeat is sent so that other members can drop the local member
// immediately, and the socket is closed.
func (t *Transport) Stop(dirs Direction) error {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.stopLocked(dirs)

	if t.Running() != 0 {
		return nil
	}

	if !t.userStopped {
		t.userStopped = true
		close(t.stopped)
	}

	t.pool.stop()

	if err := t.closeLocked(true); err != nil {
		return err
	}

	level.Info(t.logger).Log("msg", "transport stopped")

	return nil
}

func (t *Transport) stopLocked(dirs Direction) {
	var loops []*loop

	if dirs&Send != 0 && t.sender != nil {
		t.sending.Store(false)
		close(t.sender.stop)

		loops = append(loops, t.sender)
		t.sender = nil
	}

	if dirs&Receive != 0 && t.receiver != nil {
		t.receiving.Store(false)
		close(t.receiver.stop)

		loops = append(loops, t.receiver)
		t.receiver = nil
	}

	for _, l := range loops {
		<-l.done
	}
}

func (t *Transport) closeLocked(announce bool) error {
	if t.sock == nil {
		return nil
	}

	errs := multierror.New[string]()

	if announce && t.joined {
		if err := t.sendShutdown(); err != nil {
			errs.Add("shutdown", err)
		}
	}

	if t.joined {
		if err := t.sock.Leave(); err != nil {
			errs.Add("leave", err)
		}

		t.joined = false
	}

	t.sendMut.Lock()
	sock := t.sock
	t.sock = nil
	t.sendMut.Unlock()

	if err := sock.Close(); err != nil {
		errs.Add("close", err)
	}

	return errs.Combined()
}

// stopSignal returns a channel that is closed once the owner stops both halves
// of the transport.
func (t *Transport) stopSignal() <-chan struct{} {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.stopped
}

// restart reopens the socket and starts the given halves again. It gives up
// when the owner has stopped the transport in the meantime.
func (t *Transport) restart(dirs Direction) error {
	t.mut.Lock()
	defer t.mut.Unlock()

	if t.userStopped {
		return errStoppedByOwner
	}

	t.stopLocked(Both)

	if err := t.closeLocked(false); err != nil {
		level.Debug(t.logger).Log("msg", "failed to close socket", "err", err)
	}

	return t.startLocked(dirs)
}

// Send writes a datagram to the group. A nil payload sends a fresh heartbeat of
// the local member, otherwise the payload is sent as is. When checkExpired is
// set, members that have been silent for too long are removed after sending
// a heartbeat.
func (t *Transport) Send(checkExpired bool, payload []byte) error {
	data := payload

	if payload == nil {
		var err error

		if data, err = t.heartbeat(); err != nil {
			return fmt.Errorf("failed to encode heartbeat: %w", err)
		}
	} else if len(payload) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(payload))
	}

	if err := t.write(data); err != nil {
		return err
	}

	if payload != nil {
		telemetry.MessagesSent.Inc()
		return nil
	}

	telemetry.HeartbeatsSent.Inc()

	if checkExpired {
		t.checkExpired()
	}

	return nil
}

func (t *Transport) heartbeat() ([]byte, error) {
	t.sent.Add(1)

	t.localMut.Lock()
	local := t.local.Load().WithAliveTime(time.Since(t.startedAt))
	t.local.Store(local)
	t.localMut.Unlock()

	return local.Encode()
}

func (t *Transport) sendShutdown() error {
	data, err := t.Local().WithCommand(member.CommandShutdown).Encode()
	if err != nil {
		return err
	}

	return t.write(data)
}

func (t *Transport) write(data []byte) error {
	t.sendMut.Lock()
	defer t.sendMut.Unlock()

	if t.sock == nil {
		return ErrNotRunning
	}

	if err := t.sock.Send(data); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}

	return nil
}

// receive reads and handles a single datagram. A read that times out is not
// an error. Expired members are removed after every read.
func (t *Transport) receive(sock Socket, buf []byte) error {
	defer t.checkExpired()

	if err := sock.SetReadDeadline(time.Now().Add(t.conf.readTimeout())); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, err := sock.Receive(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("failed to receive datagram: %w", err)
	}

	if data := buf[:n]; member.IsHeartbeat(data) {
		t.handleHeartbeat(data)
	} else {
		t.handleMessages(data)
	}

	return nil
}

func (t *Transport) handleHeartbeat(data []byte) {
	m, err := member.Decode(data, 0, len(data))
	if err != nil {
		level.Debug(t.logger).Log("msg", "dropped malformed heartbeat", "err", err)
		telemetry.MalformedPackets.WithLabelValues("heartbeat").Inc()

		return
	}

	local := t.Local()
	if m.Key() == local.Key() {
		return
	}

	telemetry.HeartbeatsReceived.Inc()

	if t.conf.DomainFilter && string(m.Domain()) != string(local.Domain()) {
		return
	}

	if m.IsShutdown() {
		if removed := t.table.Remove(m); removed != nil {
			level.Info(t.logger).Log("msg", "member left", "member", removed)
			telemetry.MemberEvents.WithLabelValues("left").Inc()
			telemetry.Members.Set(float64(t.table.Len()))

			t.notifyDisappeared(m)
		}

		return
	}

	if t.table.MemberAlive(m) {
		level.Info(t.logger).Log("msg", "member joined", "member", m)
		telemetry.MemberEvents.WithLabelValues("joined").Inc()
		telemetry.Members.Set(float64(t.table.Len()))

		l := t.membershipListener()
		t.pool.dispatch(func() { l.MemberAdded(m) })
	}
}

func (t *Transport) handleMessages(data []byte) {
	msgs, err := envelope.Decode(data)
	if err != nil {
		level.Debug(t.logger).Log("msg", "dropped malformed message bundle", "err", err)
		telemetry.MalformedPackets.WithLabelValues("message").Inc()

		return
	}

	localKey := t.Local().Key()
	l := t.messageListener()

	for _, msg := range msgs {
		if msg.Source.Key() == localKey {
			continue
		}

		msg := msg

		t.pool.dispatch(func() {
			if l.Accept(msg) {
				telemetry.MessagesReceived.Inc()
				l.MessageReceived(msg)
			}
		})
	}
}

func (t *Transport) checkExpired() {
	expired := t.table.Expire(t.conf.DropTime)
	if len(expired) == 0 {
		return
	}

	for _, m := range expired {
		level.Info(t.logger).Log("msg", "member expired", "member", m)
		telemetry.MemberEvents.WithLabelValues("expired").Inc()

		t.notifyDisappeared(m)
	}

	telemetry.Members.Set(float64(t.table.Len()))
}

func (t *Transport) notifyDisappeared(m *member.Member) {
	l := t.membershipListener()
	t.pool.dispatch(func() { l.MemberDisappeared(m) })
}

func spawn(fn func(stop <-chan struct{})) *loop {
	l := &loop{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(l.done)
		fn(l.stop)
	}()

	return l
}

func (t *Transport) sendLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.conf.Frequency)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if err := t.Send(true, nil); err != nil {
			if !t.onFailure(stop, Send, &failures, err) {
				return
			}

			continue
		}

		failures = 0
	}
}

func (t *Transport) receiveLoop(sock Socket, stop <-chan struct{}) {
	buf := make([]byte, MaxDatagramSize)
	failures := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := t.receive(sock, buf); err != nil {
			if !t.onFailure(stop, Receive, &failures, err) {
				return
			}

			continue
		}

		failures = 0
	}
}

// onFailure handles an error of the send or receive loop. It returns false
// when the loop has been asked to stop in the meantime.
func (t *Transport) onFailure(stop <-chan struct{}, dir Direction, failures *int, err error) bool {
	select {
	case <-stop:
		return false
	default:
	}

	logger := level.Debug(t.logger)
	if *failures == 0 {
		logger = level.Warn(t.logger)
	}

	logger.Log("msg", "socket error", "direction", dir, "err", err, "failures", *failures+1)
	telemetry.IOErrors.WithLabelValues(dir.String()).Inc()

	pause := time.NewTimer(errorBackoff)
	defer pause.Stop()

	select {
	case <-stop:
		return false
	case <-pause.C:
	}

	*failures++

	if t.conf.RecoveryCounter > 0 && *failures >= t.conf.RecoveryCounter {
		*failures = 0
		t.recovery.trigger()
	}

	return true
}
