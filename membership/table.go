package membership

import (
	"bytes"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/maxpoletaev/beacon/internal/generic"
	"github.com/maxpoletaev/beacon/member"
)

type entry struct {
	member    *member.Member
	lastHeard time.Time
}

// Table is the local view of the cluster: the set of peers that have recently
// sent a heartbeat. The local node itself is never part of the table.
//
// All mutations happen under a single lock. Every mutation that changes the set
// or the order of members publishes a new sorted slice, which is what Members
// returns without locking.
type Table struct {
	mut     sync.Mutex
	selfKey member.Key
	entries map[member.Key]*entry
	sorted  generic.Atomic[[]*member.Member]
	now     func() time.Time
}

// NewTable creates an empty table for the given local member.
func NewTable(self *member.Member) *Table {
	t := &Table{
		selfKey: self.Key(),
		entries: make(map[member.Key]*entry),
		now:     time.Now,
	}

	t.sorted.Store([]*member.Member{})

	return t
}

// MemberAlive records a heartbeat from the given member. It returns true only
// when the member was not known before. Heartbeats of the local member are
// ignored.
//
// A known member is replaced with an updated copy when the alive time in the
// heartbeat differs from the stored one. The newest heartbeat always wins, even
// if it carries a smaller alive time than the one already stored.
func (t *Table) MemberAlive(candidate *member.Member) bool {
	key := candidate.Key()
	if key == t.selfKey {
		return false
	}

	t.mut.Lock()
	defer t.mut.Unlock()

	now := t.now()

	e, ok := t.entries[key]
	if !ok {
		t.entries[key] = &entry{
			member:    candidate,
			lastHeard: now,
		}

		t.publish()

		return true
	}

	if e.member.AliveTime() != candidate.AliveTime() {
		e.member = e.member.WithStatus(candidate)
		t.publish()
	}

	e.lastHeard = now

	return false
}

// Expire removes all members that have not been heard from for longer than
// maxIdle and returns them.
func (t *Table) Expire(maxIdle time.Duration) []*member.Member {
	t.mut.Lock()
	defer t.mut.Unlock()

	now := t.now()

	var expired []*member.Member

	for key, e := range t.entries {
		if now.Sub(e.lastHeard) > maxIdle {
			expired = append(expired, e.member)
			delete(t.entries, key)
		}
	}

	if len(expired) > 0 {
		t.publish()
	}

	return expired
}

// Remove deletes the member from the table. It returns the removed member, or
// nil if the member was not known.
func (t *Table) Remove(m *member.Member) *member.Member {
	t.mut.Lock()
	defer t.mut.Unlock()

	e, ok := t.entries[m.Key()]
	if !ok {
		return nil
	}

	delete(t.entries, m.Key())
	t.publish()

	return e.member
}

// Reset removes all members and returns them.
func (t *Table) Reset() []*member.Member {
	t.mut.Lock()
	defer t.mut.Unlock()

	removed := t.sorted.Load()
	t.entries = make(map[member.Key]*entry)
	t.sorted.Store([]*member.Member{})

	return removed
}

// Members returns the known members, the longest running first. The returned
// slice is shared and must not be modified.
func (t *Table) Members() []*member.Member {
	return t.sorted.Load()
}

// Member looks up a member by its identity.
func (t *Table) Member(key member.Key) (*member.Member, bool) {
	t.mut.Lock()
	defer t.mut.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}

	return e.member, true
}

func (t *Table) HasMembers() bool {
	return len(t.sorted.Load()) > 0
}

func (t *Table) Len() int {
	return len(t.sorted.Load())
}

func (t *Table) publish() {
	members := generic.MapValuesFunc(t.entries, func(e *entry) *member.Member {
		return e.member
	})

	slices.SortFunc(members, runsLonger)

	t.sorted.Store(members)
}

// runsLonger orders members by alive time, descending. Members with the same
// alive time are ordered by identity hash, so that all nodes agree on the order.
func runsLonger(a, b *member.Member) bool {
	if a.AliveTime() != b.AliveTime() {
		return a.AliveTime() > b.AliveTime()
	}

	ha, hb := a.Hash64(), b.Hash64()
	if ha != hb {
		return ha < hb
	}

	return compareKeys(a.Key(), b.Key()) < 0
}

func compareKeys(a, b member.Key) int {
	if c := bytes.Compare([]byte(a.Host), []byte(b.Host)); c != 0 {
		return c
	}

	if a.Port != b.Port {
		if a.Port < b.Port {
			return -1
		}

		return 1
	}

	return bytes.Compare(a.UniqueID[:], b.UniqueID[:])
}
