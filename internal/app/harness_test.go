package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	clock  *testClock
	reg    *Registry
	disp   *Dispatcher
	rels   *fakeRelations
	vstore *memVoiceStore
	gstore *memGroupStore
	notes  *fakeNotes
	dedup  *memDedup
	prov   *fakeProvider
	voice  *VoiceManager
	groups *GroupManager
	gw     *Gateway
	hb     *Heartbeat
}

func newHarness(t *testing.T, rels ...domain.Relationship) *harness {
	t.Helper()
	h := &harness{
		clock:  newTestClock(),
		reg:    NewRegistry(),
		rels:   newFakeRelations(rels...),
		vstore: newMemVoiceStore(),
		gstore: newMemGroupStore(),
		notes:  &fakeNotes{},
		dedup:  newMemDedup(),
		prov:   newFakeProvider(),
	}
	h.reg.now = h.clock.Now
	h.dedup.now = h.clock.Now
	h.disp = NewDispatcher(h.reg, SimplePolicy{})
	h.voice = NewVoiceManager(h.rels, h.vstore, h.notes, h.dedup, h.prov, h.disp, DefaultWaitingWindow)
	h.groups = NewGroupManager(h.gstore, h.notes, h.prov, h.disp)
	presence := &Presence{Relations: h.rels, Groups: h.gstore, Dispatch: h.disp}
	relay := &SignalRelay{Relations: h.rels, Dispatch: h.disp}
	h.gw = NewGateway(h.reg, h.disp, presence, relay, h.voice)
	h.hb = NewHeartbeat(h.reg, h.gw, DefaultProbeInterval, DefaultLivenessTimeout)
	return h
}

func (h *harness) connect(user domain.UserID) (core.ConnID, *fakeConn) {
	id := core.NewConnID()
	conn := &fakeConn{}
	h.gw.Connect(context.Background(), id, conn, user, "")
	return id, conn
}

func (h *harness) mustJoin(t *testing.T, user domain.UserID, conv string) *JoinResult {
	t.Helper()
	res, err := h.voice.Join(context.Background(), user, conv)
	require.NoError(t, err)
	return res
}
