package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var errFull = errors.New("backpressure")

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	pings  int
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return errFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type wireEvent struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	UserID  domain.UserID   `json:"userId"`
	Data    json.RawMessage `json:"data"`
}

func (c *fakeConn) events() []wireEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireEvent, 0, len(c.frames))
	for _, f := range c.frames {
		var e wireEvent
		_ = json.Unmarshal(f, &e)
		out = append(out, e)
	}
	return out
}

func (c *fakeConn) ofType(typ string) []wireEvent {
	var out []wireEvent
	for _, e := range c.events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeRelations struct {
	mu   sync.Mutex
	rels map[string]domain.Relationship
	err  error
}

func newFakeRelations(rels ...domain.Relationship) *fakeRelations {
	f := &fakeRelations{rels: map[string]domain.Relationship{}}
	for _, r := range rels {
		f.rels[r.ID()] = r
	}
	return f
}

func (f *fakeRelations) Relationship(_ context.Context, id string) (domain.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rels[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRelations) AcceptedNeighborhood(_ context.Context, user domain.UserID) ([]domain.UserID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.UserID
	for _, r := range f.rels {
		if r.Status() != domain.StatusAccepted {
			continue
		}
		if other, ok := domain.Counterpart(r, user); ok {
			out = append(out, other)
		}
	}
	return out, nil
}

func accepted(id string, a, b domain.UserID) domain.Relationship {
	return domain.MatchConnection{MatchID: id, RequesterID: a, AccepterID: b, State: domain.StatusAccepted}
}

type memVoiceStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.VoiceSession // by conversation
	parts    map[string]map[domain.UserID]*domain.VoiceParticipant
	upserts  int
	// beforeAdd runs once at the start of the next AddParticipant.
	beforeAdd func()
}

func newMemVoiceStore() *memVoiceStore {
	return &memVoiceStore{
		sessions: map[string]*domain.VoiceSession{},
		parts:    map[string]map[domain.UserID]*domain.VoiceParticipant{},
	}
}

func (m *memVoiceStore) SessionByConversation(_ context.Context, conv string) (*domain.VoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conv]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memVoiceStore) UpsertSession(_ context.Context, conv, roomID string) (*domain.VoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	s, ok := m.sessions[conv]
	if !ok {
		s = &domain.VoiceSession{ID: uuid.NewString(), ConversationID: conv, ExternalRoomID: roomID, CreatedAt: time.Now()}
		m.sessions[conv] = s
		m.parts[s.ID] = map[domain.UserID]*domain.VoiceParticipant{}
	}
	if s.ExternalRoomID == "" {
		s.ExternalRoomID = roomID
	}
	cp := *s
	return &cp, nil
}

func (m *memVoiceStore) SessionOfUser(_ context.Context, user domain.UserID) (*domain.VoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if _, ok := m.parts[s.ID][user]; ok {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memVoiceStore) AddParticipant(_ context.Context, sessionID string, user domain.UserID) (*domain.VoiceParticipant, error) {
	m.mu.Lock()
	hook := m.beforeAdd
	m.beforeAdd = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.parts[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p, ok := set[user]
	if !ok {
		p = &domain.VoiceParticipant{SessionID: sessionID, UserID: user, JoinedAt: time.Now()}
		set[user] = p
	}
	cp := *p
	return &cp, nil
}

func (m *memVoiceStore) RemoveParticipant(_ context.Context, sessionID string, user domain.UserID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.parts[sessionID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if _, ok := set[user]; !ok {
		return len(set), domain.ErrNotFound
	}
	delete(set, user)
	if len(set) == 0 {
		delete(m.parts, sessionID)
		for conv, s := range m.sessions {
			if s.ID == sessionID {
				delete(m.sessions, conv)
			}
		}
	}
	return len(set), nil
}

func (m *memVoiceStore) Participants(_ context.Context, sessionID string) ([]domain.VoiceParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.VoiceParticipant{}
	for _, p := range m.parts[sessionID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memVoiceStore) SetMuted(_ context.Context, sessionID string, user domain.UserID, muted bool) (*domain.VoiceParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parts[sessionID][user]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.IsMuted = muted
	cp := *p
	return &cp, nil
}

// drop deletes a conversation's session as if its last participant had left.
func (m *memVoiceStore) drop(conv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[conv]; ok {
		delete(m.parts, s.ID)
		delete(m.sessions, conv)
	}
}

func (m *memVoiceStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type memGroupStore struct {
	mu      sync.Mutex
	groups  map[string]*domain.GroupVoiceSession
	members map[string]map[domain.UserID]*domain.GroupVoiceMember
	invites map[string]*domain.GroupVoiceInvite
	syncs   int
}

func newMemGroupStore() *memGroupStore {
	return &memGroupStore{
		groups:  map[string]*domain.GroupVoiceSession{},
		members: map[string]map[domain.UserID]*domain.GroupVoiceMember{},
		invites: map[string]*domain.GroupVoiceInvite{},
	}
}

func (m *memGroupStore) CreateGroup(_ context.Context, g *domain.GroupVoiceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.groups[g.ID] = &cp
	m.members[g.ID] = map[domain.UserID]*domain.GroupVoiceMember{
		g.CreatorID: {ChannelID: g.ID, UserID: g.CreatorID, JoinedAt: time.Now()},
	}
	return nil
}

func (m *memGroupStore) Group(_ context.Context, id string) (*domain.GroupVoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGroupStore) GroupByInviteCode(_ context.Context, code string) (*domain.GroupVoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.InviteCode == code {
			cp := *g
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memGroupStore) GroupsOf(_ context.Context, user domain.UserID) ([]domain.GroupVoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.GroupVoiceSession{}
	for id, set := range m.members {
		if _, ok := set[user]; ok {
			out = append(out, *m.groups[id])
		}
	}
	return out, nil
}

func (m *memGroupStore) SetGroupRoom(_ context.Context, id, roomID string) (*domain.GroupVoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if g.ExternalRoomID == "" {
		g.ExternalRoomID = roomID
	}
	cp := *g
	return &cp, nil
}

func (m *memGroupStore) DeleteGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
	delete(m.members, id)
	for k, inv := range m.invites {
		if inv.ChannelID == id {
			delete(m.invites, k)
		}
	}
	return nil
}

func (m *memGroupStore) AddMember(_ context.Context, channelID string, user domain.UserID) (*domain.GroupVoiceMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[channelID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	mem, ok := set[user]
	if !ok {
		mem = &domain.GroupVoiceMember{ChannelID: channelID, UserID: user, JoinedAt: time.Now()}
		set[user] = mem
	}
	cp := *mem
	return &cp, nil
}

func (m *memGroupStore) RemoveMember(_ context.Context, channelID string, user domain.UserID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[channelID]
	if _, ok := set[user]; !ok {
		return len(set), domain.ErrNotFound
	}
	delete(set, user)
	return len(set), nil
}

func (m *memGroupStore) Member(_ context.Context, channelID string, user domain.UserID) (*domain.GroupVoiceMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[channelID][user]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *memGroupStore) Members(_ context.Context, channelID string) ([]domain.GroupVoiceMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.GroupVoiceMember{}
	for _, mem := range m.members[channelID] {
		out = append(out, *mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memGroupStore) SetMemberActive(_ context.Context, channelID string, user domain.UserID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[channelID][user]
	if !ok {
		return domain.ErrNotFound
	}
	mem.IsActive = active
	return nil
}

func (m *memGroupStore) SetMemberMuted(_ context.Context, channelID string, user domain.UserID, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[channelID][user]
	if !ok {
		return domain.ErrNotFound
	}
	mem.IsMuted = muted
	return nil
}

func (m *memGroupStore) SyncActive(_ context.Context, channelID string, active []domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	on := map[domain.UserID]bool{}
	for _, u := range active {
		on[u] = true
	}
	for u, mem := range m.members[channelID] {
		mem.IsActive = on[u]
	}
	return nil
}

func (m *memGroupStore) ClearActive(_ context.Context, user domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.members {
		if mem, ok := set[user]; ok {
			mem.IsActive = false
		}
	}
	return nil
}

func (m *memGroupStore) CreateInvite(_ context.Context, inv *domain.GroupVoiceInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.invites {
		if other.ChannelID == inv.ChannelID && other.InviteeID == inv.InviteeID && other.Status == domain.InvitePending {
			return domain.ErrConflict
		}
	}
	cp := *inv
	m.invites[inv.ID] = &cp
	return nil
}

func (m *memGroupStore) Invite(_ context.Context, id string) (*domain.GroupVoiceInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memGroupStore) invitesWhere(match func(*domain.GroupVoiceInvite) bool) []domain.GroupVoiceInvite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.GroupVoiceInvite{}
	for _, inv := range m.invites {
		if inv.Status == domain.InvitePending && match(inv) {
			out = append(out, *inv)
		}
	}
	return out
}

func (m *memGroupStore) InvitesReceived(_ context.Context, user domain.UserID) ([]domain.GroupVoiceInvite, error) {
	return m.invitesWhere(func(i *domain.GroupVoiceInvite) bool { return i.InviteeID == user }), nil
}

func (m *memGroupStore) InvitesSent(_ context.Context, user domain.UserID) ([]domain.GroupVoiceInvite, error) {
	return m.invitesWhere(func(i *domain.GroupVoiceInvite) bool { return i.InviterID == user }), nil
}

func (m *memGroupStore) SetInviteStatus(_ context.Context, id string, status domain.InviteStatus) (*domain.GroupVoiceInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	inv.Status = status
	now := time.Now()
	inv.RespondedAt = &now
	cp := *inv
	return &cp, nil
}

func (m *memGroupStore) DeleteInvite(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invites[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.invites, id)
	return nil
}

type fakeNotes struct {
	mu    sync.Mutex
	notes []domain.Notification
}

func (f *fakeNotes) CreateNotification(_ context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, *n)
	return nil
}

func (f *fakeNotes) MarkRead(_ context.Context, recipient domain.UserID, kind domain.NotificationType, related domain.UserID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.notes {
		x := &f.notes[i]
		if x.UserID == recipient && x.Type == kind && x.RelatedUserID == related && !x.IsRead {
			x.IsRead = true
			n++
		}
	}
	return n, nil
}

func (f *fakeNotes) of(user domain.UserID, kind domain.NotificationType) []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Notification
	for _, n := range f.notes {
		if n.UserID == user && n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

// memDedup expires keys against an injectable clock.
type memDedup struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func newMemDedup() *memDedup {
	return &memDedup{keys: map[string]time.Time{}, now: time.Now}
}

func (d *memDedup) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.keys[key] = now.Add(window)
	return true, nil
}

type fakeProvider struct {
	mu         sync.Mutex
	configured bool
	// idempotent rooms are keyed by name, like the real provider.
	idempotent bool
	rooms      map[string]string
	created    int
	ended      []string
	peers      map[string][]domain.UserID
	createErr  error
	tokenErr   error
	peersErr   error
	endErr     error
	// gate, when set, blocks CreateRoom until closed; arrived is signalled first.
	gate    chan struct{}
	arrived chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{configured: true, idempotent: true, rooms: map[string]string{}, peers: map[string][]domain.UserID{}}
}

func (p *fakeProvider) Configured() bool { return p.configured }

func (p *fakeProvider) CreateRoom(_ context.Context, name string) (string, error) {
	if p.gate != nil {
		p.arrived <- struct{}{}
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	if id, ok := p.rooms[name]; ok && p.idempotent {
		return id, nil
	}
	p.created++
	id := "hms-" + uuid.NewString()[:8]
	p.rooms[name] = id
	return id, nil
}

func (p *fakeProvider) MintToken(_ context.Context, roomID string, user domain.UserID, role string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokenErr != nil {
		return "", p.tokenErr
	}
	return "tok:" + roomID + ":" + user.String() + ":" + role, nil
}

func (p *fakeProvider) ActivePeers(_ context.Context, roomID string) ([]domain.UserID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peersErr != nil {
		return nil, p.peersErr
	}
	return p.peers[roomID], nil
}

func (p *fakeProvider) EndRoom(_ context.Context, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endErr != nil {
		return p.endErr
	}
	p.ended = append(p.ended, roomID)
	return nil
}

func (p *fakeProvider) createdCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}
