package app

import (
	"sync"
	"time"

	"github.com/dkeye/squadlink/internal/core"
	"github.com/dkeye/squadlink/internal/domain"
	"github.com/dkeye/squadlink/internal/metrics"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	conn core.SignalConnection
	user domain.UserID
	// resolved is set once identity resolution finished, with or without a user.
	resolved     bool
	lastLiveness time.Time
}

// Registry is the authoritative map of live duplex connections.
// Every mutation and every broadcast iteration holds mu.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*connEntry
	byUser map[domain.UserID]map[core.ConnID]struct{}

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[core.ConnID]*connEntry),
		byUser: make(map[domain.UserID]map[core.ConnID]struct{}),
		now:    time.Now,
	}
}

func (r *Registry) Register(id core.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{conn: conn, lastLiveness: r.now()}
	r.observe()
	log.Debug().Str("module", "app.registry").Str("conn_id", string(id)).Msg("registered connection")
}

// AttachIdentity binds user to the connection. first reports whether this is the
// user's only registered connection, computed in the same critical section.
// ok is false for unknown or already resolved connections.
func (r *Registry) AttachIdentity(id core.ConnID, user domain.UserID) (first, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.conns[id]
	if !found || e.resolved || user.Anonymous() {
		return false, false
	}
	e.user = user
	e.resolved = true
	set := r.byUser[user]
	if set == nil {
		set = make(map[core.ConnID]struct{})
		r.byUser[user] = set
	}
	set[id] = struct{}{}
	r.observe()
	log.Info().Str("module", "app.registry").Str("conn_id", string(id)).Str("user_id", user.String()).Msg("identity attached")
	return len(set) == 1, true
}

// MarkAnonymous terminates identity resolution without a user.
func (r *Registry) MarkAnonymous(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok && !e.resolved {
		e.resolved = true
	}
}

func (r *Registry) Touch(id core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.lastLiveness = r.now()
	return true
}

// Deregister removes the entry. last reports whether the user has no other
// connection left, computed in the same critical section as the removal.
func (r *Registry) Deregister(id core.ConnID) (user domain.UserID, last, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.conns[id]
	if !found {
		return "", false, false
	}
	delete(r.conns, id)
	if !e.user.Anonymous() {
		set := r.byUser[e.user]
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, e.user)
			last = true
		}
	}
	r.observe()
	log.Debug().Str("module", "app.registry").Str("conn_id", string(id)).Str("user_id", e.user.String()).Msg("deregistered connection")
	return e.user, last, true
}

func (r *Registry) ForUser(user domain.UserID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, 0, len(r.byUser[user]))
	for id := range r.byUser[user] {
		out = append(out, id)
	}
	return out
}

func (r *Registry) UserOf(id core.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return e.user, true
}

func (r *Registry) Conn(id core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

type RegistryStats struct {
	Connections int `json:"connections"`
	Identified  int `json:"identified"`
	Users       int `json:"users"`
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats()
}

func (r *Registry) stats() RegistryStats {
	s := RegistryStats{Connections: len(r.conns), Users: len(r.byUser)}
	for _, set := range r.byUser {
		s.Identified += len(set)
	}
	return s
}

// observe publishes gauges; caller holds mu.
func (r *Registry) observe() {
	s := r.stats()
	metrics.ConnectionsActive.Set(float64(s.Connections))
	metrics.ConnectionsIdentified.Set(float64(s.Identified))
	metrics.UsersOnline.Set(float64(s.Users))
}

type liveConn struct {
	id   core.ConnID
	conn core.SignalConnection
}

// sweep splits entries into those silent for longer than timeout and the rest.
func (r *Registry) sweep(timeout time.Duration) (stale []core.ConnID, live []liveConn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	for id, e := range r.conns {
		if now.Sub(e.lastLiveness) > timeout {
			stale = append(stale, id)
			continue
		}
		live = append(live, liveConn{id: id, conn: e.conn})
	}
	return stale, live
}

// deliver sends f to every entry accepted by match. Sends never block, so the
// iteration stays under the read lock.
func (r *Registry) deliver(match func(*connEntry) bool, f core.Frame) (sent int, dropped []liveConn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.conns {
		if !match(e) {
			continue
		}
		if err := e.conn.TrySend(f); err != nil {
			dropped = append(dropped, liveConn{id: id, conn: e.conn})
			continue
		}
		sent++
	}
	return sent, dropped
}

// deliverUsers walks only the connections of users.
func (r *Registry) deliverUsers(users []domain.UserID, f core.Frame) (sent int, dropped []liveConn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[domain.UserID]struct{}, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup || u.Anonymous() {
			continue
		}
		seen[u] = struct{}{}
		for id := range r.byUser[u] {
			e := r.conns[id]
			if err := e.conn.TrySend(f); err != nil {
				dropped = append(dropped, liveConn{id: id, conn: e.conn})
				continue
			}
			sent++
		}
	}
	return sent, dropped
}
