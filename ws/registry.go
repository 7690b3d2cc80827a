package ws

import (
	"sort"
	"sync"
)

// Registry owns the user -> live connection bindings. It is the only
// concurrently mutated in-memory structure; every mutation is a short
// lock-scoped critical section and no blocking work happens under the lock.
//
// A user may hold several bindings at once (multiple devices or tabs); a bind
// never evicts another.
type Registry struct {
	sync.RWMutex
	byUser map[string]map[*Handler]struct{}
	bySid  map[string]*Handler
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[*Handler]struct{}),
		bySid:  make(map[string]*Handler),
	}
}

// Bind registers a handler under its user. It reports whether the user went
// from offline to online. Binding an already-bound handler is a no-op.
func (reg *Registry) Bind(h *Handler) bool {
	uid := h.session.UID
	sid := h.session.SID

	reg.Lock()
	defer reg.Unlock()

	if _, ok := reg.bySid[sid]; ok {
		return false
	}
	reg.bySid[sid] = h

	set := reg.byUser[uid]
	if set == nil {
		set = make(map[*Handler]struct{})
		reg.byUser[uid] = set
	}
	set[h] = struct{}{}

	onlineUsersGauge.Set(float64(len(reg.byUser)))
	sessionsGauge.Set(float64(len(reg.bySid)))
	return len(set) == 1
}

// Unbind removes the binding with the given session id. It reports whether
// the binding existed and whether its user went offline. Unbinding twice is
// safe; the second call is a no-op.
func (reg *Registry) Unbind(sid string) (existed, wentOffline bool) {
	reg.Lock()
	defer reg.Unlock()

	h, ok := reg.bySid[sid]
	if !ok {
		return false, false
	}
	delete(reg.bySid, sid)

	uid := h.session.UID
	if set, ok := reg.byUser[uid]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(reg.byUser, uid)
			wentOffline = true
		}
	}

	onlineUsersGauge.Set(float64(len(reg.byUser)))
	sessionsGauge.Set(float64(len(reg.bySid)))
	return true, wentOffline
}

// IsReachable reports whether the user has at least one live binding.
func (reg *Registry) IsReachable(uid string) bool {
	reg.RLock()
	defer reg.RUnlock()
	return len(reg.byUser[uid]) > 0
}

// HandlesFor snapshots the user's live handlers.
func (reg *Registry) HandlesFor(uid string) []*Handler {
	reg.RLock()
	defer reg.RUnlock()

	set := reg.byUser[uid]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Handler, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// OnlineUsers snapshots the set of reachable user ids, sorted for stable
// presence payloads.
func (reg *Registry) OnlineUsers() []string {
	reg.RLock()
	defer reg.RUnlock()

	out := make([]string, 0, len(reg.byUser))
	for uid := range reg.byUser {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

func (reg *Registry) allHandlers() []*Handler {
	reg.RLock()
	defer reg.RUnlock()

	out := make([]*Handler, 0, len(reg.bySid))
	for _, h := range reg.bySid {
		out = append(out, h)
	}
	return out
}
