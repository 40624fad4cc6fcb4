package services

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outbound is the write side of one client connection.
type Outbound interface {
	// Deliver enqueues ev without blocking and reports whether it was
	// accepted. A false return means the buffer is full or the connection
	// is closed.
	Deliver(ev Event) bool
	Close()
}

type connEntry struct {
	id    string
	user  string
	token string
	out   Outbound
	subs  map[string]struct{}
}

// ConnRegistry tracks live connections by user and by conversation.
type ConnRegistry struct {
	mu     sync.RWMutex
	conns  map[string]*connEntry
	byUser map[string]map[string]*connEntry
	byConv map[string]map[string]*connEntry

	metrics *Metrics
	logger  *zap.Logger
}

func NewConnRegistry(metrics *Metrics, logger *zap.Logger) *ConnRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnRegistry{
		conns:   make(map[string]*connEntry),
		byUser:  make(map[string]map[string]*connEntry),
		byConv:  make(map[string]map[string]*connEntry),
		metrics: metrics,
		logger:  logger,
	}
}

func (r *ConnRegistry) Register(user string, out Outbound) string {
	return r.RegisterSession(user, "", out)
}

// RegisterSession registers a connection authenticated by a session token,
// so CloseSession can find it when the session ends.
func (r *ConnRegistry) RegisterSession(user, token string, out Outbound) string {
	e := &connEntry{id: uuid.NewString(), user: user, token: token, out: out, subs: make(map[string]struct{})}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[e.id] = e
	set, ok := r.byUser[user]
	if !ok {
		set = make(map[string]*connEntry)
		r.byUser[user] = set
	}
	set[e.id] = e
	return e.id
}

// Unregister drops the connection and its subscriptions. Unknown ids are
// ignored.
func (r *ConnRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(id)
}

// unregisterLocked reports whether id was still registered.
func (r *ConnRegistry) unregisterLocked(id string) bool {
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	for conv := range e.subs {
		r.removeSub(e, conv)
	}
	delete(r.conns, id)
	if set := r.byUser[e.user]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, e.user)
		}
	}
	return true
}

// CloseSession unregisters and closes every connection bound to token and
// returns how many there were.
func (r *ConnRegistry) CloseSession(token string) int {
	if token == "" {
		return 0
	}
	r.mu.Lock()
	var closing []*connEntry
	for id, e := range r.conns {
		if e.token == token {
			closing = append(closing, e)
			r.unregisterLocked(id)
		}
	}
	r.mu.Unlock()

	for _, e := range closing {
		e.out.Close()
	}
	return len(closing)
}

func (r *ConnRegistry) Subscribe(id, conv string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	r.addSub(e, conv)
	return true
}

func (r *ConnRegistry) Unsubscribe(id, conv string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[id]; ok {
		r.removeSub(e, conv)
	}
}

// ReplaceSubscriptions leaves every conversation of id and subscribes it to
// conv alone. An empty conv just clears the subscriptions.
func (r *ConnRegistry) ReplaceSubscriptions(id, conv string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	for old := range e.subs {
		if old != conv {
			r.removeSub(e, old)
		}
	}
	if conv != "" {
		r.addSub(e, conv)
	}
	return true
}

func (r *ConnRegistry) Subscriptions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.subs))
	for conv := range e.subs {
		out = append(out, conv)
	}
	sort.Strings(out)
	return out
}

func (r *ConnRegistry) addSub(e *connEntry, conv string) {
	e.subs[conv] = struct{}{}
	set, ok := r.byConv[conv]
	if !ok {
		set = make(map[string]*connEntry)
		r.byConv[conv] = set
	}
	set[e.id] = e
}

func (r *ConnRegistry) removeSub(e *connEntry, conv string) {
	delete(e.subs, conv)
	if set := r.byConv[conv]; set != nil {
		delete(set, e.id)
		if len(set) == 0 {
			delete(r.byConv, conv)
		}
	}
}

// BroadcastToUser delivers ev to every connection of user and returns how
// many accepted it. Offline users get nothing.
func (r *ConnRegistry) BroadcastToUser(user string, ev Event) int {
	r.mu.RLock()
	targets := collect(r.byUser[user])
	r.mu.RUnlock()
	return r.deliver(targets, ev)
}

// BroadcastToConversation delivers ev to every connection subscribed to conv.
func (r *ConnRegistry) BroadcastToConversation(conv string, ev Event) int {
	r.mu.RLock()
	targets := collect(r.byConv[conv])
	r.mu.RUnlock()
	return r.deliver(targets, ev)
}

func collect(set map[string]*connEntry) []*connEntry {
	out := make([]*connEntry, 0, len(set))
	for _, e := range set {
		out = append(out, e)
	}
	return out
}

func (r *ConnRegistry) deliver(targets []*connEntry, ev Event) int {
	delivered := 0
	for _, e := range targets {
		if e.out.Deliver(ev) {
			delivered++
			continue
		}
		// the peer must resync from history after reconnecting
		if r.drop(e.id) {
			r.logger.Warn("closing slow consumer",
				zap.String("conn_id", e.id),
				zap.String("user", e.user),
				zap.String("event", ev.Name))
			r.metrics.recordSlowConsumer()
		}
		e.out.Close()
	}
	return delivered
}

// drop unregisters a connection that could not keep up. Only the first of
// several concurrent broadcasts that hit the same full buffer gets true.
func (r *ConnRegistry) drop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(id)
}

func (r *ConnRegistry) UserConnections(user string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[user])
}

func (r *ConnRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
