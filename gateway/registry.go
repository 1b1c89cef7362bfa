package gateway

import (
	"log/slog"
	"sync"

	"market-chat/contract"
)

var _ contract.IEventPusher = (*Registry)(nil)

// Registry tracks the live connections of this gateway instance by
// connection id. The presence store maps users to connection ids; the
// registry turns those ids back into sockets.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		log:   log,
	}
}

func (r *Registry) Add(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
}

func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connectionID)
}

func (r *Registry) Get(connectionID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// Push emits one event to one connection. Unknown ids are normal: the
// presence entry may point at a connection that just went away.
func (r *Registry) Push(connectionID, eventName string, payload any) bool {
	conn, ok := r.Get(connectionID)
	if !ok {
		return false
	}
	return conn.SendJSON(eventName, payload)
}

// Len reports the number of live connections, for the debug endpoint.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
