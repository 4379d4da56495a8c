// Package registry tracks live authenticated connections, which user each
// belongs to, and which rooms each connection has joined. It is the one
// shared mutable structure in the process: three indices (by connection, by
// room, by user) over a single canonical set of connections, safe for
// concurrent registration, lookup and broadcast.
//
// Delivery goes through the Sender interface so the registry stays
// transport-agnostic; payload writes happen outside the lock against an
// index snapshot, so a slow connection never stalls registration.
package registry

import (
	"fmt"
	"sync"
	"time"
)

// ConversationRoom returns the room ID for a conversation's broadcast group.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// Sender delivers encoded events to one connection.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// PriorState is what the registry knew about a connection at unregister
// time, returned for logging.
type PriorState struct {
	UserID      string
	ConnectedAt time.Time
}

type entry struct {
	id          string
	userID      string
	connectedAt time.Time
	sender      Sender
	rooms       map[string]bool
}

// Registry is the concurrency-safe connection registry.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*entry
	byRoom map[string]map[string]*entry
	byUser map[string]map[string]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byConn: make(map[string]*entry),
		byRoom: make(map[string]map[string]*entry),
		byUser: make(map[string]map[string]*entry),
	}
}

// Register records a live authenticated connection. It may be called at most
// once successfully per connection; a second registration for the same ID is
// an error.
func (r *Registry) Register(connID, userID string, sender Sender, connectedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[connID]; exists {
		return fmt.Errorf("registry: connection %s already registered", connID)
	}

	e := &entry{
		id:          connID,
		userID:      userID,
		connectedAt: connectedAt,
		sender:      sender,
		rooms:       make(map[string]bool),
	}
	r.byConn[connID] = e

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*entry)
	}
	r.byUser[userID][connID] = e
	return nil
}

// Unregister removes a connection and implicitly drops every room membership
// it held. It returns what was known about the connection for logging, or
// false if the connection was unknown.
func (r *Registry) Unregister(connID string) (PriorState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConn[connID]
	if !ok {
		return PriorState{}, false
	}
	delete(r.byConn, connID)

	for roomID := range e.rooms {
		delete(r.byRoom[roomID], connID)
		if len(r.byRoom[roomID]) == 0 {
			delete(r.byRoom, roomID)
		}
	}

	delete(r.byUser[e.userID], connID)
	if len(r.byUser[e.userID]) == 0 {
		delete(r.byUser, e.userID)
	}

	return PriorState{UserID: e.userID, ConnectedAt: e.connectedAt}, true
}

// JoinRoom adds a connection to a room. Joining a room twice is a no-op.
// Unknown connections are an error: rooms only hold registered connections,
// so a membership can never outlive its connection.
func (r *Registry) JoinRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byConn[connID]
	if !ok {
		return fmt.Errorf("registry: connection %s not registered", connID)
	}
	if e.rooms[roomID] {
		return nil
	}
	e.rooms[roomID] = true

	if r.byRoom[roomID] == nil {
		r.byRoom[roomID] = make(map[string]*entry)
	}
	r.byRoom[roomID][connID] = e
	return nil
}

// InRoom reports whether a connection is currently joined to a room.
func (r *Registry) InRoom(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	return ok && e.rooms[roomID]
}

// BroadcastToRoom delivers data to every connection currently joined to the
// room. A room with no members is a no-op, not an error. Send errors on
// individual connections are ignored; dead connections are cleaned up by the
// transport layer.
func (r *Registry) BroadcastToRoom(roomID string, data []byte) {
	for _, e := range r.roomSnapshot(roomID, "") {
		_ = e.sender.Send(data)
	}
}

// BroadcastToRoomExcept behaves like BroadcastToRoom but skips one
// connection, typically the originator of an ephemeral event.
func (r *Registry) BroadcastToRoomExcept(roomID, exceptConnID string, data []byte) {
	for _, e := range r.roomSnapshot(roomID, exceptConnID) {
		_ = e.sender.Send(data)
	}
}

// SendToUser delivers data to every connection associated with the user,
// since a user may be connected from multiple devices. No connected device
// is a no-op.
func (r *Registry) SendToUser(userID string, data []byte) {
	r.mu.RLock()
	conns := make([]*entry, 0, len(r.byUser[userID]))
	for _, e := range r.byUser[userID] {
		conns = append(conns, e)
	}
	r.mu.RUnlock()

	for _, e := range conns {
		_ = e.sender.Send(data)
	}
}

// SendToConn delivers data to a single connection.
func (r *Registry) SendToConn(connID string, data []byte) error {
	r.mu.RLock()
	e, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: connection %s not found", connID)
	}
	return e.sender.Send(data)
}

// Lookup returns the user and connect time of a registered connection.
func (r *Registry) Lookup(connID string) (PriorState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	if !ok {
		return PriorState{}, false
	}
	return PriorState{UserID: e.userID, ConnectedAt: e.connectedAt}, true
}

// Count returns the number of currently registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// DisconnectAll is an administrative action: it delivers the maintenance
// notice to every connection, then forcibly closes and removes all of them.
func (r *Registry) DisconnectAll(notice []byte) {
	r.mu.Lock()
	conns := make([]*entry, 0, len(r.byConn))
	for _, e := range r.byConn {
		conns = append(conns, e)
	}
	r.byConn = make(map[string]*entry)
	r.byRoom = make(map[string]map[string]*entry)
	r.byUser = make(map[string]map[string]*entry)
	r.mu.Unlock()

	for _, e := range conns {
		_ = e.sender.Send(notice)
		_ = e.sender.Close()
	}
}

// roomSnapshot returns the room's members under a read lock so payload
// writes happen without holding it.
func (r *Registry) roomSnapshot(roomID, exceptConnID string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.byRoom[roomID]
	if len(members) == 0 {
		return nil
	}
	conns := make([]*entry, 0, len(members))
	for id, e := range members {
		if id == exceptConnID {
			continue
		}
		conns = append(conns, e)
	}
	return conns
}
