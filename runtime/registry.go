package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sort"
	"sync"

	"github.com/samber/lo"
)

type Set[K comparable] map[K]struct{}

// Registry is the authoritative room membership table.
// Presence counts are read from it and never cached elsewhere.
type Registry struct {
	mu          sync.RWMutex
	connections map[domain.ConnectionID]contract.Connection  // map connection -> transport
	roomMembers map[domain.RoomName]Set[domain.ConnectionID] // map room -> connections
	memberships map[domain.ConnectionID]Set[domain.RoomName] // map connection -> rooms
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[domain.ConnectionID]contract.Connection),
		roomMembers: make(map[domain.RoomName]Set[domain.ConnectionID]),
		memberships: make(map[domain.ConnectionID]Set[domain.RoomName]),
	}
}

// Register records the transport of a freshly connected client.
// Registering the same id twice replaces the previous transport.
func (r *Registry) Register(conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
}

// Unregister forgets the transport only, memberships are dropped by LeaveAll.
func (r *Registry) Unregister(connectionID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, connectionID)
}

// Join adds the connection to the room, creating the room on the fly.
// It reports whether the membership is new; joining twice is a no-op.
func (r *Registry) Join(connectionID domain.ConnectionID, room domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roomMembers[room]
	if !ok {
		members = make(Set[domain.ConnectionID])
		r.roomMembers[room] = members
	}
	if _, exists := members[connectionID]; exists {
		return false
	}
	members[connectionID] = struct{}{}

	rooms, ok := r.memberships[connectionID]
	if !ok {
		rooms = make(Set[domain.RoomName])
		r.memberships[connectionID] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave removes a single membership and reports whether there was one.
func (r *Registry) Leave(connectionID domain.ConnectionID, room domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return false
	}
	if _, exists := members[connectionID]; !exists {
		return false
	}
	r.removeMember(connectionID, room)

	if rooms, ok := r.memberships[connectionID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.memberships, connectionID)
		}
	}
	return true
}

// LeaveAll removes the connection from every room it joined and returns those rooms
// sorted by name, so callers only publish presence where something changed.
func (r *Registry) LeaveAll(connectionID domain.ConnectionID) []domain.RoomName {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberships[connectionID]
	if !ok {
		return nil
	}
	delete(r.memberships, connectionID)

	affected := lo.Keys(rooms)
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	for _, room := range affected {
		r.removeMember(connectionID, room)
	}
	return affected
}

// CountOf returns the live number of connections in the room, 0 if the room is unknown.
func (r *Registry) CountOf(room domain.RoomName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomMembers[room])
}

// ConnectionsIn resolves the members of a room into their transports.
// Members without a registered transport are skipped.
// Returns nil if the room doesn't exist.
func (r *Registry) ConnectionsIn(room domain.RoomName) []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	active := make([]contract.Connection, 0, len(members))
	for connectionID := range members {
		if conn, exists := r.connections[connectionID]; exists {
			active = append(active, conn)
		}
	}
	return active
}

func (r *Registry) Connection(connectionID domain.ConnectionID) (contract.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	return conn, ok
}

// Stats reports the number of live rooms and registered connections.
func (r *Registry) Stats() (rooms int, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomMembers), len(r.connections)
}

// removeMember must be called with the write lock held.
// Empty rooms are pruned so they don't pile up over time.
func (r *Registry) removeMember(connectionID domain.ConnectionID, room domain.RoomName) {
	members, ok := r.roomMembers[room]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.roomMembers, room)
	}
}
