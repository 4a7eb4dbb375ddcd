package core

import "sync"

// Registry is the single piece of mutable shared state on the server: the
// two-way index between rooms and connections. Rooms exist exactly as long
// as they have members; the first join creates a room, the last leave
// deletes it.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> member conn ids
	subs  map[string]map[string]struct{} // conn id -> joined rooms
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
		subs:  make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the room. Idempotent: returns false when the
// connection was already a member.
func (r *Registry) Join(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}

	if r.subs[connID] == nil {
		r.subs[connID] = make(map[string]struct{})
	}
	r.subs[connID][room] = struct{}{}
	return true
}

// Leave removes the connection from the room, deleting the room when it
// empties. Idempotent: returns false when the connection was not a member.
func (r *Registry) Leave(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, room)
}

func (r *Registry) leaveLocked(connID, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if subs, ok := r.subs[connID]; ok {
		delete(subs, room)
		if len(subs) == 0 {
			delete(r.subs, connID)
		}
	}
	return true
}

// MembersOf returns a snapshot of the room's member ids. The copy is the
// caller's to keep; concurrent joins and leaves never mutate it.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Subscriptions returns a snapshot of the rooms the connection belongs to.
func (r *Registry) Subscriptions(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.subs[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(subs))
	for room := range subs {
		rooms = append(rooms, room)
	}
	return rooms
}

// DropConnection removes the connection from every room it joined. Called
// exactly once, from the disconnect path, so no room ever retains a stale
// member after a socket closes. Returns the rooms that were left.
func (r *Registry) DropConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subs[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(subs))
	for room := range subs {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveLocked(connID, room)
	}
	return rooms
}

// RoomCount reports the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
