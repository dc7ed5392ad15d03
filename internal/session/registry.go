// Package session tracks which connections are viewing which document.
package session

import (
	"sync"

	"collabnotes/api/internal/auth"
	"collabnotes/api/internal/protocol"
)

// Member is one connection attached to a document room.
type Member interface {
	ID() string
	Identity() *auth.Identity
	// Deliver must not block.
	Deliver(event protocol.ServerEvent) bool
}

// Registry holds one room per document with at least one member. A room is
// created on first join and discarded when its last member leaves.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	members map[string]Member
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds member to the room for documentID and notifies every member of
// the new count. Joining twice with the same connection id is a no-op apart
// from the notification.
func (r *Registry) Join(documentID string, member Member) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[documentID]
	if !ok {
		rm = &room{members: make(map[string]Member)}
		r.rooms[documentID] = rm
	}
	rm.members[member.ID()] = member

	count := len(rm.members)
	rm.deliver(protocol.MembersChanged(documentID, count), "")
	return count
}

// Leave removes the connection. When the room empties it is discarded and
// no notification is sent.
func (r *Registry) Leave(documentID, connectionID string) (count int, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[documentID]
	if !ok {
		return 0, false
	}
	if _, ok := rm.members[connectionID]; !ok {
		return len(rm.members), false
	}
	delete(rm.members, connectionID)

	count = len(rm.members)
	if count == 0 {
		delete(r.rooms, documentID)
		return 0, true
	}
	rm.deliver(protocol.MembersChanged(documentID, count), "")
	return count, false
}

// BroadcastTo delivers event to every member except excludeID and returns how
// many members accepted it.
func (r *Registry) BroadcastTo(documentID string, event protocol.ServerEvent, excludeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[documentID]
	if !ok {
		return 0
	}
	return rm.deliver(event, excludeID)
}

func (r *Registry) Count(documentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[documentID]; ok {
		return len(rm.members)
	}
	return 0
}

// Rooms returns the member count of every live room.
func (r *Registry) Rooms() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.rooms))
	for id, rm := range r.rooms {
		out[id] = len(rm.members)
	}
	return out
}

func (rm *room) deliver(event protocol.ServerEvent, excludeID string) int {
	delivered := 0
	for id, member := range rm.members {
		if id == excludeID {
			continue
		}
		if member.Deliver(event) {
			delivered++
		}
	}
	return delivered
}
