// File: internal/session/rooms.go
// Author: momentics <momentics@gmail.com>
//
// Room membership. A connection listens to at most one room at a time.

package session

import (
	"sort"
	"sync"
)

// DefaultRoom is joined by /join without an argument.
const DefaultRoom = "lobby"

// Rooms tracks which connections are in which room.
type Rooms struct {
	mu       sync.RWMutex
	members  map[string]map[int]struct{}
	memberOf map[int]string
}

func NewRooms() *Rooms {
	return &Rooms{
		members:  make(map[string]map[int]struct{}),
		memberOf: make(map[int]string),
	}
}

// Join moves id into room, leaving its previous room. It returns the
// previous room, or "".
func (r *Rooms) Join(id int, room string) string {
	if room == "" {
		room = DefaultRoom
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.leaveLocked(id)
	set, ok := r.members[room]
	if !ok {
		set = make(map[int]struct{})
		r.members[room] = set
	}
	set[id] = struct{}{}
	r.memberOf[id] = room
	return prev
}

// Leave removes id from its room.
func (r *Rooms) Leave(id int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.leaveLocked(id)
	return room, room != ""
}

// Remove drops id from one specific room; used to evict dead members.
func (r *Rooms) Remove(room string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memberOf[id] == room {
		r.leaveLocked(id)
	}
}

func (r *Rooms) leaveLocked(id int) string {
	room, ok := r.memberOf[id]
	if !ok {
		return ""
	}
	delete(r.memberOf, id)
	if set := r.members[room]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.members, room)
		}
	}
	return room
}

// RoomOf returns the room id listens to.
func (r *Rooms) RoomOf(id int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.memberOf[id]
	return room, ok
}

// Members returns a sorted snapshot of room's member ids.
func (r *Rooms) Members(room string) []int {
	r.mu.RLock()
	set := r.members[room]
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Ints(out)
	return out
}

// Count returns the number of members in room.
func (r *Rooms) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[room])
}

// List returns room names with their member counts.
func (r *Rooms) List() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.members))
	for name, set := range r.members {
		out[name] = len(set)
	}
	return out
}
