package realtime

import (
	"sort"
	"sync"
)

// member is a room subscription tied to the connection it was made under.
type member struct {
	identity Identity
	handleID string
}

// RoomIndex tracks who is listening on each room's live channel. It is
// independent of the storage layer's membership records.
type RoomIndex struct {
	mu       sync.RWMutex
	rooms    map[RoomID]map[Identity]string
	byHandle map[string]map[RoomID]Identity
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms:    make(map[RoomID]map[Identity]string),
		byHandle: make(map[string]map[RoomID]Identity),
	}
}

// Join adds id to room under connection h, creating the room entry on
// first use. A later join under a different handle replaces the old one.
func (x *RoomIndex) Join(room RoomID, id Identity, h Handle) {
	x.mu.Lock()
	defer x.mu.Unlock()

	m, ok := x.rooms[room]
	if !ok {
		m = make(map[Identity]string)
		x.rooms[room] = m
	}
	if old, ok := m[id]; ok && old != h.ID() {
		x.dropHandleRoomLocked(old, room)
	}
	m[id] = h.ID()

	hr, ok := x.byHandle[h.ID()]
	if !ok {
		hr = make(map[RoomID]Identity)
		x.byHandle[h.ID()] = hr
	}
	hr[room] = id
}

// Leave removes id from room. The room entry stays even when emptied.
func (x *RoomIndex) Leave(room RoomID, id Identity) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	m, ok := x.rooms[room]
	if !ok {
		return false
	}
	hid, ok := m[id]
	if !ok {
		return false
	}
	delete(m, id)
	x.dropHandleRoomLocked(hid, room)
	return true
}

// CascadeRemove drops every subscription made under h and returns the
// rooms it was removed from.
func (x *RoomIndex) CascadeRemove(h Handle) []RoomID {
	x.mu.Lock()
	defer x.mu.Unlock()

	hr, ok := x.byHandle[h.ID()]
	if !ok {
		return nil
	}
	delete(x.byHandle, h.ID())

	out := make([]RoomID, 0, len(hr))
	for room, id := range hr {
		if m := x.rooms[room]; m != nil && m[id] == h.ID() {
			delete(m, id)
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MembersOf returns a sorted snapshot of the identities listening on room.
func (x *RoomIndex) MembersOf(room RoomID) []Identity {
	x.mu.RLock()
	m := x.rooms[room]
	out := make([]Identity, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether id is listening on room through h.
func (x *RoomIndex) Has(room RoomID, id Identity, h Handle) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	hid, ok := x.rooms[room][id]
	return ok && hid == h.ID()
}

// Exists reports whether room has ever been joined, even if now empty.
func (x *RoomIndex) Exists(room RoomID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.rooms[room]
	return ok
}

func (x *RoomIndex) members(room RoomID) []member {
	x.mu.RLock()
	defer x.mu.RUnlock()
	m := x.rooms[room]
	out := make([]member, 0, len(m))
	for id, hid := range m {
		out = append(out, member{identity: id, handleID: hid})
	}
	return out
}

func (x *RoomIndex) dropHandleRoomLocked(handleID string, room RoomID) {
	if hr := x.byHandle[handleID]; hr != nil {
		delete(hr, room)
		if len(hr) == 0 {
			delete(x.byHandle, handleID)
		}
	}
}
