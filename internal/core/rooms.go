package core

import (
	"sync"
	"time"

	"github.com/consultly/rtc-server/internal/identity"
)

// RoomKind distinguishes room lifecycles. Live rooms persist with zero
// participants (a stream stays live between viewer churn); every other
// kind is deleted when its last participant leaves.
type RoomKind string

const (
	RoomLive         RoomKind = "live"
	RoomConversation RoomKind = "conversation"
	RoomChannel      RoomKind = "channel"
)

// Participant is a connection's membership in a room.
type Participant struct {
	Identity identity.Identity
	JoinedAt time.Time
}

// RoomMeta is kind-specific metadata, applied only on first creation.
type RoomMeta struct {
	Broadcaster identity.Identity
	StartedAt   time.Time
}

type room struct {
	id           string
	kind         RoomKind
	meta         RoomMeta
	participants map[string]Participant
	emptySince   time.Time
}

// RoomInfo is an immutable snapshot of a room.
type RoomInfo struct {
	ID          string
	Kind        RoomKind
	Broadcaster identity.Identity
	StartedAt   time.Time
	Size        int
}

// Departure records one room left during a disconnect cascade.
type Departure struct {
	RoomID    string
	Kind      RoomKind
	Remaining int
}

// Rooms is the in-process room/participant registry. It carries no
// business meaning; relays layer their own rules on top. State is
// process-local cache, not a source of truth.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewRooms creates an empty registry.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*room)}
}

// GetOrCreate returns the room, creating it lazily. Metadata is applied
// only when the room does not already exist.
func (r *Rooms) GetOrCreate(id string, kind RoomKind, meta RoomMeta) RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		rm = &room{
			id:           id,
			kind:         kind,
			meta:         meta,
			participants: make(map[string]Participant),
			emptySince:   time.Now(),
		}
		r.rooms[id] = rm
	}
	return snapshot(rm)
}

// Get returns the room snapshot if it exists.
func (r *Rooms) Get(id string) (RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return RoomInfo{}, false
	}
	return snapshot(rm), true
}

// Join records the connection as a participant. It is a no-op when the
// room does not exist; the caller creates rooms explicitly.
func (r *Rooms) Join(connID, roomID string, who identity.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	rm.participants[connID] = Participant{Identity: who, JoinedAt: time.Now()}
	rm.emptySince = time.Time{}
}

// Leave removes the participant, deleting the room if it is now empty
// and its kind is not live. Returns the remaining participant count and
// whether the connection was a participant.
func (r *Rooms) Leave(connID, roomID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, roomID)
}

func (r *Rooms) leaveLocked(connID, roomID string) (int, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return 0, false
	}
	if _, in := rm.participants[connID]; !in {
		return len(rm.participants), false
	}
	delete(rm.participants, connID)
	remaining := len(rm.participants)
	if remaining == 0 {
		if rm.kind != RoomLive {
			delete(r.rooms, roomID)
		} else {
			rm.emptySince = time.Now()
		}
	}
	return remaining, true
}

// LeaveAll removes the connection from every room it participates in.
// Called once per disconnect; the departures let callers recompute and
// broadcast counts per affected room.
func (r *Rooms) LeaveAll(connID string) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []Departure
	for id, rm := range r.rooms {
		if _, in := rm.participants[connID]; !in {
			continue
		}
		remaining, _ := r.leaveLocked(connID, id)
		left = append(left, Departure{RoomID: id, Kind: rm.kind, Remaining: remaining})
	}
	return left
}

// IsParticipant is the authorization check used before in-room actions.
func (r *Rooms) IsParticipant(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, in := rm.participants[connID]
	return in
}

// ConnIDs returns the connection ids currently in the room.
func (r *Rooms) ConnIDs(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.participants))
	for id := range rm.participants {
		ids = append(ids, id)
	}
	return ids
}

// Participants returns copies of the room's participants keyed by
// connection id. The internal map is never exposed.
func (r *Rooms) Participants(roomID string) map[string]Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make(map[string]Participant, len(rm.participants))
	for id, p := range rm.participants {
		out[id] = p
	}
	return out
}

// Delete removes the room regardless of remaining participants.
func (r *Rooms) Delete(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// IdleLiveRooms returns live rooms that have had zero participants since
// before the cutoff. Used by the idle-stream reaper.
func (r *Rooms) IdleLiveRooms(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []string
	for id, rm := range r.rooms {
		if rm.kind == RoomLive && len(rm.participants) == 0 &&
			!rm.emptySince.IsZero() && rm.emptySince.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

func snapshot(rm *room) RoomInfo {
	return RoomInfo{
		ID:          rm.id,
		Kind:        rm.kind,
		Broadcaster: rm.meta.Broadcaster,
		StartedAt:   rm.meta.StartedAt,
		Size:        len(rm.participants),
	}
}
