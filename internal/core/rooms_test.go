package core

import (
	"testing"
	"time"

	"github.com/consultly/rtc-server/internal/identity"
)

func ident(kind identity.Kind, id string) identity.Identity {
	return identity.Identity{Kind: kind, ID: id}
}

func TestRoomsConversationDeletedWhenEmpty(t *testing.T) {
	rooms := NewRooms()
	rooms.GetOrCreate("conv1", RoomConversation, RoomMeta{})
	rooms.Join("c1", "conv1", ident(identity.KindCustomer, "u1"))

	if !rooms.IsParticipant("c1", "conv1") {
		t.Fatal("expected c1 to be a participant")
	}

	remaining, was := rooms.Leave("c1", "conv1")
	if !was || remaining != 0 {
		t.Fatalf("unexpected leave result: remaining=%d was=%v", remaining, was)
	}
	if _, ok := rooms.Get("conv1"); ok {
		t.Fatal("conversation room should be deleted when empty")
	}
}

func TestRoomsLivePersistsEmpty(t *testing.T) {
	rooms := NewRooms()
	rooms.GetOrCreate("s1", RoomLive, RoomMeta{Broadcaster: ident(identity.KindProvider, "p1")})
	rooms.Join("c1", "s1", ident(identity.KindCustomer, "u1"))

	rooms.Leave("c1", "s1")
	info, ok := rooms.Get("s1")
	if !ok {
		t.Fatal("live room must persist with zero participants")
	}
	if info.Size != 0 {
		t.Fatalf("expected empty room, got size %d", info.Size)
	}
}

func TestRoomsJoinAbsentRoomIsNoop(t *testing.T) {
	rooms := NewRooms()
	rooms.Join("c1", "ghost", ident(identity.KindCustomer, "u1"))

	if rooms.IsParticipant("c1", "ghost") {
		t.Fatal("join on an absent room must not create it")
	}
	if _, ok := rooms.Get("ghost"); ok {
		t.Fatal("room should not exist")
	}
}

func TestRoomsMetadataAppliedOnlyOnCreate(t *testing.T) {
	rooms := NewRooms()
	first := ident(identity.KindProvider, "p1")
	second := ident(identity.KindProvider, "p2")

	rooms.GetOrCreate("s1", RoomLive, RoomMeta{Broadcaster: first})
	info := rooms.GetOrCreate("s1", RoomLive, RoomMeta{Broadcaster: second})

	if !info.Broadcaster.Same(first) {
		t.Fatalf("metadata must only apply on first creation, got broadcaster %v", info.Broadcaster)
	}
}

func TestRoomsLeaveAllReportsDepartures(t *testing.T) {
	rooms := NewRooms()
	who := ident(identity.KindCustomer, "u1")

	rooms.GetOrCreate("conv1", RoomConversation, RoomMeta{})
	rooms.GetOrCreate("s1", RoomLive, RoomMeta{})
	rooms.Join("c1", "conv1", who)
	rooms.Join("c1", "s1", who)
	rooms.Join("c2", "s1", ident(identity.KindCustomer, "u2"))

	departures := rooms.LeaveAll("c1")
	if len(departures) != 2 {
		t.Fatalf("expected 2 departures, got %d", len(departures))
	}

	byRoom := make(map[string]Departure)
	for _, d := range departures {
		byRoom[d.RoomID] = d
	}
	if d := byRoom["s1"]; d.Kind != RoomLive || d.Remaining != 1 {
		t.Fatalf("unexpected live departure: %+v", d)
	}
	if d := byRoom["conv1"]; d.Kind != RoomConversation || d.Remaining != 0 {
		t.Fatalf("unexpected conversation departure: %+v", d)
	}

	// Second disconnect pass finds nothing.
	if again := rooms.LeaveAll("c1"); len(again) != 0 {
		t.Fatalf("expected no departures, got %d", len(again))
	}
}

func TestRoomsIdleLiveRooms(t *testing.T) {
	rooms := NewRooms()
	rooms.GetOrCreate("s1", RoomLive, RoomMeta{})
	rooms.GetOrCreate("s2", RoomLive, RoomMeta{})
	rooms.Join("c1", "s2", ident(identity.KindCustomer, "u1"))

	idle := rooms.IdleLiveRooms(time.Now().Add(time.Second))
	if len(idle) != 1 || idle[0] != "s1" {
		t.Fatalf("expected only s1 idle, got %v", idle)
	}
}
