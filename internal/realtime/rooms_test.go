package realtime

import "testing"

func TestRoomJoinLeave(t *testing.T) {
	x := NewRoomIndex()
	a, b := newFake("a1"), newFake("b1")

	x.Join("g1", "alice", a)
	x.Join("g1", "bob", b)
	x.Join("g1", "alice", a)

	if got := x.MembersOf("g1"); !sameIdentities(got, "alice", "bob") {
		t.Fatalf("members = %v", got)
	}
	if !x.Leave("g1", "alice") {
		t.Fatal("leave reported no-op")
	}
	if x.Leave("g1", "alice") {
		t.Fatal("second leave reported removal")
	}
	if got := x.MembersOf("g1"); !sameIdentities(got, "bob") {
		t.Fatalf("members = %v", got)
	}
}

func TestRoomLeaveUnknown(t *testing.T) {
	x := NewRoomIndex()
	if x.Leave("nope", "alice") {
		t.Fatal("leave on unknown room reported removal")
	}
	if got := x.MembersOf("nope"); len(got) != 0 {
		t.Fatalf("members = %v", got)
	}
}

func TestRoomEmptiedRoomPersists(t *testing.T) {
	x := NewRoomIndex()
	x.Join("g1", "alice", newFake("a1"))
	x.Leave("g1", "alice")

	if !x.Exists("g1") {
		t.Fatal("emptied room entry was dropped")
	}
	if got := x.MembersOf("g1"); len(got) != 0 {
		t.Fatalf("members = %v", got)
	}
}

func TestRoomCascadeRemove(t *testing.T) {
	x := NewRoomIndex()
	a, b := newFake("a1"), newFake("b1")
	x.Join("g2", "alice", a)
	x.Join("g1", "alice", a)
	x.Join("g1", "bob", b)

	rooms := x.CascadeRemove(a)
	if len(rooms) != 2 || rooms[0] != "g1" || rooms[1] != "g2" {
		t.Fatalf("cascade rooms = %v", rooms)
	}
	if got := x.MembersOf("g1"); !sameIdentities(got, "bob") {
		t.Fatalf("g1 members = %v", got)
	}
	if got := x.MembersOf("g2"); len(got) != 0 {
		t.Fatalf("g2 members = %v", got)
	}
	if rooms := x.CascadeRemove(a); len(rooms) != 0 {
		t.Fatalf("second cascade = %v", rooms)
	}
}

func TestRoomCascadeKeepsNewerHandle(t *testing.T) {
	x := NewRoomIndex()
	old, cur := newFake("a1"), newFake("a2")
	x.Join("g1", "alice", old)
	x.Join("g1", "alice", cur)

	if rooms := x.CascadeRemove(old); len(rooms) != 0 {
		t.Fatalf("old handle cascade removed %v", rooms)
	}
	if !x.Has("g1", "alice", cur) {
		t.Fatal("newer subscription lost")
	}
	if x.Has("g1", "alice", old) {
		t.Fatal("old subscription still reported")
	}
}
