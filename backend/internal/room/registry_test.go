package room

import (
	"slices"
	"testing"
	"time"
)

func TestRegistry_JoinLeave(t *testing.T) {
	r := NewRegistry()
	r.Join("c1", "doc1", 1, "alice")
	r.Join("c2", "doc1", 2, "bob")

	docID, ok := r.RoomOf("c1")
	if !ok || docID != "doc1" {
		t.Fatalf("RoomOf(c1) = %q, %v, want doc1", docID, ok)
	}

	members := r.MembersOf("doc1")
	slices.Sort(members)
	if len(members) != 2 || members[0] != "c1" || members[1] != "c2" {
		t.Fatalf("MembersOf(doc1) = %v, want [c1 c2]", members)
	}

	docID, ok = r.Leave("c1")
	if !ok || docID != "doc1" {
		t.Fatalf("Leave(c1) = %q, %v, want doc1", docID, ok)
	}
	if _, ok := r.RoomOf("c1"); ok {
		t.Fatalf("RoomOf(c1) should be unbound after Leave")
	}
}

func TestRegistry_LastLeaveDestroysRoom(t *testing.T) {
	r := NewRegistry()
	r.Join("c1", "doc1", 1, "alice")
	r.Leave("c1")

	// 空房间应被销毁，而不是留下空集合
	if got := r.MembersOf("doc1"); got != nil {
		t.Fatalf("MembersOf after last leave = %v, want nil", got)
	}
	if len(r.rooms) != 0 {
		t.Fatalf("rooms map not empty: %v", r.rooms)
	}
}

func TestRegistry_RejoinSwitchesRoom(t *testing.T) {
	r := NewRegistry()
	r.Join("c1", "doc1", 1, "alice")
	// 同一连接切换文档：自动离开旧房间
	r.Join("c1", "doc2", 1, "alice")

	if got := r.MembersOf("doc1"); got != nil {
		t.Fatalf("doc1 members = %v, want nil", got)
	}
	if got := r.MembersOf("doc2"); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("doc2 members = %v, want [c1]", got)
	}
}

func TestRegistry_LeaveUnknownConn(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Leave("ghost"); ok {
		t.Fatalf("Leave(unknown) should return ok=false")
	}
}

func TestRegistry_Touch(t *testing.T) {
	r := NewRegistry()
	r.Join("c1", "doc1", 1, "alice")
	before, _ := r.PresenceOf("c1")

	time.Sleep(5 * time.Millisecond)
	r.Touch("c1")

	after, ok := r.PresenceOf("c1")
	if !ok {
		t.Fatalf("PresenceOf(c1) not found")
	}
	if !after.LastActivity.After(before.LastActivity) {
		t.Fatalf("Touch did not advance LastActivity: before=%v after=%v", before.LastActivity, after.LastActivity)
	}
	if after.UserID != 1 || after.Username != "alice" {
		t.Fatalf("presence identity changed: %+v", after)
	}
}
