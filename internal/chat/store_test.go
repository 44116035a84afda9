package chat

import (
	"fmt"
	"testing"
)

func confirmed(id string, ts int64, text string) *Message {
	return &Message{ServerID: id, Sender: "alice", Text: text, Timestamp: ts}
}

func TestInsertOrdersByTimestamp(t *testing.T) {
	s := NewStore()
	s.Insert(confirmed("m2", 200, "second"))
	s.Insert(confirmed("m1", 100, "first"))
	s.Insert(confirmed("m3", 300, "third"))

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if snap[i].ServerID != want {
			t.Errorf("snap[%d] = %s, want %s", i, snap[i].ServerID, want)
		}
	}
}

func TestInsertDropsDuplicateServerID(t *testing.T) {
	s := NewStore()
	if !s.Insert(confirmed("m1", 100, "hello")) {
		t.Fatal("first insert rejected")
	}
	if s.Insert(confirmed("m1", 100, "hello")) {
		t.Error("duplicate server id accepted")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestResolveReplacesPendingAtomically(t *testing.T) {
	s := NewStore()
	local := NewLocalMessage("alice", "u1", "hello", "")
	s.Insert(local)

	echo := confirmed("srv-1", local.Timestamp+10, "hello")
	echo.ClientID = local.ClientID
	if !s.Resolve(local.ClientID, echo) {
		t.Fatal("resolve failed")
	}

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len = %d, want 1 (no duplicate after confirm)", len(snap))
	}
	if snap[0].ServerID != "srv-1" || snap[0].Pending {
		t.Errorf("got %+v, want confirmed srv-1", snap[0])
	}
}

func TestResolveUnknownClientID(t *testing.T) {
	s := NewStore()
	if s.Resolve("nope", confirmed("srv-1", 100, "x")) {
		t.Error("resolve matched a nonexistent pending entry")
	}
}

func TestReplaceWindowPreservesPending(t *testing.T) {
	s := NewStore()
	s.Insert(confirmed("m1", 100, "old"))
	local := NewLocalMessage("alice", "u1", "in flight", "")
	s.Insert(local)

	s.ReplaceWindow([]*Message{confirmed("m5", 500, "a"), confirmed("m6", 600, "b")})

	found := false
	for _, m := range s.Snapshot() {
		if m.ClientID == local.ClientID && m.Pending {
			found = true
		}
		if m.ServerID == "m1" {
			t.Error("replaced message m1 survived")
		}
	}
	if !found {
		t.Error("pending message lost across window replace")
	}
}

func TestPrependPageTrimsNewestToCap(t *testing.T) {
	s := NewStore()
	for i := 5; i < 10; i++ {
		s.Insert(confirmed(fmt.Sprintf("m%d", i), int64(i*100), "x"))
	}

	var page []*Message
	for i := 0; i < 5; i++ {
		page = append(page, confirmed(fmt.Sprintf("m%d", i), int64(i*100), "x"))
	}
	trimmed := s.PrependPage(page, 6)

	if trimmed != 4 {
		t.Errorf("trimmed = %d, want 4", trimmed)
	}
	snap := s.Snapshot()
	if len(snap) != 6 {
		t.Fatalf("len = %d, want 6", len(snap))
	}
	if snap[0].ServerID != "m0" || snap[5].ServerID != "m5" {
		t.Errorf("window = [%s..%s], want [m0..m5]", snap[0].ServerID, snap[5].ServerID)
	}
}

func TestAppendPageTrimsOldestButNeverPending(t *testing.T) {
	s := NewStore()
	local := NewLocalMessage("alice", "u1", "keep me", "")
	local.Timestamp = 50 // older than everything else
	s.Insert(local)
	for i := 0; i < 5; i++ {
		s.Insert(confirmed(fmt.Sprintf("m%d", i), int64(100+i*100), "x"))
	}

	page := []*Message{confirmed("m9", 900, "x"), confirmed("m10", 1000, "x")}
	s.AppendPage(page, 4)

	snap := s.Snapshot()
	if snap[0].ClientID != local.ClientID {
		t.Error("pending message was trimmed from the window")
	}
}

func TestConfirmedLenExcludesPending(t *testing.T) {
	s := NewStore()
	s.Insert(confirmed("m1", 100, "x"))
	s.Insert(NewLocalMessage("alice", "u1", "pending", ""))

	if got := s.ConfirmedLen(); got != 1 {
		t.Errorf("ConfirmedLen = %d, want 1", got)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Insert(confirmed("m1", 100, "x"))

	evt := <-ch
	if evt.Kind != EventAppend || evt.Message.ServerID != "m1" {
		t.Errorf("got %+v, want append of m1", evt)
	}
}
