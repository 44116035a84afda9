package state

import (
	"testing"
	"time"

	"github.com/roomlink/roomlink/internal/proto"
)

func TestJoinAndLeave(t *testing.T) {
	r := NewRoster("me")

	r.HandleJoined(&proto.Frame{Type: proto.TypeUserJoined, UserID: "u2", Sender: "bob"})
	if !r.Contains("u2") {
		t.Fatal("u2 missing after join")
	}
	list := r.List()
	if len(list) != 1 || list[0].Username != "bob" {
		t.Errorf("list = %+v, want bob", list)
	}

	r.HandleLeft(&proto.Frame{Type: proto.TypeUserLeft, UserID: "u2"})
	if r.Contains("u2") {
		t.Error("u2 still present after leave")
	}
}

func TestSelfIsFiltered(t *testing.T) {
	r := NewRoster("me")
	r.HandleJoined(&proto.Frame{Type: proto.TypeUserJoined, UserID: "me", Sender: "self"})
	if len(r.List()) != 0 {
		t.Error("local user appeared in its own roster")
	}
}

func TestRejoinKeepsOriginalJoinTime(t *testing.T) {
	r := NewRoster("me")
	r.HandleJoined(&proto.Frame{Type: proto.TypeUserJoined, UserID: "u2", Sender: "bob"})
	first := r.List()[0].JoinedAt

	time.Sleep(5 * time.Millisecond)
	// Channel reconnects re-announce presence; that must not look like a
	// fresh join.
	r.HandleJoined(&proto.Frame{Type: proto.TypeUserJoined, UserID: "u2", Sender: "bob"})

	if got := r.List()[0].JoinedAt; !got.Equal(first) {
		t.Errorf("JoinedAt changed on rejoin: %v -> %v", first, got)
	}
	if len(r.List()) != 1 {
		t.Errorf("rejoin duplicated the participant")
	}
}

func TestLeaveUnknownUserEmitsNothing(t *testing.T) {
	r := NewRoster("me")
	ch, cancel := r.Subscribe()
	defer cancel()

	r.HandleLeft(&proto.Frame{Type: proto.TypeUserLeft, UserID: "ghost"})

	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestResetEmptiesRoster(t *testing.T) {
	r := NewRoster("me")
	r.HandleJoined(&proto.Frame{Type: proto.TypeUserJoined, UserID: "u2", Sender: "bob"})
	r.HandleJoined(&proto.Frame{Type: proto.TypeUserJoined, UserID: "u3", Sender: "carol"})

	r.Reset()
	if len(r.List()) != 0 {
		t.Error("roster not empty after reset")
	}
}

func TestSubscribeSeesJoin(t *testing.T) {
	r := NewRoster("me")
	ch, cancel := r.Subscribe()
	defer cancel()

	r.HandleJoined(&proto.Frame{Type: proto.TypeUserJoined, UserID: "u2", Sender: "bob"})

	select {
	case evt := <-ch:
		if evt.Type != "joined" || evt.UserID != "u2" {
			t.Errorf("got %+v, want joined u2", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for roster event")
	}
}
