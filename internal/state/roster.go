// Package state tracks the participants currently present in the active
// room, derived from join/leave frames on the channel.
package state

import (
	"sync"
	"time"

	"github.com/roomlink/roomlink/internal/proto"
)

// Participant is one remote user present in the room.
type Participant struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

// RosterEvent is emitted on every roster change.
type RosterEvent struct {
	Type        string       `json:"type"` // "joined" | "left" | "reset"
	UserID      string       `json:"user_id,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
}

// Roster is the presence table for the active room. It survives channel
// reconnects — re-joins upsert rather than duplicate — and is reset on room
// change.
type Roster struct {
	selfID string

	mu           sync.Mutex
	participants map[string]Participant

	listenerMu sync.RWMutex
	listeners  map[chan RosterEvent]struct{}
}

// NewRoster creates an empty roster. selfID is filtered out: the local user
// is not their own remote participant.
func NewRoster(selfID string) *Roster {
	return &Roster{
		selfID:       selfID,
		participants: map[string]Participant{},
		listeners:    map[chan RosterEvent]struct{}{},
	}
}

// HandleJoined upserts a participant from a user_joined frame.
func (r *Roster) HandleJoined(f *proto.Frame) {
	id := f.UserID
	if id == "" || id == r.selfID {
		return
	}
	p := Participant{UserID: id, Username: f.Sender, JoinedAt: time.Now()}

	r.mu.Lock()
	if prev, ok := r.participants[id]; ok {
		p.JoinedAt = prev.JoinedAt // re-join after reconnect keeps the original time
	}
	r.participants[id] = p
	r.mu.Unlock()

	r.notify(RosterEvent{Type: "joined", UserID: id, Participant: &p})
}

// HandleLeft removes a participant from a user_left frame.
func (r *Roster) HandleLeft(f *proto.Frame) {
	id := f.UserID
	if id == "" || id == r.selfID {
		return
	}

	r.mu.Lock()
	_, ok := r.participants[id]
	delete(r.participants, id)
	r.mu.Unlock()

	if ok {
		r.notify(RosterEvent{Type: "left", UserID: id})
	}
}

// List returns the current participants.
func (r *Roster) List() []Participant {
	r.mu.Lock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	r.mu.Unlock()
	return out
}

// Contains reports whether a user is present.
func (r *Roster) Contains(userID string) bool {
	r.mu.Lock()
	_, ok := r.participants[userID]
	r.mu.Unlock()
	return ok
}

// Reset empties the roster on room change.
func (r *Roster) Reset() {
	r.mu.Lock()
	r.participants = map[string]Participant{}
	r.mu.Unlock()
	r.notify(RosterEvent{Type: "reset"})
}

// Subscribe returns a channel receiving roster events and a cancel func.
func (r *Roster) Subscribe() (ch chan RosterEvent, cancel func()) {
	ch = make(chan RosterEvent, 16)
	r.listenerMu.Lock()
	r.listeners[ch] = struct{}{}
	r.listenerMu.Unlock()

	cancel = func() {
		r.listenerMu.Lock()
		if _, ok := r.listeners[ch]; ok {
			delete(r.listeners, ch)
			close(ch)
		}
		r.listenerMu.Unlock()
	}
	return ch, cancel
}

func (r *Roster) notify(evt RosterEvent) {
	r.listenerMu.RLock()
	for ch := range r.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
	r.listenerMu.RUnlock()
}
