package chat

import (
	"sort"
	"sync"
)

// Event kinds emitted by the store.
const (
	EventAppend  = "append"  // one message inserted
	EventConfirm = "confirm" // a pending message was confirmed by its echo
	EventWindow  = "window"  // the whole window was replaced or shifted
)

// Event notifies subscribers of a store mutation. Message is nil for
// window-level events.
type Event struct {
	Kind    string
	Message *Message
}

// Store holds the materialized window of one room's history, ordered by
// timestamp. It is the single source of truth shared by the reconciler and
// the history pager; every mutation takes the lock and works on current
// state, so an inbound echo and a pager prepend completing back-to-back
// cannot lose updates.
//
// Invariants: no two entries share a ServerID, and at most one pending
// entry exists per ClientID.
type Store struct {
	mu       sync.RWMutex
	messages []*Message

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{listeners: map[chan Event]struct{}{}}
}

// Snapshot returns a copy of the window, oldest first.
func (s *Store) Snapshot() []*Message {
	s.mu.RLock()
	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	s.mu.RUnlock()
	return out
}

// Len returns the number of materialized messages.
func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.messages)
	s.mu.RUnlock()
	return n
}

// ConfirmedLen returns the number of materialized messages that exist on the
// server, i.e. excluding pending optimistic entries. This is the window size
// the pager accounts against the backlog's total count.
func (s *Store) ConfirmedLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if !m.Pending {
			n++
		}
	}
	return n
}

// BoundaryTimestamps returns the oldest and newest timestamps in the window.
// ok is false when the window is empty.
func (s *Store) BoundaryTimestamps() (oldest, newest int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return 0, 0, false
	}
	return s.messages[0].Timestamp, s.messages[len(s.messages)-1].Timestamp, true
}

// ContainsServerID reports whether a message with the given server id is
// already materialized.
func (s *Store) ContainsServerID(id string) bool {
	if id == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfServerID(id) >= 0
}

// Insert places m at its timestamp-ordered position. Messages with a
// ServerID already present are dropped silently: redundant delivery during
// reconnect windows must not duplicate entries.
func (s *Store) Insert(m *Message) bool {
	s.mu.Lock()
	if m.ServerID != "" && s.indexOfServerID(m.ServerID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.insertOrdered(m)
	s.mu.Unlock()
	s.notify(Event{Kind: EventAppend, Message: m})
	return true
}

// Pending returns the pending local messages, oldest first.
func (s *Store) Pending() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.messages {
		if m.Pending {
			out = append(out, m)
		}
	}
	return out
}

// Resolve removes the pending entry with the given client id and inserts the
// confirmed message in its place, as one atomic step so no snapshot ever
// shows both copies. Returns false when no pending entry matched.
func (s *Store) Resolve(clientID string, confirmed *Message) bool {
	if clientID == "" {
		return false
	}
	s.mu.Lock()
	idx := -1
	for i, m := range s.messages {
		if m.Pending && m.ClientID == clientID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	if confirmed.ServerID == "" || s.indexOfServerID(confirmed.ServerID) < 0 {
		s.insertOrdered(confirmed)
	}
	s.mu.Unlock()
	s.notify(Event{Kind: EventConfirm, Message: confirmed})
	return true
}

// ReplaceWindow discards the window and materializes msgs. Pending local
// messages survive the replace: the pager resetting the window must not
// destroy optimistic entries still awaiting their echo.
func (s *Store) ReplaceWindow(msgs []*Message) {
	s.mu.Lock()
	var pending []*Message
	for _, m := range s.messages {
		if m.Pending {
			pending = append(pending, m)
		}
	}
	s.messages = s.messages[:0]
	for _, m := range msgs {
		if m.ServerID != "" && s.indexOfServerID(m.ServerID) >= 0 {
			continue
		}
		s.insertOrdered(m)
	}
	for _, m := range pending {
		s.insertOrdered(m)
	}
	s.mu.Unlock()
	s.notify(Event{Kind: EventWindow})
}

// PrependPage inserts an older page before the current window and trims the
// newest entries down to cap. Returns the number of trimmed messages.
func (s *Store) PrependPage(page []*Message, cap int) int {
	s.mu.Lock()
	for _, m := range page {
		if m.ServerID != "" && s.indexOfServerID(m.ServerID) >= 0 {
			continue
		}
		s.insertOrdered(m)
	}
	trimmed := 0
	for len(s.messages) > cap {
		last := len(s.messages) - 1
		if s.messages[last].Pending {
			break // never trim an unconfirmed local message
		}
		s.messages = s.messages[:last]
		trimmed++
	}
	s.mu.Unlock()
	s.notify(Event{Kind: EventWindow})
	return trimmed
}

// AppendPage inserts a newer page after the current window and trims the
// oldest entries down to cap. Returns the number of trimmed messages.
func (s *Store) AppendPage(page []*Message, cap int) int {
	s.mu.Lock()
	for _, m := range page {
		if m.ServerID != "" && s.indexOfServerID(m.ServerID) >= 0 {
			continue
		}
		s.insertOrdered(m)
	}
	trimmed := 0
	for len(s.messages) > cap {
		if s.messages[0].Pending {
			break
		}
		s.messages = s.messages[1:]
		trimmed++
	}
	s.mu.Unlock()
	s.notify(Event{Kind: EventWindow})
	return trimmed
}

// Clear empties the store, pending entries included. Used on room change.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
	s.notify(Event{Kind: EventWindow})
}

// Subscribe returns a channel receiving store events and a cancel func.
func (s *Store) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 64)
	s.listenerMu.Lock()
	s.listeners[ch] = struct{}{}
	s.listenerMu.Unlock()

	cancel = func() {
		s.listenerMu.Lock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
		s.listenerMu.Unlock()
	}
	return ch, cancel
}

// indexOfServerID returns the position of the message with the given server
// id, or -1. Caller holds the lock.
func (s *Store) indexOfServerID(id string) int {
	for i, m := range s.messages {
		if m.ServerID == id {
			return i
		}
	}
	return -1
}

// insertOrdered places m at its timestamp position, after equal timestamps
// so arrival order breaks ties. Caller holds the lock.
func (s *Store) insertOrdered(m *Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Timestamp > m.Timestamp
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
}

func (s *Store) notify(evt Event) {
	s.listenerMu.RLock()
	for ch := range s.listeners {
		select {
		case ch <- evt:
		default:
			// Listener buffer full, skip
		}
	}
	s.listenerMu.RUnlock()
}
