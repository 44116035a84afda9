// Package call owns one native peer connection per remote participant and
// drives the offer/answer/ICE state machine over the room channel. It
// mirrors the channel manager's retry policy: a failed connection is
// surfaced, never silently retried — recovery is the user's forced offer.
package call

import (
	"log"
	"sync"

	"github.com/roomlink/roomlink/internal/proto"
)

// Signaler is the outbound surface the coordinator needs from the channel
// layer. Send reports false on transient failure; signaling frames are not
// re-sent, the negotiation simply stalls until the user retries.
type Signaler interface {
	Send(f *proto.Frame) bool
}

// Manager coordinates peer entries for one room.
type Manager struct {
	roomID string
	selfID string
	sig    Signaler
	media  Media

	mu      sync.RWMutex
	entries map[string]*Entry

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}
}

// New creates a coordinator for one room. A room change closes the old
// coordinator and constructs a fresh one.
func New(roomID, selfID string, sig Signaler, media Media) *Manager {
	return &Manager{
		roomID:    roomID,
		selfID:    selfID,
		sig:       sig,
		media:     media,
		entries:   make(map[string]*Entry),
		listeners: map[chan Event]struct{}{},
	}
}

// StartCall initiates a call with a participant: fresh entry (or reuse of
// an idle one), offer flow.
func (m *Manager) StartCall(participantID string) error {
	e := m.ensureEntry(participantID)
	return e.startOffer()
}

// ForceOffer is the user's manual retry: it tears down whatever connection
// exists for the participant and renegotiates from scratch.
func (m *Manager) ForceOffer(participantID string) error {
	e := m.ensureEntry(participantID)
	log.Printf("CALL [%s]: forced offer to %s", m.roomID, participantID)
	return e.startOffer()
}

// EndCall hangs up the call with a participant and tells the remote side.
func (m *Manager) EndCall(participantID string) {
	m.mu.Lock()
	e, ok := m.entries[participantID]
	delete(m.entries, participantID)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.sig.Send(proto.NewSignal(proto.TypeCallHangup, m.roomID, m.selfID, participantID))
	e.close()
}

// StartScreenShare swaps the outbound video for display capture on the
// existing sender.
func (m *Manager) StartScreenShare(participantID string) error {
	if e, ok := m.entry(participantID); ok {
		return e.startScreenShare()
	}
	return errNoEntry(participantID)
}

// StopScreenShare restores the camera track.
func (m *Manager) StopScreenShare(participantID string) error {
	if e, ok := m.entry(participantID); ok {
		return e.stopScreenShare()
	}
	return errNoEntry(participantID)
}

// SetAudioMuted pauses or resumes outbound audio to a participant.
func (m *Manager) SetAudioMuted(participantID string, muted bool) error {
	if e, ok := m.entry(participantID); ok {
		return e.setAudioMuted(muted)
	}
	return errNoEntry(participantID)
}

// HandleSignal routes one inbound call-signaling frame, keyed by the
// declared sender. The router has already rejected self-echoes and frames
// addressed to other participants.
func (m *Manager) HandleSignal(senderID string, f *proto.Frame) {
	if senderID == "" {
		log.Printf("CALL [%s]: signaling frame %q without sender dropped", m.roomID, f.Type)
		return
	}

	switch f.Type {
	case proto.TypeOffer:
		// An offer may name a participant with no existing entry yet.
		m.ensureEntry(senderID).handleOffer(f)

	case proto.TypeAnswer:
		if e, ok := m.entry(senderID); ok {
			e.handleAnswer(f)
		} else {
			log.Printf("CALL [%s]: answer from unknown %s dropped", m.roomID, senderID)
		}

	case proto.TypeICECandidate:
		// Candidates can legitimately precede the offer; the entry queues
		// them until the remote description lands.
		m.ensureEntry(senderID).addCandidate(f)

	case proto.TypeScreenShareStart:
		m.notify(Event{Kind: EventRemoteScreenShare, ParticipantID: senderID, Sharing: true})

	case proto.TypeScreenShareStop:
		m.notify(Event{Kind: EventRemoteScreenShare, ParticipantID: senderID, Sharing: false})

	case proto.TypeCallHangup:
		m.mu.Lock()
		e, ok := m.entries[senderID]
		delete(m.entries, senderID)
		m.mu.Unlock()
		if ok {
			e.close()
		}
	}
}

// EntryState returns the negotiation state for a participant.
func (m *Manager) EntryState(participantID string) (State, bool) {
	if e, ok := m.entry(participantID); ok {
		return e.State(), true
	}
	return StateClosed, false
}

// Status returns diagnostic snapshots of all entries.
func (m *Manager) Status() []EntryStatus {
	m.mu.RLock()
	out := make([]EntryStatus, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Status())
	}
	m.mu.RUnlock()
	return out
}

// Subscribe returns a channel receiving call events and a cancel func.
func (m *Manager) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 32)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel = func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

// Close hangs up every entry and drops subscribers. Called on room change
// and teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.close()
	}

	m.listenerMu.Lock()
	for ch := range m.listeners {
		close(ch)
	}
	m.listeners = map[chan Event]struct{}{}
	m.listenerMu.Unlock()
}

func (m *Manager) entry(participantID string) (*Entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[participantID]
	m.mu.RUnlock()
	return e, ok
}

func (m *Manager) ensureEntry(participantID string) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[participantID]; ok {
		return e
	}
	e := newEntry(participantID, m)
	m.entries[participantID] = e
	return e
}

func (m *Manager) notify(evt Event) {
	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
	m.listenerMu.RUnlock()
}

type noEntryError string

func (e noEntryError) Error() string { return "no call entry for participant " + string(e) }

func errNoEntry(participantID string) error { return noEntryError(participantID) }
