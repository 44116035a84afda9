// Package avatar carries the display hints the rendering layer needs to
// animate a participant's avatar, plus the speech collaborator interfaces.
// Rendering and synthesis live outside this module; this package only
// defines the boundary types and fans hints out to subscribers.
package avatar

import "sync"

// Mouth trigger values for viseme-style animation.
const (
	MouthIdle = "idle"
	MouthOpen = "open"
	MouthWide = "wide"
)

// Hint is one animation update for a participant's avatar.
type Hint struct {
	UserID       string `json:"user_id"`
	IsTalking    bool   `json:"is_talking"`
	Emotion      string `json:"emotion,omitempty"` // free-form, passed through to the renderer
	MouthTrigger string `json:"mouth_trigger,omitempty"`
}

// Feed fans avatar hints out to subscribers. Slow subscribers drop hints
// rather than stall the publisher; a missed mouth frame is invisible, a
// stalled channel read is not.
type Feed struct {
	mu        sync.RWMutex
	listeners map[chan Hint]struct{}

	stateMu sync.Mutex
	talking map[string]bool
}

// NewFeed creates an empty hint feed.
func NewFeed() *Feed {
	return &Feed{
		listeners: map[chan Hint]struct{}{},
		talking:   map[string]bool{},
	}
}

// Publish sends a hint to all subscribers.
func (f *Feed) Publish(h Hint) {
	f.stateMu.Lock()
	f.talking[h.UserID] = h.IsTalking
	f.stateMu.Unlock()

	f.mu.RLock()
	for ch := range f.listeners {
		select {
		case ch <- h:
		default:
		}
	}
	f.mu.RUnlock()
}

// IsTalking reports the last published talking state for a participant.
func (f *Feed) IsTalking(userID string) bool {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.talking[userID]
}

// Subscribe returns a channel receiving hints and a cancel func.
func (f *Feed) Subscribe() (ch chan Hint, cancel func()) {
	ch = make(chan Hint, 64)
	f.mu.Lock()
	f.listeners[ch] = struct{}{}
	f.mu.Unlock()

	cancel = func() {
		f.mu.Lock()
		if _, ok := f.listeners[ch]; ok {
			delete(f.listeners, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}
