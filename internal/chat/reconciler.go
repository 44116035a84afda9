// Package chat turns user intent into optimistic local messages and
// reconciles authoritative server echoes against them by correlation id.
package chat

import (
	"log"

	"github.com/roomlink/roomlink/internal/proto"
)

// Sender is the outbound surface the reconciler needs from the channel
// manager. Send reports false on transient transport failure; the message
// stays pending and the user retries.
type Sender interface {
	Send(f *proto.Frame) bool
}

// Reconciler owns the optimistic-send and echo-reconciliation path for one
// room. A room change constructs a fresh Reconciler over a fresh Store.
type Reconciler struct {
	roomID  string
	sender  string // display name
	userID  string
	store   *Store
	send    Sender
	matcher Matcher
}

// NewReconciler creates a reconciler bound to one room. matcher may be nil,
// which selects the reference heuristic.
func NewReconciler(roomID, sender, userID string, store *Store, send Sender, matcher Matcher) *Reconciler {
	if matcher == nil {
		matcher = HeuristicMatcher{Slack: DefaultSlack}
	}
	return &Reconciler{
		roomID:  roomID,
		sender:  sender,
		userID:  userID,
		store:   store,
		send:    send,
		matcher: matcher,
	}
}

// Store returns the message store this reconciler mutates.
func (r *Reconciler) Store() *Store { return r.store }

// SendText sends a plain text message. Fire-and-forget: the local entry is
// inserted immediately and stays pending until the echo arrives. There is no
// delivery timeout; a message whose echo never arrives remains pending.
func (r *Reconciler) SendText(text string) string {
	return r.Send(text, "")
}

// Send sends a text message with an optional attachment reference and
// returns the correlation id.
func (r *Reconciler) Send(text, imageURL string) string {
	local := NewLocalMessage(r.sender, r.userID, text, imageURL)
	r.store.Insert(local)

	if !r.send.Send(proto.NewChat(r.roomID, text, local.ClientID, imageURL)) {
		// Transient: the entry stays pending, the user sees it unconfirmed
		// and can retry. Never fatal at this boundary.
		log.Printf("CHAT [%s]: send deferred, channel not open (client_id=%s)", r.roomID, local.ClientID)
	}
	return local.ClientID
}

// HandleUserMessage reconciles one inbound user_message frame.
func (r *Reconciler) HandleUserMessage(f *proto.Frame) {
	// Redundant delivery during reconnect windows: drop silently.
	if r.store.ContainsServerID(f.ID) {
		return
	}

	confirmed := FromUserFrame(f)
	confirmed.Pending = false

	// Exact correlation-id match first.
	if f.ClientID != "" {
		if r.store.Resolve(f.ClientID, confirmed) {
			return
		}
		// Correlation id names no pending entry here — either a stale echo
		// from before a reload or another client's id. Plain insert below.
	} else if id := r.matcher.Match(r.store.Pending(), f); id != "" {
		if r.store.Resolve(id, confirmed) {
			return
		}
	}

	// Message from another participant, or nothing pending matched.
	r.store.Insert(confirmed)
}

// HandleAIMessage inserts an assistant reply. Assistant frames carry no
// correlation id and never confirm a pending entry.
func (r *Reconciler) HandleAIMessage(f *proto.Frame) {
	if r.store.ContainsServerID(f.ID) {
		return
	}
	r.store.Insert(FromAIFrame(f))
}
