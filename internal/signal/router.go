// Package signal demultiplexes inbound channel frames into chat and
// call-signaling streams. Routing must never fail hard: the channel also
// carries frames this client does not yet understand, and those are logged
// and dropped.
package signal

import (
	"log"
	"time"

	"github.com/roomlink/roomlink/internal/proto"
	"github.com/roomlink/roomlink/internal/util"
)

// ChatHandler consumes chat frames (the message reconciler).
type ChatHandler interface {
	HandleUserMessage(f *proto.Frame)
	HandleAIMessage(f *proto.Frame)
}

// CallHandler consumes call-signaling frames keyed by the declared sender
// (the peer connection coordinator).
type CallHandler interface {
	HandleSignal(senderID string, f *proto.Frame)
}

// PresenceHandler consumes join/leave frames (the participant roster).
type PresenceHandler interface {
	HandleJoined(f *proto.Frame)
	HandleLeft(f *proto.Frame)
}

// AvatarHandler consumes avatar_update broadcasts (the avatar cache).
type AvatarHandler interface {
	HandleAvatar(f *proto.Frame)
}

// TraceEntry is one inbound frame as seen by the router, kept for
// diagnostics.
type TraceEntry struct {
	Type   string
	Sender string
	At     time.Time
}

// traceDepth is the number of recent frames retained.
const traceDepth = 64

// Router fans inbound frames out by type discriminator. Any handler may be
// nil, which disables that stream.
type Router struct {
	selfID   string
	chat     ChatHandler
	call     CallHandler
	presence PresenceHandler
	avatars  AvatarHandler
	trace    *util.RingBuffer[TraceEntry]
}

// New creates a router for the client identified by selfID.
func New(selfID string, chat ChatHandler, call CallHandler, presence PresenceHandler, avatars AvatarHandler) *Router {
	return &Router{
		selfID:   selfID,
		chat:     chat,
		call:     call,
		presence: presence,
		avatars:  avatars,
		trace:    util.NewRingBuffer[TraceEntry](traceDepth),
	}
}

// HandleFrame routes one inbound frame. Registered as the channel manager's
// single dispatcher; frames arrive and are processed strictly in order.
func (r *Router) HandleFrame(f *proto.Frame) {
	r.trace.Push(TraceEntry{Type: f.Type, Sender: senderOf(f), At: time.Now()})

	switch f.Type {
	case proto.TypeUserMessage:
		if r.chat != nil {
			r.chat.HandleUserMessage(f)
		}
	case proto.TypeAIMessage:
		if r.chat != nil {
			r.chat.HandleAIMessage(f)
		}

	case proto.TypeUserJoined:
		if r.presence != nil {
			r.presence.HandleJoined(f)
		}
	case proto.TypeUserLeft:
		if r.presence != nil {
			r.presence.HandleLeft(f)
		}

	case proto.TypeAvatarUpdate:
		// The room broadcasts our own avatar back to us too.
		if f.SenderUserID == r.selfID {
			return
		}
		if r.avatars != nil {
			r.avatars.HandleAvatar(f)
		}

	case proto.TypeOffer, proto.TypeAnswer, proto.TypeICECandidate,
		proto.TypeScreenShareStart, proto.TypeScreenShareStop, proto.TypeCallHangup:
		// Room-broadcast transports echo our own signaling back to us;
		// forwarding the echo would corrupt the peer connection state.
		if f.SenderUserID == r.selfID {
			return
		}
		// A frame addressed to a different participant is not ours either.
		if f.TargetUserID != "" && f.TargetUserID != r.selfID {
			return
		}
		if r.call != nil {
			r.call.HandleSignal(f.SenderUserID, f)
		}

	default:
		// Forward compatibility: unknown types are logged and dropped.
		log.Printf("SIGNAL: unrecognized frame type %q dropped", f.Type)
	}
}

// Trace returns the most recent inbound frames, oldest first.
func (r *Router) Trace() []TraceEntry {
	return r.trace.Snapshot()
}

// ResetTrace clears the trace, e.g. on room change.
func (r *Router) ResetTrace() {
	r.trace.Reset()
}

func senderOf(f *proto.Frame) string {
	if f.SenderUserID != "" {
		return f.SenderUserID
	}
	return f.UserID
}
