// Package proto defines the wire shapes carried on a room channel.
// One JSON object per frame, discriminated by the "type" field. Signaling
// payloads (SDP, ICE) stay opaque here — only internal/call interprets them.
package proto

import (
	"encoding/json"
	"time"
)

// Frame types carried on the channel.
const (
	// Control frames (outbound only).
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"

	// Chat frames.
	TypeChatMessage = "chat_message" // outbound user text
	TypeUserMessage = "user_message" // inbound echo / other participants
	TypeAIMessage   = "ai_message"   // inbound assistant reply

	// Presence frames.
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"

	// Avatar exchange.
	TypeAvatarUpdate = "avatar_update"

	// Call signaling frames.
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice_candidate"
	TypeScreenShareStart = "screen_share_start"
	TypeScreenShareStop  = "screen_share_stop"
	TypeCallHangup       = "call_hangup"
)

// Frame is a single channel message. Fields are populated per type; unknown
// inbound types must be dropped by the router, never rejected, so the same
// channel can carry frames this client does not yet understand.
type Frame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	ID     string `json:"id,omitempty"` // server-assigned message id, when present

	// Chat fields.
	Message   string `json:"message,omitempty"`
	ClientID  string `json:"client_id,omitempty"` // correlation id for echo matching
	Sender    string `json:"sender,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix millis
	ImageURL  string `json:"imageUrl,omitempty"`

	// Assistant reply fields.
	AIName     string `json:"ai_name,omitempty"`
	Questioner string `json:"questioner_username,omitempty"`

	// Signaling addressing.
	SenderUserID string `json:"senderUserId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`

	// Avatar exchange: the image as base64 PNG plus its content hash.
	Avatar     string `json:"avatar,omitempty"`
	AvatarHash string `json:"avatar_hash,omitempty"`

	// Opaque signaling payloads, decoded by internal/call.
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// IsSignaling reports whether the frame negotiates a peer connection rather
// than carrying chat content.
func (f *Frame) IsSignaling() bool {
	switch f.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate,
		TypeScreenShareStart, TypeScreenShareStop, TypeCallHangup:
		return true
	}
	return false
}

// NewJoin builds a join_room control frame.
func NewJoin(roomID string) *Frame {
	return &Frame{Type: TypeJoinRoom, RoomID: roomID}
}

// NewLeave builds a leave_room control frame.
func NewLeave(roomID string) *Frame {
	return &Frame{Type: TypeLeaveRoom, RoomID: roomID}
}

// NewChat builds an outbound chat_message frame carrying the correlation id.
func NewChat(roomID, text, clientID, imageURL string) *Frame {
	return &Frame{
		Type:      TypeChatMessage,
		RoomID:    roomID,
		Message:   text,
		ClientID:  clientID,
		ImageURL:  imageURL,
		Timestamp: NowMillis(),
	}
}

// NewAvatarUpdate builds a broadcast frame carrying the sender's avatar.
func NewAvatarUpdate(roomID, senderID, b64PNG, hash string) *Frame {
	return &Frame{
		Type:         TypeAvatarUpdate,
		RoomID:       roomID,
		SenderUserID: senderID,
		Avatar:       b64PNG,
		AvatarHash:   hash,
	}
}

// NewSignal builds a signaling frame addressed from sender to target.
func NewSignal(frameType, roomID, senderID, targetID string) *Frame {
	return &Frame{
		Type:         frameType,
		RoomID:       roomID,
		SenderUserID: senderID,
		TargetUserID: targetID,
	}
}

func NowMillis() int64 { return time.Now().UnixMilli() }
